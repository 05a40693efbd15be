package config

type WorkerKeyStruct struct {
	PersistRetryQueue      string
	PersistDeadLetterQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistRetryQueue:      "persist_retry_queue",
	PersistDeadLetterQueue: "persist_dead_letter_queue",
}
