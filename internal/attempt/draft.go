package attempt

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// draftWriter autosaves answers to the journal off the session lock. Pending
// drafts coalesce per question, so the journal always ends on the latest text.
type draftWriter struct {
	journal   Journal
	attemptID uuid.UUID
	log       zerolog.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]string
	started bool
	closed  bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newDraftWriter(j Journal, attemptID uuid.UUID, log zerolog.Logger) *draftWriter {
	return &draftWriter{
		journal:   j,
		attemptID: attemptID,
		log:       log,
		pending:   make(map[uuid.UUID]string),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Put queues text as the draft for questionID. It never blocks on the journal.
func (w *draftWriter) Put(questionID uuid.UUID, text string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.pending[questionID] = text
	if !w.started {
		w.started = true
		go w.run()
	}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Close stops the writer and waits for an in-flight write. Drafts still
// pending are dropped.
func (w *draftWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	started := w.started
	w.pending = nil
	w.mu.Unlock()

	close(w.stop)
	if started {
		<-w.done
	}
}

func (w *draftWriter) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-w.wake:
			if !w.flush() {
				return
			}
		}
	}
}

// flush writes everything pending. It reports false once the writer is stopped.
func (w *draftWriter) flush() bool {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[uuid.UUID]string)
	w.mu.Unlock()

	for qid, text := range batch {
		select {
		case <-w.stop:
			return false
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		err := w.journal.SaveDraft(ctx, w.attemptID, qid, text)
		cancel()
		if err != nil {
			w.log.Warn().Err(err).Str("question_id", qid.String()).Msg("Autosave failed")
		}
	}
	return true
}
