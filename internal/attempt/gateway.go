package attempt

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

// Gateway durably upserts attempt state. Every call must be safe to repeat
// with the same record identity.
type Gateway interface {
	SaveAttempt(ctx context.Context, a *model.Attempt) error
	SaveResponse(ctx context.Context, r *model.Response) error
	SaveViolation(ctx context.Context, v *model.Violation) error
}

// ViolationBatchSaver is an optional Gateway extension that writes many
// violations in one round trip.
type ViolationBatchSaver interface {
	SaveViolations(ctx context.Context, vs []*model.Violation) error
}

// Journal mirrors in-progress answers so an interrupted attempt can be resumed,
// and marks attempts that completed so they are never resumed.
type Journal interface {
	SaveDraft(ctx context.Context, attemptID, questionID uuid.UUID, text string) error
	Clear(ctx context.Context, attemptID uuid.UUID) error
	MarkCompleted(ctx context.Context, a *model.Attempt) error
}

// ViolationPublisher pushes closed violations to live observers.
type ViolationPublisher interface {
	PublishViolation(ctx context.Context, v *model.Violation) error
}

// WriteKind names the record type of a FailedWrite.
type WriteKind string

const (
	WriteAttempt   WriteKind = "attempt"
	WriteResponse  WriteKind = "response"
	WriteViolation WriteKind = "violation"
)

// FailedWrite is a record the gateway could not store. Exactly one of the
// record pointers is set, matching Kind.
type FailedWrite struct {
	Kind      WriteKind        `json:"kind"`
	Attempt   *model.Attempt   `json:"attempt,omitempty"`
	Response  *model.Response  `json:"response,omitempty"`
	Violation *model.Violation `json:"violation,omitempty"`
	Reason    string           `json:"reason"`
	Retries   int              `json:"retries"`
}

// RecordID returns the identity of the record carried by the write.
func (f *FailedWrite) RecordID() uuid.UUID {
	switch {
	case f.Attempt != nil:
		return f.Attempt.ID
	case f.Response != nil:
		return f.Response.ID
	case f.Violation != nil:
		return f.Violation.ID
	}
	return uuid.Nil
}

// Replay sends the carried record to the gateway again.
func (f *FailedWrite) Replay(ctx context.Context, gw Gateway) error {
	switch f.Kind {
	case WriteAttempt:
		return gw.SaveAttempt(ctx, f.Attempt)
	case WriteResponse:
		return gw.SaveResponse(ctx, f.Response)
	case WriteViolation:
		return gw.SaveViolation(ctx, f.Violation)
	}
	return nil
}

// FailureSink queues failed writes for a later retry.
type FailureSink interface {
	Enqueue(ctx context.Context, f FailedWrite) error
}
