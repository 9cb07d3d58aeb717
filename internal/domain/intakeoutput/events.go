package intakeoutput

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ChangeAction names the ledger mutation behind a BucketChanged event.
type ChangeAction string

const (
	ActionWrite  ChangeAction = "write"
	ActionDelete ChangeAction = "delete"
	ActionClear  ChangeAction = "clear"
)

// BucketChanged is emitted after a ledger mutation has been committed.
// CategoryID and Hour are unset for clear.
type BucketChanged struct {
	ID         uuid.UUID    `json:"id"`
	Action     ChangeAction `json:"action"`
	PatientID  uuid.UUID    `json:"patient_id"`
	Date       Date         `json:"date"`
	CategoryID string       `json:"category_id,omitempty"`
	Hour       *int         `json:"hour,omitempty"`
	Entry      *Entry       `json:"entry,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// RoutingKey is the topic the event is published under.
func (e BucketChanged) RoutingKey() string {
	return "intake_output." + string(e.Action)
}

// Publisher fans ledger changes out to other systems.
type Publisher interface {
	PublishBucketChanged(ctx context.Context, evt BucketChanged) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, evt BucketChanged) error

func (f PublisherFunc) PublishBucketChanged(ctx context.Context, evt BucketChanged) error {
	return f(ctx, evt)
}

func newBucketChanged(action ChangeAction, key FlowsheetKey) BucketChanged {
	return BucketChanged{
		ID:         uuid.New(),
		Action:     action,
		PatientID:  key.PatientID,
		Date:       key.Date,
		OccurredAt: time.Now().UTC(),
	}
}

// MultiPublisher publishes to every publisher in order. All are attempted;
// the returned error joins their failures.
type MultiPublisher []Publisher

func (m MultiPublisher) PublishBucketChanged(ctx context.Context, evt BucketChanged) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishBucketChanged(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
