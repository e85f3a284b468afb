package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	TypeOTPIssued         = "otp.issued"
	TypeOTPDeliveryFailed = "otp.delivery_failed"
	TypeEnquirySubmitted  = "enquiry.submitted"
	TypeEnquiryUpdated    = "enquiry.updated"
	TypeEnquiryDeleted    = "enquiry.deleted"
)

// Event is an audit record of something the service did. Phone numbers are
// masked before they reach an Event.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurredAt"`
	EnquiryID  string            `json:"enquiryId,omitempty"`
	Phone      string            `json:"phone,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func New(eventType string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: at.UTC(),
	}
}

// Key is the partitioning key: the enquiry when known, otherwise the phone
func (e Event) Key() string {
	if e.EnquiryID != "" {
		return e.EnquiryID
	}
	return e.Phone
}

type Sink interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Multi fans an event out to every sink and joins their errors
type Multi []Sink

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, sink := range m {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
