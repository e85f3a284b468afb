package service

import (
	"context"

	"enquiry-service/internal/events"
	"enquiry-service/internal/models"
	"enquiry-service/internal/util"
)

// Notifier runs work that must not hold up a request
type Notifier interface {
	Go(ctx context.Context, name string, task func(ctx context.Context) error)
	NotifyEnquiry(ctx context.Context, enquiry *models.Enquiry)
}

// CodeHasher derives the stored lookup key for a (phone, code) pair
type CodeHasher interface {
	LookupKey(phone, code string) string
}

// SearchIndex answers dashboard search and mirrors enquiry changes
type SearchIndex interface {
	Index(ctx context.Context, enquiry *models.Enquiry) error
	Delete(ctx context.Context, id string) error
	SearchIDs(ctx context.Context, term string) ([]string, error)
}

// publisher hands events to the sink on the notifier's goroutines
type publisher struct {
	sink     events.Sink
	notifier Notifier
}

func (p publisher) publish(ctx context.Context, event events.Event) {
	if p.sink == nil {
		return
	}
	if event.Phone != "" {
		event.Phone = util.MaskPhone(event.Phone, true)
	}
	p.notifier.Go(ctx, "event."+event.Type, func(ctx context.Context) error {
		return p.sink.Publish(ctx, event)
	})
}
