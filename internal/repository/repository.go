package repository

import (
	"context"
	"errors"
	"time"

	"enquiry-service/internal/models"
)

var (
	ErrOTPNotFound     = errors.New("otp not found")
	ErrEnquiryNotFound = errors.New("enquiry not found")
)

// OTPStore persists outstanding one-time passcodes. Records are keyed by
// (phone, codeKey) and only match while now is before ExpiresAt.
type OTPStore interface {
	Save(ctx context.Context, record *models.OTPRecord) error
	// Find returns the live record for the pair without consuming it
	Find(ctx context.Context, phone, codeKey string, now time.Time) (*models.OTPRecord, error)
	// Consume atomically deletes the live record and reports whether this
	// caller was the one that removed it
	Consume(ctx context.Context, phone, codeKey string, now time.Time) (bool, error)
	HealthCheck(ctx context.Context) error
}

// ListQuery describes one dashboard page
type ListQuery struct {
	Status string
	Search string
	// IDs restricts the page to these enquiries; used when full-text search
	// is answered by the search index. A non-nil empty slice matches nothing.
	IDs        []string
	SortField  string
	Descending bool
	Offset     int
	Limit      int
}

// EnquiryUpdate carries the optional dashboard changes
type EnquiryUpdate struct {
	Status *string
	Note   *string
	At     time.Time
}

type EnquiryRepository interface {
	Create(ctx context.Context, enquiry *models.Enquiry) error
	// HasRecentDuplicate reports whether an enquiry with the same normalized
	// email, phone and subject was created at or after since
	HasRecentDuplicate(ctx context.Context, dedupKey, email, phone, subject string, since time.Time) (bool, error)
	List(ctx context.Context, q ListQuery) ([]models.Enquiry, error)
	Count(ctx context.Context, q ListQuery) (int64, error)
	CountByStatus(ctx context.Context, status string) (int64, error)
	GetByID(ctx context.Context, id string) (*models.Enquiry, error)
	Update(ctx context.Context, id string, update EnquiryUpdate) (*models.Enquiry, error)
	Delete(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error
}
