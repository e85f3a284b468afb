package memory

import (
	"context"
	"sync"
	"time"

	"enquiry-service/internal/models"
	"enquiry-service/internal/repository"
)

type otpKey struct {
	phone   string
	codeKey string
}

// OTPStore keeps outstanding codes in process memory. It is used for local
// development and tests; records do not survive a restart.
type OTPStore struct {
	records map[otpKey]models.OTPRecord
	mu      sync.Mutex
}

func NewOTPStore() *OTPStore {
	return &OTPStore{
		records: make(map[otpKey]models.OTPRecord),
	}
}

func (s *OTPStore) Save(_ context.Context, record *models.OTPRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[otpKey{record.Phone, record.CodeKey}] = *record
	return nil
}

func (s *OTPStore) Find(_ context.Context, phone, codeKey string, now time.Time) (*models.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[otpKey{phone, codeKey}]
	if !ok || !record.IsValidAt(now) {
		return nil, repository.ErrOTPNotFound
	}
	return &record, nil
}

func (s *OTPStore) Consume(_ context.Context, phone, codeKey string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := otpKey{phone, codeKey}
	record, ok := s.records[key]
	if !ok || !record.IsValidAt(now) {
		return false, nil
	}
	delete(s.records, key)
	return true, nil
}

// Purge drops records that expired before now and returns how many were removed
func (s *OTPStore) Purge(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, record := range s.records {
		if !record.IsValidAt(now) {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored records, expired ones included
func (s *OTPStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *OTPStore) HealthCheck(context.Context) error {
	return nil
}
