package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"enquiry-service/internal/models"
	"enquiry-service/internal/repository"
	"enquiry-service/internal/util"
)

// cqlRunner is the part of ScyllaClient the OTP store needs
type cqlRunner interface {
	Exec(ctx context.Context, stmt string, values ...interface{}) error
	Scan(ctx context.Context, stmt string, values []interface{}, dest ...interface{}) error
	ExecCAS(ctx context.Context, stmt string, values ...interface{}) (bool, error)
	HealthCheck(ctx context.Context) error
}

// OTPStore keeps codes in ScyllaDB. Rows carry a TTL for eviction and are
// consumed with a lightweight transaction conditioned on expires_at.
type OTPStore struct {
	cql        cqlRunner
	statements Statements
	now        func() time.Time
}

func NewOTPStore(client *ScyllaClient) *OTPStore {
	return newOTPStore(client, client.Statements)
}

func newOTPStore(cql cqlRunner, statements Statements) *OTPStore {
	return &OTPStore{cql: cql, statements: statements, now: time.Now}
}

func (s *OTPStore) Save(ctx context.Context, record *models.OTPRecord) error {
	now := s.now()
	ttl := int(record.ExpiresAt.Sub(now).Seconds()) + 1
	if ttl <= 1 {
		return nil
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = now.UTC()
	}

	err := s.cql.Exec(ctx, s.statements.InsertOTP,
		record.Phone, record.CodeKey, record.ExpiresAt, createdAt, ttl)
	if err != nil {
		util.Error("Failed to store OTP in Scylla", util.Phone(record.Phone), zap.Error(err))
		return fmt.Errorf("failed to store OTP: %w", err)
	}
	return nil
}

func (s *OTPStore) Find(ctx context.Context, phone, codeKey string, now time.Time) (*models.OTPRecord, error) {
	record := &models.OTPRecord{Phone: phone, CodeKey: codeKey}

	err := s.cql.Scan(ctx, s.statements.SelectOTP, []interface{}{phone, codeKey},
		&record.ExpiresAt, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrOTPNotFound
		}
		return nil, fmt.Errorf("failed to read OTP: %w", err)
	}

	if !record.IsValidAt(now) {
		return nil, repository.ErrOTPNotFound
	}
	return record, nil
}

// Consume deletes the row only while it is unexpired; of two concurrent
// callers only one sees the transaction applied
func (s *OTPStore) Consume(ctx context.Context, phone, codeKey string, now time.Time) (bool, error) {
	applied, err := s.cql.ExecCAS(ctx, s.statements.ConsumeOTP, phone, codeKey, now)
	if err != nil {
		return false, fmt.Errorf("failed to consume OTP: %w", err)
	}
	return applied, nil
}

func (s *OTPStore) HealthCheck(ctx context.Context) error {
	return s.cql.HealthCheck(ctx)
}
