package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"enquiry-service/internal/events"
	"enquiry-service/internal/models"
	"enquiry-service/internal/notify"
	"enquiry-service/internal/repository"
	"enquiry-service/internal/util"
)

const (
	codeMin   = 100000
	codeRange = 900000
)

// OTPService issues one-time passcodes over SMS
type OTPService struct {
	store           repository.OTPStore
	hasher          CodeHasher
	sender          notify.SMSSender
	events          publisher
	ttl             time.Duration
	deliveryTimeout time.Duration
	logger          *zap.Logger
	now             func() time.Time
}

// IssueResult describes an outstanding code without revealing it
type IssueResult struct {
	Phone     string    `json:"phone"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func NewOTPService(
	store repository.OTPStore,
	hasher CodeHasher,
	sender notify.SMSSender,
	notifier Notifier,
	sink events.Sink,
	ttl time.Duration,
	deliveryTimeout time.Duration,
	logger *zap.Logger,
) *OTPService {
	return &OTPService{
		store:           store,
		hasher:          hasher,
		sender:          sender,
		events:          publisher{sink: sink, notifier: notifier},
		ttl:             ttl,
		deliveryTimeout: deliveryTimeout,
		logger:          logger,
		now:             time.Now,
	}
}

// GenerateCode returns a uniformly random six-digit code
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// IssueOTP stores a fresh code for phone and sends it by SMS. The record is
// kept even when delivery fails; it simply expires.
func (s *OTPService) IssueOTP(ctx context.Context, phone string) (*IssueResult, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, newValidationError("Phone number is required", "phone")
	}
	phone = NormalizePhone(phone)

	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	record := &models.OTPRecord{
		Phone:     phone,
		CodeKey:   s.hasher.LookupKey(phone, code),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.store.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store OTP: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
	defer cancel()

	start := time.Now()
	if err := s.sender.SendCode(sendCtx, phone, code); err != nil {
		s.logger.Error("OTP delivery failed",
			util.Phone(phone),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))

		event := events.New(events.TypeOTPDeliveryFailed, now)
		event.Phone = phone
		s.events.publish(ctx, event)

		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	s.logger.Info("OTP issued",
		util.Phone(phone),
		zap.Time("expires_at", record.ExpiresAt),
		zap.Duration("elapsed", time.Since(start)))

	event := events.New(events.TypeOTPIssued, now)
	event.Phone = phone
	s.events.publish(ctx, event)

	return &IssueResult{Phone: phone, ExpiresAt: record.ExpiresAt}, nil
}
