package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"enquiry-service/internal/client"
	"enquiry-service/internal/models"
	"enquiry-service/internal/repository"
	"enquiry-service/internal/util"
)

const otpPrefix = "otp:"

// consumeScript deletes the key only while its stored expiry is in the
// future, so two concurrent submissions cannot both consume one code.
var consumeScript = goredis.NewScript(`
local expires = redis.call('GET', KEYS[1])
if not expires then
	return 0
end
if tonumber(expires) <= tonumber(ARGV[1]) then
	return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

// OTPStore keeps one key per outstanding code. The value is the expiry in
// unix milliseconds; the key TTL only evicts stale rows.
type OTPStore struct {
	client *client.RedisClient
}

func NewOTPStore(client *client.RedisClient) *OTPStore {
	return &OTPStore{client: client}
}

func otpKey(phone, codeKey string) string {
	return otpPrefix + phone + ":" + codeKey
}

func (s *OTPStore) Save(ctx context.Context, record *models.OTPRecord) error {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	value := strconv.FormatInt(record.ExpiresAt.UnixMilli(), 10)
	if err := s.client.Set(ctx, otpKey(record.Phone, record.CodeKey), value, ttl); err != nil {
		util.Error("Failed to store OTP in Redis", util.Phone(record.Phone), zap.Error(err))
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	util.Debug("OTP stored in Redis", util.Phone(record.Phone), zap.Duration("ttl", ttl))
	return nil
}

func (s *OTPStore) Find(ctx context.Context, phone, codeKey string, now time.Time) (*models.OTPRecord, error) {
	value, err := s.client.Get(ctx, otpKey(phone, codeKey))
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, repository.ErrOTPNotFound
		}
		return nil, fmt.Errorf("failed to read OTP: %w", err)
	}

	millis, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OTP expiry %q: %w", value, err)
	}

	record := &models.OTPRecord{
		Phone:     phone,
		CodeKey:   codeKey,
		ExpiresAt: time.UnixMilli(millis),
	}
	if !record.IsValidAt(now) {
		return nil, repository.ErrOTPNotFound
	}
	return record, nil
}

func (s *OTPStore) Consume(ctx context.Context, phone, codeKey string, now time.Time) (bool, error) {
	result, err := s.client.RunScript(ctx, consumeScript, []string{otpKey(phone, codeKey)}, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to consume OTP: %w", err)
	}

	consumed, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected consume result %T", result)
	}
	return consumed == 1, nil
}

func (s *OTPStore) HealthCheck(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}
