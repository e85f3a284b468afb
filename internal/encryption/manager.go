package encryption

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"enquiry-service/internal/config"
	"enquiry-service/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"
)

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrKMSDisabled      = errors.New("kms is disabled")
)

// KMSAPI is the subset of the KMS client used to unwrap secrets
type KMSAPI interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// Manager resolves secrets that are stored as KMS ciphertext in the
// environment and caches the plaintext for the life of the process.
type Manager struct {
	kmsClient KMSAPI
	config    *config.Config
	cache     sync.Map
}

func NewManager(cfg *config.Config, kmsClient KMSAPI) *Manager {
	return &Manager{
		kmsClient: kmsClient,
		config:    cfg,
	}
}

// NewKMSClient loads the default AWS credential chain for the configured region
func NewKMSClient(ctx context.Context, cfg *config.Config) (*kms.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return kms.NewFromConfig(awsCfg), nil
}

// ResolvePepper returns OTP_PEPPER when set, otherwise the KMS-decrypted
// OTP_PEPPER_CIPHERTEXT. An empty string means neither is configured.
func (m *Manager) ResolvePepper(ctx context.Context) (string, error) {
	if m.config.Hashing.Pepper != "" {
		return m.config.Hashing.Pepper, nil
	}
	if m.config.Hashing.PepperCiphertext == "" {
		return "", nil
	}
	return m.Decrypt(ctx, m.config.Hashing.PepperCiphertext)
}

// Decrypt unwraps a base64 KMS ciphertext blob
func (m *Manager) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	if cached, ok := m.cache.Load(ciphertext); ok {
		return cached.(string), nil
	}
	if !m.config.KMS.Enabled || m.kmsClient == nil {
		return "", ErrKMSDisabled
	}

	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext encoding", ErrDecryptionFailed)
	}

	input := &kms.DecryptInput{CiphertextBlob: blob}
	if m.config.KMS.KeyID != "" {
		input.KeyId = aws.String(m.config.KMS.KeyID)
	}

	result, err := m.kmsClient.Decrypt(ctx, input)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	plaintext := string(result.Plaintext)
	m.cache.Store(ciphertext, plaintext)

	util.Info("Secret decrypted with KMS", zap.String("key_id", m.config.KMS.KeyID))
	return plaintext, nil
}

// ClearCache drops every cached plaintext
func (m *Manager) ClearCache() {
	m.cache.Range(func(key, _ interface{}) bool {
		m.cache.Delete(key)
		return true
	})
}
