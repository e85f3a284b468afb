package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"enquiry-service/internal/config"
	"enquiry-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

var ErrEmptyPepper = errors.New("hashing pepper is empty")

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
}

// Hasher derives deterministic lookup keys for OTP codes so the store can
// match (phone, code) pairs without holding the code in clear text.
type Hasher struct {
	params Argon2Params
	pepper string
}

// NewHasher builds a hasher from the configured argon2 cost parameters.
// An empty pepper is only accepted outside production, in which case a
// random one is generated for the lifetime of the process.
func NewHasher(cfg *config.Config, pepper string) (*Hasher, error) {
	params := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		KeyLength:   32,
	}

	if pepper == "" {
		if cfg.IsProduction() {
			return nil, ErrEmptyPepper
		}
		generated, err := randomPepper()
		if err != nil {
			return nil, err
		}
		util.Warn("OTP_PEPPER not set, using an ephemeral pepper")
		pepper = generated
	}

	return NewHasherWithParams(params, pepper), nil
}

func NewHasherWithParams(params Argon2Params, pepper string) *Hasher {
	return &Hasher{
		params: params,
		pepper: pepper,
	}
}

func randomPepper() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate pepper: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// LookupKey returns the argon2id digest of code, salted per phone number
func (h *Hasher) LookupKey(phone, code string) string {
	salt := sha256.Sum256([]byte(h.pepper + "|" + phone))
	key := argon2.IDKey(
		[]byte(code+h.pepper+"otp"),
		salt[:],
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)
	return base64.RawURLEncoding.EncodeToString(key)
}

// Benchmark measures how long n lookup keys take with the current parameters
func (h *Hasher) Benchmark(n int) time.Duration {
	start := time.Now()
	for i := 0; i < n; i++ {
		h.LookupKey("+910000000000", fmt.Sprintf("%06d", i))
	}
	elapsed := time.Since(start)
	util.Debug("argon2 lookup benchmark",
		zap.Int("iterations", n),
		zap.Duration("elapsed", elapsed),
	)
	return elapsed
}
