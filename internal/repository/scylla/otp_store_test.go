package scylla

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gocql/gocql"

	"enquiry-service/internal/models"
	"enquiry-service/internal/repository"
)

type otpRow struct {
	expiresAt, createdAt time.Time
	ttl                  int
}

type executed struct {
	stmt   string
	values []interface{}
}

// fakeCQL keeps otp_codes rows in memory and applies the conditional delete
// the way Scylla's lightweight transactions do: under one lock
type fakeCQL struct {
	mu    sync.Mutex
	rows  map[string]otpRow
	calls []executed
	err   error
}

func newFakeCQL() *fakeCQL {
	return &fakeCQL{rows: make(map[string]otpRow)}
}

func rowKey(phone, codeKey interface{}) string {
	return phone.(string) + "|" + codeKey.(string)
}

func (f *fakeCQL) record(stmt string, values []interface{}) {
	f.calls = append(f.calls, executed{stmt, values})
}

func (f *fakeCQL) Exec(_ context.Context, stmt string, values ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(stmt, values)
	if f.err != nil {
		return f.err
	}
	f.rows[rowKey(values[0], values[1])] = otpRow{
		expiresAt: values[2].(time.Time),
		createdAt: values[3].(time.Time),
		ttl:       values[4].(int),
	}
	return nil
}

func (f *fakeCQL) Scan(_ context.Context, stmt string, values []interface{}, dest ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(stmt, values)
	if f.err != nil {
		return f.err
	}
	row, ok := f.rows[rowKey(values[0], values[1])]
	if !ok {
		return gocql.ErrNotFound
	}
	*dest[0].(*time.Time) = row.expiresAt
	*dest[1].(*time.Time) = row.createdAt
	return nil
}

func (f *fakeCQL) ExecCAS(_ context.Context, stmt string, values ...interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(stmt, values)
	if f.err != nil {
		return false, f.err
	}
	key := rowKey(values[0], values[1])
	row, ok := f.rows[key]
	if !ok || !row.expiresAt.After(values[2].(time.Time)) {
		return false, nil
	}
	delete(f.rows, key)
	return true, nil
}

func (f *fakeCQL) HealthCheck(context.Context) error { return f.err }

func (f *fakeCQL) last() executed {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(cql *fakeCQL) *OTPStore {
	s := newOTPStore(cql, otpStatements)
	s.now = func() time.Time { return base }
	return s
}

func save(t *testing.T, s *OTPStore, phone, key string, ttl time.Duration) {
	t.Helper()
	err := s.Save(context.Background(), &models.OTPRecord{
		Phone:     phone,
		CodeKey:   key,
		ExpiresAt: base.Add(ttl),
		CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestSaveWritesRowWithTTL(t *testing.T) {
	cql := newFakeCQL()
	s := newTestStore(cql)

	save(t, s, "+919876543210", "k1", 10*time.Minute)

	call := cql.last()
	if call.stmt != otpStatements.InsertOTP {
		t.Fatalf("stmt = %q", call.stmt)
	}
	if ttl := call.values[4].(int); ttl != 601 {
		t.Fatalf("ttl = %d, want 601", ttl)
	}
}

func TestSaveSkipsExpiredRecord(t *testing.T) {
	cql := newFakeCQL()
	s := newTestStore(cql)

	save(t, s, "+919876543210", "k1", -time.Second)
	if len(cql.calls) != 0 {
		t.Fatalf("expired record written: %+v", cql.calls)
	}
}

func TestFindMapsMissingAndExpired(t *testing.T) {
	cql := newFakeCQL()
	s := newTestStore(cql)
	ctx := context.Background()
	save(t, s, "+919876543210", "k1", 10*time.Minute)

	if _, err := s.Find(ctx, "+919876543210", "other", base); !errors.Is(err, repository.ErrOTPNotFound) {
		t.Fatalf("missing row: err = %v", err)
	}
	rec, err := s.Find(ctx, "+919876543210", "k1", base.Add(time.Minute))
	if err != nil || !rec.ExpiresAt.Equal(base.Add(10*time.Minute)) {
		t.Fatalf("Find = %+v, %v", rec, err)
	}
	if _, err := s.Find(ctx, "+919876543210", "k1", base.Add(10*time.Minute)); !errors.Is(err, repository.ErrOTPNotFound) {
		t.Fatalf("row at expiry: err = %v", err)
	}
}

func TestConsumeIsConditionalOnExpiry(t *testing.T) {
	if !strings.Contains(otpStatements.ConsumeOTP, "IF expires_at > ?") {
		t.Fatalf("consume statement is not a conditional delete: %q", otpStatements.ConsumeOTP)
	}

	cql := newFakeCQL()
	s := newTestStore(cql)
	ctx := context.Background()
	save(t, s, "+919876543210", "live", 10*time.Minute)
	save(t, s, "+919876543210", "stale", time.Minute)

	now := base.Add(2 * time.Minute)
	ok, err := s.Consume(ctx, "+919876543210", "stale", now)
	if err != nil || ok {
		t.Fatalf("expired consume = %v, %v", ok, err)
	}

	ok, err = s.Consume(ctx, "+919876543210", "live", now)
	if err != nil || !ok {
		t.Fatalf("first consume = %v, %v", ok, err)
	}
	call := cql.last()
	if call.stmt != otpStatements.ConsumeOTP || !call.values[2].(time.Time).Equal(now) {
		t.Fatalf("consume call = %+v", call)
	}

	ok, err = s.Consume(ctx, "+919876543210", "live", now)
	if err != nil || ok {
		t.Fatalf("second consume = %v, %v", ok, err)
	}
}

func TestConcurrentConsumeAppliesOnce(t *testing.T) {
	cql := newFakeCQL()
	s := newTestStore(cql)
	save(t, s, "+919876543210", "k1", 10*time.Minute)

	var wg sync.WaitGroup
	results := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Consume(context.Background(), "+919876543210", "k1", base)
			if err != nil {
				t.Errorf("Consume: %v", err)
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	applied := 0
	for ok := range results {
		if ok {
			applied++
		}
	}
	if applied != 1 {
		t.Fatalf("applied = %d, want 1", applied)
	}
}

func TestErrorsAreWrapped(t *testing.T) {
	cql := newFakeCQL()
	cql.err = errors.New("no hosts available")
	s := newTestStore(cql)
	ctx := context.Background()

	if _, err := s.Consume(ctx, "+919876543210", "k1", base); err == nil || !strings.Contains(err.Error(), "failed to consume OTP") {
		t.Fatalf("Consume err = %v", err)
	}
	if _, err := s.Find(ctx, "+919876543210", "k1", base); err == nil || errors.Is(err, repository.ErrOTPNotFound) {
		t.Fatalf("Find err = %v", err)
	}
	if err := s.Save(ctx, &models.OTPRecord{Phone: "+91", CodeKey: "k", ExpiresAt: base.Add(time.Minute)}); !errors.Is(err, cql.err) {
		t.Fatalf("Save err = %v", err)
	}
}
