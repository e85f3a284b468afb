package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	gormlogger "gorm.io/gorm/logger"

	"enquiry-service/internal/bucketing"
	"enquiry-service/internal/client"
	"enquiry-service/internal/config"
	"enquiry-service/internal/events"
	"enquiry-service/internal/hashing"
	"enquiry-service/internal/models"
	"enquiry-service/internal/notify"
	"enquiry-service/internal/repository/memory"
	"enquiry-service/internal/repository/postgres"
)

const managerEmail = "manager@example.com"

type sentCode struct {
	phone, code string
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []sentCode
	err  error
}

func (f *fakeSMS) SendCode(_ context.Context, phone, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentCode{phone, code})
	return nil
}

func (f *fakeSMS) last(t *testing.T) sentCode {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no SMS sent")
	}
	return f.sent[len(f.sent)-1]
}

type stubMailer struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (m *stubMailer) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *stubMailer) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, msg := range m.sent {
		out[i] = msg.To
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) ofType(eventType string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeIndex struct {
	mu      sync.Mutex
	ids     []string
	err     error
	indexed []string
	deleted []string
}

func (f *fakeIndex) Index(_ context.Context, e *models.Enquiry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, e.ID)
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIndex) SearchIDs(context.Context, string) ([]string, error) {
	return f.ids, f.err
}

type harness struct {
	store      *memory.OTPStore
	repo       *postgres.EnquiryRepository
	sms        *fakeSMS
	mailer     *stubMailer
	sink       *recordingSink
	dispatcher *notify.Dispatcher
	otp        *OTPService
	enquiries  *EnquiryService
	clock      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := client.OpenDatabase(config.DatabaseConfig{
		Driver:       "sqlite",
		URL:          fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
	}, logger, gormlogger.Silent)
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	h := &harness{
		store:  memory.NewOTPStore(),
		repo:   postgres.NewEnquiryRepository(db.DB),
		sms:    &fakeSMS{},
		mailer: &stubMailer{},
		sink:   &recordingSink{},
		clock:  time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	h.dispatcher = notify.NewDispatcher(h.mailer, config.NotificationConfig{
		ManagerEmail: managerEmail,
		CompanyName:  "Acme",
	}, time.Second, logger)

	t.Cleanup(func() {
		h.dispatcher.Wait()
		_ = db.Close()
	})

	hasher := hashing.NewHasherWithParams(hashing.Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1, KeyLength: 32}, "pepper")
	factory := NewServiceFactory(Dependencies{
		OTPStore:        h.store,
		Enquiries:       h.repo,
		Hasher:          hasher,
		Fingerprinter:   bucketing.NewFingerprinter(),
		SMS:             h.sms,
		Notifier:        h.dispatcher,
		Events:          h.sink,
		OTPTTL:          10 * time.Minute,
		DeliveryTimeout: time.Second,
	}, logger)

	h.otp = factory.OTPService()
	h.enquiries = factory.EnquiryService()
	h.otp.now = h.now
	h.enquiries.now = h.now
	return h
}

func (h *harness) now() time.Time { return h.clock }

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

// issue sends a code to phone and returns it
func (h *harness) issue(t *testing.T, phone string) string {
	t.Helper()
	if _, err := h.otp.IssueOTP(context.Background(), phone); err != nil {
		t.Fatalf("IssueOTP: %v", err)
	}
	return h.sms.last(t).code
}

func (h *harness) request(phone, code, subject string) SubmitRequest {
	return SubmitRequest{
		Name:    "Asha Rao",
		Email:   "Asha@Example.com",
		Phone:   phone,
		Subject: subject,
		Message: "Please call me back",
		OTP:     code,
	}
}

func (h *harness) seed(t *testing.T, name, status string, at time.Time) *models.Enquiry {
	t.Helper()
	e := &models.Enquiry{
		Name:      name,
		Email:     strings.ToLower(name) + "@example.com",
		Phone:     "+91000",
		Subject:   "Subject " + name,
		Message:   "message from " + name,
		Status:    status,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := h.repo.Create(context.Background(), e); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return e
}
