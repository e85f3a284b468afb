package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"enquiry-service/internal/config"
	"enquiry-service/internal/models"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []Message
	fail map[string]error
	ctxs []context.Context
}

func (r *recordingMailer) Send(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctxs = append(r.ctxs, ctx)
	if err := r.fail[msg.To]; err != nil {
		return err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingMailer) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

func testNotification() config.NotificationConfig {
	return config.NotificationConfig{
		ManagerEmail: "manager@example.com",
		CompanyName:  "Leela Micro Controller",
		DashboardURL: "http://localhost:5173/dashboard",
		SupportEmail: "support@leelamicro.com",
	}
}

func testEnquiry() *models.Enquiry {
	return &models.Enquiry{
		ID:        "e1",
		Name:      "Asha <b>",
		Email:     "asha@example.com",
		Phone:     "+919876543210",
		Subject:   "Bulk order of ATmega328 boards for a university lab",
		Message:   "<script>alert(1)</script>",
		Status:    models.StatusNew,
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestOTPMessage(t *testing.T) {
	got := OTPMessage("Leela Micro Controller", "123456", 10)
	want := "Your Leela Micro Controller verification code is: 123456. Valid for 10 minutes."
	if got != want {
		t.Fatalf("OTPMessage = %q, want %q", got, want)
	}
}

func TestManagerSubject(t *testing.T) {
	long := strings.Repeat("é", 60)
	got := ManagerSubject(long)
	want := "📢 NEW ENQUIRY: " + strings.Repeat("é", 50) + "..."
	if got != want {
		t.Fatalf("ManagerSubject = %q, want %q", got, want)
	}
	if got := ManagerSubject("Hi"); got != "📢 NEW ENQUIRY: Hi..." {
		t.Fatalf("short subject = %q", got)
	}
}

func TestTemplatesEscapeInput(t *testing.T) {
	e := testEnquiry()
	html, err := RenderManagerAlert(ManagerAlertData{
		ID: e.ID, Name: e.Name, Email: e.Email, Phone: e.Phone,
		Subject: e.Subject, Message: e.Message, CompanyName: "Leela",
	})
	if err != nil {
		t.Fatalf("RenderManagerAlert: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Fatal("message rendered without escaping")
	}
	if !strings.Contains(html, "&lt;script&gt;") {
		t.Fatal("escaped message missing")
	}
	if !strings.Contains(html, "mailto:asha@example.com?subject=Re%3A%20Bulk") {
		t.Fatalf("reply link missing from alert")
	}

	html, err = RenderThankYou(ThankYouData{Name: e.Name, CompanyName: "Leela", Year: 2024})
	if err != nil {
		t.Fatalf("RenderThankYou: %v", err)
	}
	if !strings.Contains(html, "Thank You, Asha &lt;b&gt;!") {
		t.Fatal("name not escaped in thank-you mail")
	}
}

func TestNotifyEnquirySendsBothMails(t *testing.T) {
	mailer := &recordingMailer{}
	d := NewDispatcher(mailer, testNotification(), time.Second, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	d.NotifyEnquiry(ctx, testEnquiry())
	cancel()
	d.Wait()

	sent := mailer.messages()
	if len(sent) != 2 {
		t.Fatalf("sent %d mails, want 2", len(sent))
	}
	recipients := map[string]Message{}
	for _, m := range sent {
		recipients[m.To] = m
	}
	if m, ok := recipients["asha@example.com"]; !ok || m.Subject != "Thank You for Your Enquiry - Leela Micro Controller" {
		t.Fatalf("thank-you mail = %+v", m)
	}
	if m, ok := recipients["manager@example.com"]; !ok || !strings.HasPrefix(m.Subject, "📢 NEW ENQUIRY: Bulk order") {
		t.Fatalf("manager mail = %+v", m)
	}

	for _, c := range mailer.ctxs {
		if _, ok := c.Deadline(); !ok {
			t.Fatal("mail task ran without a deadline")
		}
	}
}

func TestNotifyEnquiryFailuresAreIndependent(t *testing.T) {
	mailer := &recordingMailer{fail: map[string]error{"asha@example.com": errors.New("mailbox full")}}
	d := NewDispatcher(mailer, testNotification(), time.Second, zaptest.NewLogger(t))

	d.NotifyEnquiry(context.Background(), testEnquiry())
	d.Wait()

	sent := mailer.messages()
	if len(sent) != 1 || sent[0].To != "manager@example.com" {
		t.Fatalf("sent = %+v, want only the manager alert", sent)
	}
}

func TestNotifyEnquiryWithoutManager(t *testing.T) {
	mailer := &recordingMailer{}
	n := testNotification()
	n.ManagerEmail = ""
	d := NewDispatcher(mailer, n, time.Second, zaptest.NewLogger(t))

	d.NotifyEnquiry(context.Background(), testEnquiry())
	d.Wait()

	if sent := mailer.messages(); len(sent) != 1 {
		t.Fatalf("sent %d mails, want 1", len(sent))
	}
}

func TestGoRecoversPanics(t *testing.T) {
	d := NewDispatcher(&recordingMailer{}, testNotification(), time.Second, zaptest.NewLogger(t))
	d.Go(context.Background(), "explode", func(context.Context) error {
		panic("boom")
	})
	if !d.WaitTimeout(time.Second) {
		t.Fatal("task did not finish")
	}
}

func TestConsoleImplementations(t *testing.T) {
	logger := zaptest.NewLogger(t)
	if err := NewConsoleSender(logger).SendCode(context.Background(), "+911", "123456"); err != nil {
		t.Fatalf("ConsoleSender: %v", err)
	}
	if err := NewConsoleMailer(logger).Send(context.Background(), Message{To: "a@b.c"}); err != nil {
		t.Fatalf("ConsoleMailer: %v", err)
	}
}

func TestTwilioMessageAddressing(t *testing.T) {
	logger := zaptest.NewLogger(t)
	tests := []struct {
		name     string
		opts     []TwilioOption
		from, to string
	}{
		{"sms", nil, "+15550001111", "+919876543210"},
		{"whatsapp", []TwilioOption{WithWhatsApp()}, "whatsapp:+15550001111", "whatsapp:+919876543210"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := NewTwilioSender("AC1", "token", "+15550001111", "Acme", 10, logger, tt.opts...)
			params := sender.messageParams("+919876543210", "123456")
			if *params.From != tt.from || *params.To != tt.to {
				t.Fatalf("from %q to %q, want %q to %q", *params.From, *params.To, tt.from, tt.to)
			}
			if *params.Body != OTPMessage("Acme", "123456", 10) {
				t.Fatalf("body = %q", *params.Body)
			}
		})
	}

	sender := NewTwilioSender("AC1", "token", "whatsapp:+15550001111", "Acme", 10, logger, WithWhatsApp())
	if got := *sender.messageParams("+91", "1").From; got != "whatsapp:+15550001111" {
		t.Fatalf("prefixed sender doubled: %q", got)
	}
}
