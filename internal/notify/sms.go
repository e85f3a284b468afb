package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"enquiry-service/internal/util"
)

// SMSSender delivers a verification code to a phone number
type SMSSender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// OTPMessage renders the SMS body for a code
func OTPMessage(companyName, code string, validMinutes int) string {
	return fmt.Sprintf("Your %s verification code is: %s. Valid for %d minutes.", companyName, code, validMinutes)
}

const (
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"

	whatsAppPrefix = "whatsapp:"
)

// TwilioSender sends codes through the Twilio Messages API, as plain SMS
// or over WhatsApp
type TwilioSender struct {
	client       *twilio.RestClient
	from         string
	channel      string
	companyName  string
	validMinutes int
	logger       *zap.Logger
}

type TwilioOption func(*TwilioSender)

// WithWhatsApp delivers codes as WhatsApp messages from a WhatsApp-enabled
// Twilio sender
func WithWhatsApp() TwilioOption {
	return func(t *TwilioSender) {
		t.channel = ChannelWhatsApp
	}
}

func NewTwilioSender(accountSID, authToken, from, companyName string, validMinutes int, logger *zap.Logger, opts ...TwilioOption) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	sender := &TwilioSender{
		client:       client,
		from:         from,
		channel:      ChannelSMS,
		companyName:  companyName,
		validMinutes: validMinutes,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(sender)
	}
	return sender
}

func (t *TwilioSender) address(number string) string {
	if t.channel == ChannelWhatsApp && !strings.HasPrefix(number, whatsAppPrefix) {
		return whatsAppPrefix + number
	}
	return number
}

func (t *TwilioSender) messageParams(phone, code string) *twilioApi.CreateMessageParams {
	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(t.address(t.from))
	params.SetTo(t.address(phone))
	params.SetBody(OTPMessage(t.companyName, code, t.validMinutes))
	return params
}

// SendCode returns when Twilio answers or ctx is done, whichever comes first
func (t *TwilioSender) SendCode(ctx context.Context, phone, code string) error {
	params := t.messageParams(phone, code)

	type result struct {
		sid string
		err error
	}
	done := make(chan result, 1)

	go func() {
		resp, err := t.client.Api.CreateMessage(params)
		if err != nil {
			done <- result{err: err}
			return
		}
		sid := ""
		if resp.Sid != nil {
			sid = *resp.Sid
		}
		done <- result{sid: sid}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("twilio request abandoned: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			t.logger.Error("Failed to send OTP", util.Phone(phone), zap.String("channel", t.channel), zap.Error(r.err))
			return fmt.Errorf("twilio: %w", r.err)
		}
		t.logger.Info("OTP sent", util.Phone(phone), zap.String("channel", t.channel), zap.String("sid", r.sid))
		return nil
	}
}

// ConsoleSender logs codes instead of sending them. Used when Twilio is
// not configured.
type ConsoleSender struct {
	logger *zap.Logger
}

func NewConsoleSender(logger *zap.Logger) *ConsoleSender {
	return &ConsoleSender{logger: logger}
}

func (c *ConsoleSender) SendCode(_ context.Context, phone, code string) error {
	c.logger.Warn("SMS delivery not configured, logging OTP instead",
		zap.String("phone", phone),
		zap.String("otp", code))
	return nil
}
