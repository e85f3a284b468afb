package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"enquiry-service/internal/config"
	"enquiry-service/internal/models"
)

// Dispatcher runs side effects that must not hold up a request: mail,
// event publishing and search indexing. Each task runs on its own
// goroutine, detached from the caller's cancellation and bounded by the
// delivery timeout. Failures are logged and never retried.
type Dispatcher struct {
	mailer       Mailer
	notification config.NotificationConfig
	timeout      time.Duration
	logger       *zap.Logger
	now          func() time.Time
	wg           sync.WaitGroup
}

func NewDispatcher(mailer Mailer, notification config.NotificationConfig, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		mailer:       mailer,
		notification: notification,
		timeout:      timeout,
		logger:       logger,
		now:          time.Now,
	}
}

// Go starts task in the background
func (d *Dispatcher) Go(ctx context.Context, name string, task func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("Background task panicked", zap.String("task", name), zap.Any("panic", r))
			}
		}()

		taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		start := time.Now()
		if err := task(taskCtx); err != nil {
			d.logger.Error("Background task failed",
				zap.String("task", name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
			return
		}
		d.logger.Debug("Background task finished",
			zap.String("task", name),
			zap.Duration("elapsed", time.Since(start)))
	}()
}

// Wait blocks until every started task has returned
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// WaitTimeout waits for running tasks up to timeout and reports whether
// they all finished
func (d *Dispatcher) WaitTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// NotifyEnquiry sends the thank-you mail to the submitter and the alert to
// the manager as two independent tasks
func (d *Dispatcher) NotifyEnquiry(ctx context.Context, enquiry *models.Enquiry) {
	company := d.notification.CompanyName

	d.Go(ctx, "mail.thank_you", func(ctx context.Context) error {
		html, err := RenderThankYou(ThankYouData{
			Name:         enquiry.Name,
			CompanyName:  company,
			SupportEmail: d.notification.SupportEmail,
			SupportPhone: d.notification.SupportPhone,
			Year:         d.now().Year(),
		})
		if err != nil {
			return err
		}
		return d.mailer.Send(ctx, Message{
			FromName: company,
			To:       enquiry.Email,
			Subject:  ThankYouSubject(company),
			HTML:     html,
		})
	})

	if d.notification.ManagerEmail == "" {
		d.logger.Warn("MANAGER_EMAIL not set, skipping manager notification",
			zap.String("enquiry_id", enquiry.ID))
		return
	}

	d.Go(ctx, "mail.manager_alert", func(ctx context.Context) error {
		html, err := RenderManagerAlert(ManagerAlertData{
			ID:           enquiry.ID,
			Name:         enquiry.Name,
			Email:        enquiry.Email,
			Phone:        enquiry.Phone,
			Subject:      enquiry.Subject,
			Message:      enquiry.Message,
			CompanyName:  company,
			DashboardURL: d.notification.DashboardURL,
			ReceivedAt:   FormatReceivedAt(enquiry.CreatedAt),
		})
		if err != nil {
			return err
		}
		return d.mailer.Send(ctx, Message{
			FromName: company + " Enquiry System",
			To:       d.notification.ManagerEmail,
			Subject:  ManagerSubject(enquiry.Subject),
			HTML:     html,
		})
	})
}
