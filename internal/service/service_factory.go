package service

import (
	"time"

	"go.uber.org/zap"

	"enquiry-service/internal/bucketing"
	"enquiry-service/internal/events"
	"enquiry-service/internal/notify"
	"enquiry-service/internal/repository"
)

// Dependencies collects what the services are built from
type Dependencies struct {
	OTPStore        repository.OTPStore
	Enquiries       repository.EnquiryRepository
	Hasher          CodeHasher
	Fingerprinter   *bucketing.Fingerprinter
	Index           SearchIndex
	SMS             notify.SMSSender
	Notifier        Notifier
	Events          events.Sink
	OTPTTL          time.Duration
	DeliveryTimeout time.Duration
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	deps           Dependencies
	logger         *zap.Logger
	otpService     *OTPService
	enquiryService *EnquiryService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(deps Dependencies, logger *zap.Logger) *ServiceFactory {
	if deps.Fingerprinter == nil {
		deps.Fingerprinter = bucketing.NewFingerprinter()
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	return &ServiceFactory{
		deps:   deps,
		logger: logger,
	}
}

// OTPService returns the OTP service instance (singleton)
func (f *ServiceFactory) OTPService() *OTPService {
	if f.otpService == nil {
		f.otpService = NewOTPService(
			f.deps.OTPStore,
			f.deps.Hasher,
			f.deps.SMS,
			f.deps.Notifier,
			f.deps.Events,
			f.deps.OTPTTL,
			f.deps.DeliveryTimeout,
			f.logger.Named("otp"),
		)
	}
	return f.otpService
}

// EnquiryService returns the enquiry service instance (singleton)
func (f *ServiceFactory) EnquiryService() *EnquiryService {
	if f.enquiryService == nil {
		f.enquiryService = NewEnquiryService(
			f.deps.Enquiries,
			f.deps.OTPStore,
			f.deps.Hasher,
			f.deps.Fingerprinter,
			f.deps.Index,
			f.deps.Notifier,
			f.deps.Events,
			f.logger.Named("enquiry"),
		)
	}
	return f.enquiryService
}
