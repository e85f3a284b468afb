package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"enquiry-service/internal/bucketing"
	"enquiry-service/internal/events"
	"enquiry-service/internal/models"
	"enquiry-service/internal/repository"
	"enquiry-service/internal/search"
	"enquiry-service/internal/util"
)

const (
	DuplicateWindow = 24 * time.Hour

	DefaultSort  = "-createdAt"
	DefaultLimit = 50
	MaxLimit     = 500

	// StatusAll disables the status filter on the dashboard
	StatusAll = "All"
)

// SubmitRequest is the public enquiry form
type SubmitRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Subject string `json:"subject"`
	Message string `json:"message"`
	OTP     string `json:"otp"`
}

// SubmitResult is what the submitter gets back
type SubmitResult struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListParams are the dashboard query parameters
type ListParams struct {
	Status string
	Search string
	Sort   string
	Page   int
	Limit  int
}

type ListResult struct {
	Data         []models.Enquiry
	Count        int
	Total        int64
	Page         int
	Pages        int
	StatusCounts map[string]int64
}

// UpdateRequest carries the optional dashboard edits
type UpdateRequest struct {
	Status *string `json:"status"`
	Note   *string `json:"note"`
}

type EnquiryService struct {
	repo          repository.EnquiryRepository
	otpStore      repository.OTPStore
	hasher        CodeHasher
	fingerprinter *bucketing.Fingerprinter
	index         SearchIndex
	notifier      Notifier
	events        publisher
	logger        *zap.Logger
	now           func() time.Time
}

// NewEnquiryService wires the submission workflow. index may be nil, in
// which case dashboard search runs against the database.
func NewEnquiryService(
	repo repository.EnquiryRepository,
	otpStore repository.OTPStore,
	hasher CodeHasher,
	fingerprinter *bucketing.Fingerprinter,
	index SearchIndex,
	notifier Notifier,
	sink events.Sink,
	logger *zap.Logger,
) *EnquiryService {
	return &EnquiryService{
		repo:          repo,
		otpStore:      otpStore,
		hasher:        hasher,
		fingerprinter: fingerprinter,
		index:         index,
		notifier:      notifier,
		events:        publisher{sink: sink, notifier: notifier},
		logger:        logger,
		now:           time.Now,
	}
}

func (req SubmitRequest) trimmed() SubmitRequest {
	return SubmitRequest{
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.TrimSpace(req.Email),
		Phone:   strings.TrimSpace(req.Phone),
		Subject: strings.TrimSpace(req.Subject),
		Message: strings.TrimSpace(req.Message),
		OTP:     strings.TrimSpace(req.OTP),
	}
}

func (req SubmitRequest) missing() []string {
	var fields []string
	for _, f := range []struct {
		name, value string
	}{
		{"name", req.Name},
		{"email", req.Email},
		{"phone", req.Phone},
		{"subject", req.Subject},
		{"message", req.Message},
		{"otp", req.OTP},
	} {
		if f.value == "" {
			fields = append(fields, f.name)
		}
	}
	return fields
}

// SubmitEnquiry verifies the code, rejects recent duplicates and stores
// the enquiry. The code is consumed only once every check has passed.
func (s *EnquiryService) SubmitEnquiry(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	startTime := time.Now()

	req = req.trimmed()
	if missing := req.missing(); len(missing) > 0 {
		return nil, newValidationError("All fields are required", missing...)
	}

	phone := NormalizePhone(req.Phone)
	email := strings.ToLower(req.Email)
	now := s.now().UTC()

	codeKey := s.hasher.LookupKey(phone, req.OTP)
	record, err := s.otpStore.Find(ctx, phone, codeKey, now)
	if err != nil {
		if errors.Is(err, repository.ErrOTPNotFound) {
			return nil, ErrInvalidOTP
		}
		return nil, fmt.Errorf("failed to look up OTP: %w", err)
	}

	dedupKey := s.fingerprinter.DedupKey(email, phone, req.Subject)
	duplicate, err := s.repo.HasRecentDuplicate(ctx, dedupKey, email, phone, req.Subject, now.Add(-DuplicateWindow))
	if err != nil {
		return nil, err
	}
	if duplicate {
		s.logger.Info("Duplicate enquiry rejected", util.Phone(phone), zap.String("subject", req.Subject))
		return nil, ErrDuplicateEnquiry
	}

	consumed, err := s.otpStore.Consume(ctx, phone, codeKey, now)
	if err != nil {
		return nil, fmt.Errorf("failed to consume OTP: %w", err)
	}
	if !consumed {
		return nil, ErrInvalidOTP
	}

	enquiry := &models.Enquiry{
		Name:        req.Name,
		Email:       email,
		Phone:       phone,
		Subject:     req.Subject,
		Message:     req.Message,
		Status:      models.StatusNew,
		OTPVerified: true,
		DedupKey:    dedupKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, enquiry); err != nil {
		if restoreErr := s.otpStore.Save(ctx, record); restoreErr != nil {
			s.logger.Error("Failed to reinstate OTP after create failure",
				util.Phone(phone), zap.Error(restoreErr))
		}
		return nil, err
	}

	s.notifier.NotifyEnquiry(ctx, enquiry)
	s.reindex(ctx, enquiry)

	event := events.New(events.TypeEnquirySubmitted, now)
	event.EnquiryID = enquiry.ID
	event.Phone = phone
	event.Attributes = map[string]string{"subject": enquiry.Subject}
	s.events.publish(ctx, event)

	s.logger.Info("Enquiry submitted",
		zap.String("enquiry_id", enquiry.ID),
		util.Phone(phone),
		zap.Duration("duration", time.Since(startTime)))

	return &SubmitResult{
		ID:        enquiry.ID,
		Name:      enquiry.Name,
		Email:     enquiry.Email,
		Subject:   enquiry.Subject,
		Status:    enquiry.Status,
		CreatedAt: enquiry.CreatedAt,
	}, nil
}

// ParseSort turns "field" or "-field" into a sort column and direction.
// Unknown fields fall back to newest first.
func ParseSort(sort string) (field string, descending bool) {
	sort = strings.TrimSpace(sort)
	if strings.HasPrefix(sort, "-") {
		field, descending = sort[1:], true
	} else {
		field = sort
	}
	if !isSortField(field) {
		return "createdAt", true
	}
	return field, descending
}

func isSortField(field string) bool {
	switch field {
	case "createdAt", "updatedAt", "name", "email", "subject", "status":
		return true
	}
	return false
}

func (p ListParams) normalized() ListParams {
	p.Status = strings.TrimSpace(p.Status)
	if p.Status == StatusAll {
		p.Status = ""
	}
	p.Search = strings.TrimSpace(p.Search)
	if p.Sort == "" {
		p.Sort = DefaultSort
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

// List returns one dashboard page together with the per-status totals
func (s *EnquiryService) List(ctx context.Context, params ListParams) (*ListResult, error) {
	params = params.normalized()
	field, desc := ParseSort(params.Sort)

	query := repository.ListQuery{
		Status:     params.Status,
		Search:     params.Search,
		SortField:  field,
		Descending: desc,
		Offset:     (params.Page - 1) * params.Limit,
		Limit:      params.Limit,
	}

	if query.Search != "" && s.index != nil {
		ids, err := s.index.SearchIDs(ctx, query.Search)
		switch {
		case errors.Is(err, search.ErrNotReady):
			s.logger.Debug("Search index synchronizing, using database search")
		case err != nil:
			s.logger.Warn("Search index unavailable, falling back to database search", zap.Error(err))
		default:
			query.IDs = ids
			if query.IDs == nil {
				query.IDs = []string{}
			}
		}
	}

	var (
		data   []models.Enquiry
		total  int64
		counts = make([]int64, len(models.Statuses))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		data, err = s.repo.List(gctx, query)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.repo.Count(gctx, query)
		return err
	})
	for i, status := range models.Statuses {
		i, status := i, status
		g.Go(func() error {
			n, err := s.repo.CountByStatus(gctx, status)
			counts[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	statusCounts := make(map[string]int64, len(models.Statuses)+1)
	for i, status := range models.Statuses {
		statusCounts[status] = counts[i]
	}
	statusCounts["Total"] = total

	if data == nil {
		data = []models.Enquiry{}
	}

	return &ListResult{
		Data:         data,
		Count:        len(data),
		Total:        total,
		Page:         params.Page,
		Pages:        int((total + int64(params.Limit) - 1) / int64(params.Limit)),
		StatusCounts: statusCounts,
	}, nil
}

func (s *EnquiryService) Get(ctx context.Context, id string) (*models.Enquiry, error) {
	enquiry, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrEnquiryNotFound) {
			return nil, ErrEnquiryNotFound
		}
		return nil, err
	}
	return enquiry, nil
}

// Update applies an allow-listed status and appends a non-blank note.
// Anything else in the request is ignored.
func (s *EnquiryService) Update(ctx context.Context, id string, req UpdateRequest) (*models.Enquiry, error) {
	now := s.now().UTC()
	update := repository.EnquiryUpdate{At: now}

	if req.Status != nil && models.IsValidStatus(*req.Status) {
		update.Status = req.Status
	}
	if req.Note != nil {
		if note := strings.TrimSpace(*req.Note); note != "" {
			update.Note = &note
		}
	}

	enquiry, err := s.repo.Update(ctx, id, update)
	if err != nil {
		if errors.Is(err, repository.ErrEnquiryNotFound) {
			return nil, ErrEnquiryNotFound
		}
		return nil, err
	}

	s.reindex(ctx, enquiry)

	event := events.New(events.TypeEnquiryUpdated, now)
	event.EnquiryID = enquiry.ID
	event.Attributes = map[string]string{"status": enquiry.Status}
	if update.Note != nil {
		event.Attributes["note_added"] = "true"
	}
	s.events.publish(ctx, event)

	return enquiry, nil
}

func (s *EnquiryService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrEnquiryNotFound) {
			return ErrEnquiryNotFound
		}
		return err
	}

	if s.index != nil {
		s.notifier.Go(ctx, "search.delete", func(ctx context.Context) error {
			return s.index.Delete(ctx, id)
		})
	}

	event := events.New(events.TypeEnquiryDeleted, s.now())
	event.EnquiryID = id
	s.events.publish(ctx, event)

	s.logger.Info("Enquiry deleted", zap.String("enquiry_id", id))
	return nil
}

func (s *EnquiryService) reindex(ctx context.Context, enquiry *models.Enquiry) {
	if s.index == nil {
		return
	}
	snapshot := *enquiry
	s.notifier.Go(ctx, "search.index", func(ctx context.Context) error {
		return s.index.Index(ctx, &snapshot)
	})
}
