package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"enquiry-service/internal/models"
	"enquiry-service/internal/service"
	"enquiry-service/internal/util"
)

const maxBodyBytes = 1 << 20

// OTPIssuer is the part of the OTP service the handler needs
type OTPIssuer interface {
	IssueOTP(ctx context.Context, phone string) (*service.IssueResult, error)
}

// EnquiryManager is the part of the enquiry service the handler needs
type EnquiryManager interface {
	SubmitEnquiry(ctx context.Context, req service.SubmitRequest) (*service.SubmitResult, error)
	List(ctx context.Context, params service.ListParams) (*service.ListResult, error)
	Get(ctx context.Context, id string) (*models.Enquiry, error)
	Update(ctx context.Context, id string, req service.UpdateRequest) (*models.Enquiry, error)
	Delete(ctx context.Context, id string) error
}

// EnquiryHandler handles HTTP requests for OTP and enquiry operations
type EnquiryHandler struct {
	otpService     OTPIssuer
	enquiryService EnquiryManager
	logger         *zap.Logger
}

// NewEnquiryHandler creates a new enquiry handler
func NewEnquiryHandler(otpService OTPIssuer, enquiryService EnquiryManager, logger *zap.Logger) *EnquiryHandler {
	return &EnquiryHandler{
		otpService:     otpService,
		enquiryService: enquiryService,
		logger:         logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Fields  []string    `json:"fields,omitempty"`
}

// ListResponse is the dashboard page
type ListResponse struct {
	Success      bool             `json:"success"`
	Count        int              `json:"count"`
	Total        int64            `json:"total"`
	Page         int              `json:"page"`
	Pages        int              `json:"pages"`
	StatusCounts map[string]int64 `json:"statusCounts"`
	Data         []models.Enquiry `json:"data"`
}

type sendOTPRequest struct {
	Phone string `json:"phone"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// RegisterRoutes registers all enquiry routes
func (h *EnquiryHandler) RegisterRoutes(router chi.Router) {
	// Public form
	router.Post("/send-otp", h.SendOTP)
	router.Post("/submit", h.SubmitEnquiry)

	// Dashboard
	router.Get("/", h.ListEnquiries)
	router.Get("/{id}", h.GetEnquiry)
	router.Put("/{id}", h.UpdateEnquiry)
	router.Delete("/{id}", h.DeleteEnquiry)
}

// SendOTP handles POST /send-otp
func (h *EnquiryHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req sendOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, err := h.otpService.IssueOTP(r.Context(), req.Phone); err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "OTP sent successfully to your phone number"))
	h.logger.Debug("OTP sent via HTTP",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "SendOTP"),
	)
}

// SubmitEnquiry handles POST /submit
func (h *EnquiryHandler) SubmitEnquiry(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req service.SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.enquiryService.SubmitEnquiry(r.Context(), req)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(result, "Enquiry submitted successfully"))
	h.logger.Info("Enquiry submitted via HTTP",
		util.String("enquiry_id", result.ID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "SubmitEnquiry"),
	)
}

// ListEnquiries handles GET / with status, search, sort, page and limit.
// Unparseable page or limit values fall back to the defaults.
func (h *EnquiryHandler) ListEnquiries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	result, err := h.enquiryService.List(r.Context(), service.ListParams{
		Status: q.Get("status"),
		Search: q.Get("search"),
		Sort:   q.Get("sort"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, ListResponse{
		Success:      true,
		Count:        result.Count,
		Total:        result.Total,
		Page:         result.Page,
		Pages:        result.Pages,
		StatusCounts: result.StatusCounts,
		Data:         result.Data,
	})
}

// GetEnquiry handles GET /{id}
func (h *EnquiryHandler) GetEnquiry(w http.ResponseWriter, r *http.Request) {
	enquiry, err := h.enquiryService.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(enquiry, ""))
}

// UpdateEnquiry handles PUT /{id}
func (h *EnquiryHandler) UpdateEnquiry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req service.UpdateRequest
	if !h.decode(w, r, &req) {
		return
	}

	enquiry, err := h.enquiryService.Update(r.Context(), id, req)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(enquiry, "Enquiry updated successfully"))
	h.logger.Info("Enquiry updated via HTTP",
		util.String("enquiry_id", id),
		util.String("status", enquiry.Status),
	)
}

// DeleteEnquiry handles DELETE /{id}
func (h *EnquiryHandler) DeleteEnquiry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.enquiryService.Delete(r.Context(), id); err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Enquiry deleted successfully"))
}

// Helper Methods

// decode reads a JSON body, answering 400 itself when it cannot
func (h *EnquiryHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		h.logger.Warn("Invalid request body", util.ErrorField(err), util.String("path", r.URL.Path))
		h.respondWithJSON(w, http.StatusBadRequest, Response{Success: false, Error: "Invalid request body"})
		return false
	}
	return true
}

func (h *EnquiryHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	if err := writeJSON(w, statusCode, data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError maps err to a status code and a message safe to show
func (h *EnquiryHandler) respondWithError(w http.ResponseWriter, err error) {
	statusCode := getStatusCode(err)
	resp := Response{Success: false, Error: publicMessage(err)}

	var verr *service.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}

	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("HTTP error response", util.ErrorField(err), util.Int("status_code", statusCode))
	} else {
		h.logger.Warn("HTTP error response", util.ErrorField(err), util.Int("status_code", statusCode))
	}
	h.respondWithJSON(w, statusCode, resp)
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrEnquiryNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidOTP),
		errors.Is(err, service.ErrDuplicateEnquiry):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal error details from clients
func publicMessage(err error) string {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	for _, known := range []error{
		service.ErrInvalidOTP,
		service.ErrDuplicateEnquiry,
		service.ErrEnquiryNotFound,
		service.ErrDeliveryFailed,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	if errors.Is(err, service.ErrInvalidInput) {
		return "Invalid input"
	}
	return "Internal server error"
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}
