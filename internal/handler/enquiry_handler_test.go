package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"enquiry-service/internal/config"
	"enquiry-service/internal/models"
	"enquiry-service/internal/service"
)

type fakeOTP struct {
	err   error
	phone string
}

func (f *fakeOTP) IssueOTP(_ context.Context, phone string) (*service.IssueResult, error) {
	f.phone = phone
	if f.err != nil {
		return nil, f.err
	}
	return &service.IssueResult{Phone: phone}, nil
}

type fakeEnquiries struct {
	submitErr error
	listed    service.ListParams
	enquiry   *models.Enquiry
	update    service.UpdateRequest
}

func (f *fakeEnquiries) SubmitEnquiry(_ context.Context, req service.SubmitRequest) (*service.SubmitResult, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &service.SubmitResult{
		ID:        "e-1",
		Name:      req.Name,
		Email:     req.Email,
		Subject:   req.Subject,
		Status:    models.StatusNew,
		CreatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeEnquiries) List(_ context.Context, p service.ListParams) (*service.ListResult, error) {
	f.listed = p
	return &service.ListResult{
		Data:         []models.Enquiry{{ID: "e-1", Name: "Asha", Status: models.StatusNew}},
		Count:        1,
		Total:        3,
		Page:         2,
		Pages:        3,
		StatusCounts: map[string]int64{models.StatusNew: 3, "Total": 3},
	}, nil
}

func (f *fakeEnquiries) Get(_ context.Context, id string) (*models.Enquiry, error) {
	if f.enquiry == nil || f.enquiry.ID != id {
		return nil, service.ErrEnquiryNotFound
	}
	return f.enquiry, nil
}

func (f *fakeEnquiries) Update(ctx context.Context, id string, req service.UpdateRequest) (*models.Enquiry, error) {
	f.update = req
	return f.Get(ctx, id)
}

func (f *fakeEnquiries) Delete(ctx context.Context, id string) error {
	_, err := f.Get(ctx, id)
	return err
}

type fakeHealth map[string]error

func (f fakeHealth) HealthCheck(context.Context) map[string]error { return f }

func newTestServer(t *testing.T, otp *fakeOTP, enquiries *fakeEnquiries, health HealthChecker) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := config.FromEnv()
	cfg.Server.BasePath = "/api/enquiries"
	cfg.CORS.AllowedOrigins = []string{"http://localhost:5173"}

	router := NewRouter(NewEnquiryHandler(otp, enquiries, logger), health, cfg, logger)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func doRaw(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read %s %s: %v", method, url, err)
	}
	return res.StatusCode, string(raw)
}

func do(t *testing.T, method, url, body string) (int, map[string]interface{}) {
	t.Helper()
	code, raw := doRaw(t, method, url, body)

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode %s %s: %v", method, url, err)
	}
	return code, out
}

func TestSendOTP(t *testing.T) {
	otp := &fakeOTP{}
	srv := newTestServer(t, otp, &fakeEnquiries{}, nil)

	code, body := do(t, http.MethodPost, srv.URL+"/api/enquiries/send-otp", `{"phone":"9876543210"}`)
	if code != http.StatusOK || body["success"] != true {
		t.Fatalf("status = %d, body = %v", code, body)
	}
	if body["message"] != "OTP sent successfully to your phone number" {
		t.Fatalf("message = %v", body["message"])
	}
	if otp.phone != "9876543210" {
		t.Fatalf("phone passed = %q", otp.phone)
	}
}

func TestSendOTPErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		body    string
		status  int
		message string
	}{
		{"missing phone", &service.ValidationError{Message: "Phone number is required", Fields: []string{"phone"}}, `{}`, 400, "Phone number is required"},
		{"delivery", fmt.Errorf("%w: twilio 503", service.ErrDeliveryFailed), `{"phone":"1"}`, 500, "Failed to send OTP. Please try again."},
		{"internal", errors.New("redis: connection refused"), `{"phone":"1"}`, 500, "Internal server error"},
		{"malformed", nil, `{"phone":`, 400, "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeOTP{err: tt.err}, &fakeEnquiries{}, nil)
			code, body := do(t, http.MethodPost, srv.URL+"/api/enquiries/send-otp", tt.body)
			if code != tt.status {
				t.Fatalf("status = %d, want %d", code, tt.status)
			}
			if body["success"] != false || body["error"] != tt.message {
				t.Fatalf("body = %v, want error %q", body, tt.message)
			}
		})
	}
}

func TestSubmitEnquiry(t *testing.T) {
	srv := newTestServer(t, &fakeOTP{}, &fakeEnquiries{}, nil)

	code, body := do(t, http.MethodPost, srv.URL+"/api/enquiries/submit",
		`{"name":"Asha","email":"a@x.com","phone":"9876543210","subject":"Hi","message":"Call me","otp":"123456"}`)
	if code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", code)
	}
	if body["message"] != "Enquiry submitted successfully" {
		t.Fatalf("message = %v", body["message"])
	}
	data := body["data"].(map[string]interface{})
	if data["id"] != "e-1" || data["status"] != "New" || data["createdAt"] == nil {
		t.Fatalf("data = %v", data)
	}
	if _, ok := data["otpVerified"]; ok {
		t.Fatal("otpVerified echoed to the submitter")
	}
}

func TestSubmitEnquiryErrors(t *testing.T) {
	tests := []struct {
		err     error
		status  int
		message string
	}{
		{&service.ValidationError{Message: "All fields are required", Fields: []string{"otp"}}, 400, "All fields are required"},
		{service.ErrInvalidOTP, 400, "Invalid or expired OTP"},
		{service.ErrDuplicateEnquiry, 400, "Similar enquiry already submitted recently"},
		{errors.New("pq: relation does not exist"), 500, "Internal server error"},
	}
	for _, tt := range tests {
		srv := newTestServer(t, &fakeOTP{}, &fakeEnquiries{submitErr: tt.err}, nil)
		code, body := do(t, http.MethodPost, srv.URL+"/api/enquiries/submit", `{}`)
		if code != tt.status || body["error"] != tt.message {
			t.Fatalf("%v: status = %d, body = %v", tt.err, code, body)
		}
	}
}

func TestValidationErrorListsFields(t *testing.T) {
	err := &service.ValidationError{Message: "All fields are required", Fields: []string{"email", "otp"}}
	srv := newTestServer(t, &fakeOTP{}, &fakeEnquiries{submitErr: err}, nil)

	_, body := do(t, http.MethodPost, srv.URL+"/api/enquiries/submit", `{}`)
	fields, _ := body["fields"].([]interface{})
	if len(fields) != 2 || fields[0] != "email" || fields[1] != "otp" {
		t.Fatalf("fields = %v", body["fields"])
	}
}

func TestListEnquiries(t *testing.T) {
	enquiries := &fakeEnquiries{}
	srv := newTestServer(t, &fakeOTP{}, enquiries, nil)

	code, body := do(t, http.MethodGet, srv.URL+"/api/enquiries?status=New&search=asha&sort=name&page=2&limit=abc", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	want := service.ListParams{Status: "New", Search: "asha", Sort: "name", Page: 2, Limit: 0}
	if enquiries.listed != want {
		t.Fatalf("params = %+v, want %+v", enquiries.listed, want)
	}
	for key, v := range map[string]float64{"count": 1, "total": 3, "page": 2, "pages": 3} {
		if body[key] != v {
			t.Fatalf("%s = %v, want %v", key, body[key], v)
		}
	}
	counts := body["statusCounts"].(map[string]interface{})
	if counts["New"] != float64(3) || counts["Total"] != float64(3) {
		t.Fatalf("statusCounts = %v", counts)
	}
	if data := body["data"].([]interface{}); len(data) != 1 {
		t.Fatalf("data = %v", data)
	}
}

func TestGetUpdateDelete(t *testing.T) {
	enquiries := &fakeEnquiries{enquiry: &models.Enquiry{ID: "e-1", Name: "Asha", Status: models.StatusNew}}
	srv := newTestServer(t, &fakeOTP{}, enquiries, nil)
	base := srv.URL + "/api/enquiries/"

	if code, body := do(t, http.MethodGet, base+"e-1", ""); code != 200 || body["data"] == nil {
		t.Fatalf("GET: %d %v", code, body)
	}
	if code, body := do(t, http.MethodGet, base+"missing", ""); code != 404 || body["error"] != "Enquiry not found" {
		t.Fatalf("GET missing: %d %v", code, body)
	}

	code, body := do(t, http.MethodPut, base+"e-1", `{"status":"Contacted","note":"rang"}`)
	if code != 200 || body["message"] != "Enquiry updated successfully" {
		t.Fatalf("PUT: %d %v", code, body)
	}
	if enquiries.update.Status == nil || *enquiries.update.Status != "Contacted" || *enquiries.update.Note != "rang" {
		t.Fatalf("update = %+v", enquiries.update)
	}
	if code, _ := do(t, http.MethodPut, base+"missing", `{}`); code != 404 {
		t.Fatalf("PUT missing: %d", code)
	}

	if code, body := do(t, http.MethodDelete, base+"e-1", ""); code != 200 || body["message"] != "Enquiry deleted successfully" {
		t.Fatalf("DELETE: %d %v", code, body)
	}
	if code, _ := do(t, http.MethodDelete, base+"missing", ""); code != 404 {
		t.Fatalf("DELETE missing: %d", code)
	}
}

func TestNotFoundAndIndex(t *testing.T) {
	srv := newTestServer(t, &fakeOTP{}, &fakeEnquiries{}, nil)

	code, body := do(t, http.MethodGet, srv.URL+"/nope", "")
	if code != 404 || body["error"] != "Endpoint not found" || body["path"] != "/nope" || body["method"] != "GET" {
		t.Fatalf("404: %d %v", code, body)
	}

	code, body = do(t, http.MethodGet, srv.URL+"/api", "")
	if code != 200 || body["endpoints"] == nil {
		t.Fatalf("/api: %d %v", code, body)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeOTP{}, &fakeEnquiries{}, fakeHealth{
		"database":      nil,
		"elasticsearch": errors.New("connection refused"),
	})
	code, body := do(t, http.MethodGet, srv.URL+"/health", "")
	if code != 200 || body["status"] != "OK" || body["database"] != "connected" {
		t.Fatalf("health: %d %v", code, body)
	}
	deps := body["dependencies"].(map[string]interface{})
	if deps["elasticsearch"] != "unhealthy" || deps["database"] != "healthy" {
		t.Fatalf("dependencies = %v", deps)
	}

	down := newTestServer(t, &fakeOTP{}, &fakeEnquiries{}, fakeHealth{"database": errors.New("dial tcp 10.0.0.7:5432: connection refused")})
	code, raw := doRaw(t, http.MethodGet, down.URL+"/health", "")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("health with database down: %d %s", code, raw)
	}
	if strings.Contains(raw, "10.0.0.7") || strings.Contains(raw, "dial tcp") {
		t.Fatalf("health response leaks error detail: %s", raw)
	}
	if !strings.Contains(raw, `"database":"disconnected"`) {
		t.Fatalf("health body = %s", raw)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &fakeOTP{}, &fakeEnquiries{}, nil)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/enquiries/submit", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	res.Body.Close()
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("Allow-Origin = %q", got)
	}
}
