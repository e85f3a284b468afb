package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const managerSubjectLimit = 50

type ThankYouData struct {
	Name         string
	CompanyName  string
	SupportEmail string
	SupportPhone string
	Year         int
}

type ManagerAlertData struct {
	ID           string
	Name         string
	Email        string
	Phone        string
	Subject      string
	Message      string
	CompanyName  string
	DashboardURL string
	ReceivedAt   string
	ReplyURL     template.URL
}

func RenderThankYou(data ThankYouData) (string, error) {
	return render("thank_you.html", data)
}

func RenderManagerAlert(data ManagerAlertData) (string, error) {
	if data.ReplyURL == "" {
		data.ReplyURL = ReplyURL(data.Email, data.Subject)
	}
	return render("manager_alert.html", data)
}

// ReplyURL builds a mailto link with the subject prefilled
func ReplyURL(email, subject string) template.URL {
	u := url.URL{
		Scheme:   "mailto",
		Opaque:   email,
		RawQuery: strings.ReplaceAll(url.Values{"subject": {"Re: " + subject}}.Encode(), "+", "%20"),
	}
	return template.URL(u.String())
}

// ManagerSubject truncates the enquiry subject to 50 characters
func ManagerSubject(subject string) string {
	runes := []rune(subject)
	if len(runes) > managerSubjectLimit {
		runes = runes[:managerSubjectLimit]
	}
	return "📢 NEW ENQUIRY: " + string(runes) + "..."
}

func ThankYouSubject(companyName string) string {
	return "Thank You for Your Enquiry - " + companyName
}

// FormatReceivedAt renders a timestamp for the manager alert
func FormatReceivedAt(t time.Time) string {
	return t.UTC().Format("02 Jan 2006 15:04:05 MST")
}

func render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}
