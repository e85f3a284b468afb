package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Enquiry statuses shown on the dashboard
const (
	StatusNew        = "New"
	StatusContacted  = "Contacted"
	StatusInProgress = "In Progress"
	StatusResolved   = "Resolved"
)

// Statuses lists every allowed status in dashboard order
var Statuses = []string{StatusNew, StatusContacted, StatusInProgress, StatusResolved}

// IsValidStatus reports whether s is one of the allowed statuses
func IsValidStatus(s string) bool {
	for _, status := range Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Enquiry is a verified contact-form submission
type Enquiry struct {
	ID          string        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name        string        `gorm:"not null" json:"name"`
	Email       string        `gorm:"not null;index" json:"email"`
	Phone       string        `gorm:"not null;index" json:"phone"`
	Subject     string        `gorm:"not null" json:"subject"`
	Message     string        `gorm:"type:text;not null" json:"message"`
	Status      string        `gorm:"not null;index" json:"status"`
	OTPVerified bool          `gorm:"not null" json:"otpVerified"`
	DedupKey    string        `gorm:"index:idx_enquiries_dedup;size:32" json:"-"`
	Notes       []EnquiryNote `gorm:"foreignKey:EnquiryID;constraint:OnDelete:CASCADE" json:"notes"`
	CreatedAt   time.Time     `gorm:"index:idx_enquiries_dedup" json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

func (Enquiry) TableName() string {
	return "enquiries"
}

// BeforeCreate assigns an ID and the default status
func (e *Enquiry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = StatusNew
	}
	return nil
}

// EnquiryNote is an append-only dashboard note
type EnquiryNote struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	EnquiryID string    `gorm:"type:varchar(36);not null;index" json:"-"`
	Note      string    `gorm:"type:text;not null" json:"note"`
	CreatedAt time.Time `json:"createdAt"`
}

func (EnquiryNote) TableName() string {
	return "enquiry_notes"
}
