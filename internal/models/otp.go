package models

import "time"

// OTPRecord is an outstanding one-time passcode for a phone number.
// CodeKey is the keyed hash of the code, never the code itself.
type OTPRecord struct {
	Phone     string    `db:"phone" json:"phone"`
	CodeKey   string    `db:"code_key" json:"-"`
	ExpiresAt time.Time `db:"expires_at" json:"expiresAt"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// IsValidAt reports whether the record can still be matched at t
func (r *OTPRecord) IsValidAt(t time.Time) bool {
	return t.Before(r.ExpiresAt)
}
