package models

import "time"

// OTPRecord is the live one-time code for a phone number. It is owned by
// the process-local ledger and never persisted.
type OTPRecord struct {
	PhoneNumber    string
	Code           string
	VerificationID string
	Attempts       int
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Live reports whether the record can still be verified at now.
func (r *OTPRecord) Live(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}
