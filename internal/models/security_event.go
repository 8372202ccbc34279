package models

import "time"

type SecurityEventType string

const (
	EventOTPIssued          SecurityEventType = "otp_issued"
	EventOTPVerified        SecurityEventType = "otp_verified"
	EventOTPFailed          SecurityEventType = "otp_failed"
	EventBlocked            SecurityEventType = "blocked"
	EventSuspiciousActivity SecurityEventType = "suspicious_activity"
	EventUnblocked          SecurityEventType = "unblocked"
)

type SecurityEvent struct {
	EventID    string            `json:"eventId"`
	EventType  SecurityEventType `json:"eventType"`
	PhoneHash  string            `json:"phoneHash,omitempty"`
	UserID     string            `json:"userId,omitempty"`
	IPAddress  string            `json:"ipAddress,omitempty"`
	UserAgent  string            `json:"userAgent,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
	Details    map[string]string `json:"details,omitempty"`
}
