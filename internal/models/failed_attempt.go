package models

import "time"

type AttemptKind string

const (
	AttemptKindIP    AttemptKind = "IP"
	AttemptKindPhone AttemptKind = "PHONE"
)

// FailedAttempt is the append-only audit trail kept per identifier. Each
// reason is "<RFC3339 timestamp>: <reason>".
type FailedAttempt struct {
	Identifier  string      `db:"identifier" json:"identifier"`
	Kind        AttemptKind `db:"kind" json:"kind"`
	Attempts    int64       `db:"attempts" json:"attempts"` // counter
	LastAttempt time.Time   `db:"last_attempt" json:"lastAttempt"`
	Reasons     []string    `db:"reasons" json:"reasons"`
}

func FormatReason(at time.Time, reason string) string {
	return at.UTC().Format(time.RFC3339) + ": " + reason
}
