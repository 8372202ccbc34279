package models

import "time"

// BlockRecord tracks the daily attempt counter and block state of a phone
// number. It is created on the first recorded attempt and only removed by an
// administrative unblock.
type BlockRecord struct {
	PhoneNumber          string     `json:"phoneNumber"`
	DailyAttempts        int        `json:"dailyAttempts"`
	IsPermanentlyBlocked bool       `json:"isPermanentlyBlocked"`
	TemporaryBlockUntil  *time.Time `json:"temporaryBlockUntil,omitempty"`
	LastUpdated          time.Time  `json:"lastUpdated"`
	CreatedAt            time.Time  `json:"createdAt"`
}

// Blocked reports whether the record denies requests at now.
func (r *BlockRecord) Blocked(now time.Time) bool {
	if r.IsPermanentlyBlocked {
		return true
	}
	return r.TemporaryBlockUntil != nil && r.TemporaryBlockUntil.After(now)
}

func (r *BlockRecord) Clone() *BlockRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.TemporaryBlockUntil != nil {
		until := *r.TemporaryBlockUntil
		c.TemporaryBlockUntil = &until
	}
	return &c
}
