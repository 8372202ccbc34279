package models

import "time"

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// User is the durable identity created on first successful verification.
// PhoneNumber is kept in clear in memory only; at rest it is encrypted.
type User struct {
	UserBucket     int        `db:"user_bucket" json:"-"`
	UserID         string     `db:"user_id" json:"id"`
	PhoneNumber    string     `db:"-" json:"phoneNumber"`
	PhoneHash      string     `db:"phone_hash" json:"-"`
	PhoneEncrypted []byte     `db:"phone_encrypted" json:"-"`
	PhoneKeyID     string     `db:"phone_key_id" json:"-"`
	Role           string     `db:"role" json:"role"`
	IsVerified     bool       `db:"is_verified" json:"isVerified"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
	LastLogin      *time.Time `db:"last_login" json:"lastLogin,omitempty"`
}
