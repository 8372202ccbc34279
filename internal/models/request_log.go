package models

import "time"

// RequestLogEntry is one sighting of a client on an auth endpoint.
type RequestLogEntry struct {
	Timestamp   time.Time `ch:"ts"`
	IPAddress   string    `ch:"ip"`
	Endpoint    string    `ch:"endpoint"`
	PhoneNumber string    `ch:"phone_number"`
	UserAgent   string    `ch:"user_agent"`
}
