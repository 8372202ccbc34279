package hashing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"sync"
)

// PhoneHasher derives a stable, keyed identifier for a phone number. The
// hash is what logs, events and lookup tables carry instead of the number.
type PhoneHasher struct {
	pepper []byte
	pool   sync.Pool
}

func NewPhoneHasher(pepper string) *PhoneHasher {
	h := &PhoneHasher{pepper: []byte(pepper)}
	h.pool = sync.Pool{
		New: func() interface{} {
			return hmac.New(sha256.New, h.pepper)
		},
	}
	return h
}

func (h *PhoneHasher) Hash(phone string) string {
	mac := h.pool.Get().(hash.Hash)
	defer h.pool.Put(mac)

	mac.Reset()
	_, _ = mac.Write([]byte(phone))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches compares phone against a stored hash in constant time.
func (h *PhoneHasher) Matches(phone, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(h.Hash(phone)), []byte(hash)) == 1
}
