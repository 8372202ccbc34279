package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhoneHasher(t *testing.T) {
	h := NewPhoneHasher("pepper")

	a := h.Hash("+14155552671")
	assert.Len(t, a, 64)
	assert.Equal(t, a, h.Hash("+14155552671"))
	assert.NotEqual(t, a, h.Hash("+14155552672"))
	assert.NotEqual(t, a, NewPhoneHasher("other").Hash("+14155552671"))

	assert.True(t, h.Matches("+14155552671", a))
	assert.False(t, h.Matches("+14155552672", a))
}
