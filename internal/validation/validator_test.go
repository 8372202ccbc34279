package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	PhoneNumber    string `json:"phoneNumber" validate:"required,e164"`
	OTPCode        string `json:"otpCode" validate:"required,otp"`
	VerificationID string `json:"verificationId" validate:"required"`
}

func TestValidate(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	assert.NoError(t, v.Validate(sample{PhoneNumber: "+14155552671", OTPCode: "012345", VerificationID: "x"}))

	err = v.Validate(sample{PhoneNumber: "4155552671", OTPCode: "12a456"})
	var fields Errors
	require.ErrorAs(t, err, &fields)
	assert.Equal(t, "phoneNumber must be a valid E.164 phone number", fields["phoneNumber"])
	assert.Equal(t, "otpCode must be exactly 6 digits", fields["otpCode"])
	assert.Contains(t, fields, "verificationId")
}

func TestErrorsMessage(t *testing.T) {
	assert.Equal(t, "validation error", Errors{}.Error())
	assert.Equal(t, `{"a":"b"}`, Errors{"a": "b"}.Error())
}
