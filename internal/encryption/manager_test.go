package encryption

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKMS wraps data keys by XOR with a fixed byte.
type fakeKMS struct {
	generated, decrypted int
}

func xor(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[i] ^ 0x5a
	}
	return out
}

func (f *fakeKMS) GenerateDataKey(_ context.Context, _ *kms.GenerateDataKeyInput, _ ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	f.generated++
	key := bytes.Repeat([]byte{byte(f.generated)}, 32)
	return &kms.GenerateDataKeyOutput{Plaintext: key, CiphertextBlob: xor(key)}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.decrypted++
	return &kms.DecryptOutput{Plaintext: xor(in.CiphertextBlob)}, nil
}

func TestLocalSealOpen(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, "")
	assert.Equal(t, "local", m.KeyID())

	blob, err := m.Seal(ctx, "+14155552671", "hash-1")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "+14155552671")

	m.ClearCache()
	got, err := m.Open(ctx, blob, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "+14155552671", got)

	_, err = m.Open(ctx, blob, "hash-2")
	assert.True(t, errors.Is(err, ErrDecryptionFailed))
}

func TestKMSSealOpen(t *testing.T) {
	ctx := context.Background()
	f := &fakeKMS{}
	m := NewManager(f, "arn:aws:kms:eu-west-1:111122223333:key/test")

	blob, err := m.Seal(ctx, "+447700900123", "h")
	require.NoError(t, err)
	assert.Equal(t, 1, f.generated)

	got, err := m.Open(ctx, blob, "h")
	require.NoError(t, err)
	assert.Equal(t, "+447700900123", got)
	assert.Equal(t, 0, f.decrypted, "data key served from cache")

	m.ClearCache()
	got, err = m.Open(ctx, blob, "h")
	require.NoError(t, err)
	assert.Equal(t, "+447700900123", got)
	assert.Equal(t, 1, f.decrypted)

	_, err = NewManager(nil, "").Open(ctx, blob, "h")
	assert.True(t, errors.Is(err, ErrDecryptionFailed))
}
