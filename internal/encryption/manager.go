package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

const (
	envelopeVersion = "v1"
	localKeyID      = "local"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// KMSAPI is the subset of the KMS client used for envelope encryption.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// Envelope is what gets stored: the sealed value plus its wrapped data key.
type Envelope struct {
	Value   string `json:"v"`
	DEK     string `json:"k"`
	KeyID   string `json:"id"`
	Version string `json:"ver"`
}

// Manager seals short PII fields (phone numbers) with AES-256-GCM under a
// per-value data key. With KMS disabled the data key is stored unwrapped,
// which is only acceptable for development.
type Manager struct {
	kms      KMSAPI
	keyID    string
	keyCache sync.Map
}

// NewManager returns a KMS-backed manager, or a local one when client is nil.
func NewManager(client KMSAPI, keyID string) *Manager {
	return &Manager{kms: client, keyID: keyID}
}

func (m *Manager) KeyID() string {
	if m.kms == nil {
		return localKeyID
	}
	return m.keyID
}

// Seal encrypts plaintext; aad binds the ciphertext to its row.
func (m *Manager) Seal(ctx context.Context, plaintext, aad string) ([]byte, error) {
	dek, wrapped, err := m.dataKey(ctx)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(dek)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), []byte(aad))

	wrappedB64 := base64.StdEncoding.EncodeToString(wrapped)
	m.keyCache.Store(wrappedB64, dek)

	return json.Marshal(Envelope{
		Value:   base64.StdEncoding.EncodeToString(sealed),
		DEK:     wrappedB64,
		KeyID:   m.KeyID(),
		Version: envelopeVersion,
	})
}

func (m *Manager) Open(ctx context.Context, blob []byte, aad string) (string, error) {
	var env Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return "", fmt.Errorf("%w: invalid envelope", ErrDecryptionFailed)
	}

	dek, err := m.unwrap(ctx, env)
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(env.Value)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}
	gcm, err := newGCM(dek)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(sealed) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(aad))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

func (m *Manager) dataKey(ctx context.Context) (plaintext, wrapped []byte, err error) {
	if m.kms == nil {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
		}
		return key, key, nil
	}

	out, err := m.kms.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(m.keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return out.Plaintext, out.CiphertextBlob, nil
}

func (m *Manager) unwrap(ctx context.Context, env Envelope) ([]byte, error) {
	if cached, ok := m.keyCache.Load(env.DEK); ok {
		return cached.([]byte), nil
	}

	wrapped, err := base64.StdEncoding.DecodeString(env.DEK)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}

	var dek []byte
	if env.KeyID == localKeyID {
		dek = wrapped
	} else {
		if m.kms == nil {
			return nil, fmt.Errorf("%w: value sealed with KMS key %s but KMS is disabled", ErrDecryptionFailed, env.KeyID)
		}
		out, err := m.kms.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: wrapped})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		dek = out.Plaintext
	}

	m.keyCache.Store(env.DEK, dek)
	return dek, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (m *Manager) ClearCache() {
	m.keyCache.Range(func(key, _ interface{}) bool {
		m.keyCache.Delete(key)
		return true
	})
}
