package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phone-auth-service/internal/blocking"
	"phone-auth-service/internal/clock"
	"phone-auth-service/internal/hashing"
	"phone-auth-service/internal/models"
	"phone-auth-service/internal/otp"
	"phone-auth-service/internal/repository"
	"phone-auth-service/internal/repository/memory"
	"phone-auth-service/internal/security"
	"phone-auth-service/internal/token"
	"phone-auth-service/internal/validation"
)

const testPhone = "+14155550000"

type stubSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (s *stubSender) Send(_ context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.codes[phone] = code
	return nil
}

func (s *stubSender) code(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phone]
}

type eventLog struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (l *eventLog) Publish(_ context.Context, e *models.SecurityEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, *e)
	return nil
}

func (l *eventLog) types() []models.SecurityEventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.SecurityEventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.EventType)
	}
	return out
}

type harness struct {
	svc      *AuthService
	clock    *clock.Fake
	sender   *stubSender
	events   *eventLog
	attempts *memory.FailedAttemptRepository
	blocking *blocking.Service
	tokens   *token.Issuer
}

func newHarness(t *testing.T, requireRecaptcha bool) *harness {
	t.Helper()
	return newHarnessWithStore(t, requireRecaptcha, memory.NewBlockStore())
}

func newHarnessWithStore(t *testing.T, requireRecaptcha bool, store repository.BlockStore) *harness {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	hasher := hashing.NewPhoneHasher("test-pepper")
	attempts := memory.NewFailedAttemptRepository()
	sender := &stubSender{codes: make(map[string]string)}
	log := &eventLog{}

	v, err := validation.New()
	require.NoError(t, err)
	tokens, err := token.NewIssuer(token.Config{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		Issuer: "phone-auth-service",
		Clock:  clk,
	})
	require.NoError(t, err)

	blocks := blocking.NewService(store, clk, nil, blocking.Options{Location: time.UTC})
	svc := NewAuthService(Dependencies{
		Ledger:           otp.NewLedger(clk, nil, otp.Options{}),
		Blocking:         blocks,
		Detector:         security.NewDetector(memory.NewRequestLogRepository(), attempts, clk, nil, 0, 0),
		Users:            memory.NewUserRepository(hasher.Hash),
		Sender:           sender,
		Tokens:           tokens,
		Validator:        v,
		Hasher:           hasher,
		Events:           log,
		Clock:            clk,
		RequireRecaptcha: requireRecaptcha,
	})
	return &harness{svc: svc, clock: clk, sender: sender, events: log, attempts: attempts, blocking: blocks, tokens: tokens}
}

func device(ua string) DeviceInfo {
	return DeviceInfo{IPAddress: "203.0.113.7", UserAgent: ua}
}

func (h *harness) initiate(t *testing.T) *InitiateResult {
	t.Helper()
	res, err := h.svc.InitiatePhoneAuth(context.Background(), InitiateRequest{PhoneNumber: testPhone}, device("ua-1"))
	require.NoError(t, err)
	return res
}

func (h *harness) verify(code, verificationID string) (*VerifyResult, error) {
	return h.svc.VerifyOTP(context.Background(), VerifyRequest{
		PhoneNumber:    testPhone,
		OTPCode:        code,
		VerificationID: verificationID,
	}, device("ua-1"))
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func requireKind(t *testing.T, err error, kind error) *AuthError {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, kind)
	ae, ok := AsAuthError(err)
	require.True(t, ok)
	return ae
}

func TestInitiateThenVerify(t *testing.T) {
	h := newHarness(t, false)

	res := h.initiate(t)
	assert.Equal(t, MessageOTPSent, res.Message)
	assert.Equal(t, 300, res.ExpiresIn)
	assert.NotEmpty(t, res.VerificationID)

	out, err := h.verify(h.sender.code(testPhone), res.VerificationID)
	require.NoError(t, err)
	assert.Equal(t, MessageAuthenticated, out.Message)
	assert.True(t, out.User.IsVerified)
	require.NotNil(t, out.User.LastLogin)

	claims, err := h.tokens.Parse(out.Token)
	require.NoError(t, err)
	assert.Equal(t, out.User.UserID, claims.UserID)
	assert.Equal(t, testPhone, claims.PhoneNumber)

	_, err = h.verify(h.sender.code(testPhone), res.VerificationID)
	requireKind(t, err, ErrOTPNotFound)

	assert.Equal(t, []models.SecurityEventType{
		models.EventOTPIssued, models.EventOTPVerified, models.EventOTPFailed,
	}, h.events.types())
}

func TestInitiateWhileActive(t *testing.T) {
	h := newHarness(t, false)
	h.initiate(t)

	h.clock.Advance(100 * time.Second)
	_, err := h.svc.InitiatePhoneAuth(context.Background(), InitiateRequest{PhoneNumber: testPhone}, device("ua-1"))
	ae := requireKind(t, err, ErrOTPAlreadyActive)
	assert.Equal(t, 200, ae.RemainingSeconds)
	assert.Equal(t, "Please wait 200 seconds before requesting new OTP", ae.Message)
}

func TestInitiateValidation(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.svc.InitiatePhoneAuth(context.Background(), InitiateRequest{PhoneNumber: "4155550000"}, device("ua-1"))
	ae := requireKind(t, err, ErrValidationFailed)
	assert.Contains(t, ae.Fields, "phoneNumber")
	assert.Empty(t, h.sender.code("4155550000"))
}

func TestInitiateRequiresRecaptcha(t *testing.T) {
	h := newHarness(t, true)

	_, err := h.svc.InitiatePhoneAuth(context.Background(), InitiateRequest{PhoneNumber: testPhone}, device("ua-1"))
	ae := requireKind(t, err, ErrValidationFailed)
	assert.Contains(t, ae.Fields, "recaptchaToken")

	_, err = h.svc.InitiatePhoneAuth(context.Background(),
		InitiateRequest{PhoneNumber: testPhone, RecaptchaToken: "token"}, device("ua-1"))
	assert.NoError(t, err)
}

func TestVerifyMismatchAndCeiling(t *testing.T) {
	h := newHarness(t, false)
	res := h.initiate(t)
	bad := wrongCode(h.sender.code(testPhone))

	_, err := h.verify(bad, res.VerificationID)
	ae := requireKind(t, err, ErrOTPMismatch)
	assert.Equal(t, 2, ae.AttemptsRemaining)
	assert.Equal(t, "Invalid OTP. 2 attempts remaining.", ae.Message)

	_, err = h.verify(bad, res.VerificationID)
	requireKind(t, err, ErrOTPMismatch)
	_, err = h.verify(bad, res.VerificationID)
	ae = requireKind(t, err, ErrOTPMismatch)
	assert.Equal(t, 0, ae.AttemptsRemaining)

	_, err = h.verify(h.sender.code(testPhone), res.VerificationID)
	requireKind(t, err, ErrOTPAttemptsExceeded)

	rec, err := h.svc.BlockStatus(context.Background(), testPhone)
	require.NoError(t, err)
	require.NotNil(t, rec.Record)
	assert.Equal(t, 5, rec.Record.DailyAttempts)
}

func TestVerifyExpired(t *testing.T) {
	h := newHarness(t, false)
	res := h.initiate(t)

	h.clock.Advance(301 * time.Second)
	_, err := h.verify(h.sender.code(testPhone), res.VerificationID)
	ae := requireKind(t, err, ErrOTPExpired)
	assert.Equal(t, MessageOTPExpired, ae.Message)
}

func TestInitiateEscalatesToBlock(t *testing.T) {
	h := newHarness(t, false)

	for i := 0; i < blocking.DefaultDailyCeiling; i++ {
		h.initiate(t)
		h.clock.Advance(301 * time.Second)
	}

	_, err := h.svc.InitiatePhoneAuth(context.Background(), InitiateRequest{PhoneNumber: testPhone}, device("ua-1"))
	ae := requireKind(t, err, ErrTemporarilyBlocked)
	assert.Equal(t, blocking.MessageTemporaryBlock, ae.Message)
	require.NotNil(t, ae.BlockedUntil)
	assert.NotEmpty(t, ae.RemainingTime)

	_, err = h.verify("123456", "any")
	requireKind(t, err, ErrTemporarilyBlocked)

	list, err := h.svc.ListBlocked(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, testPhone, list[0].PhoneNumber)

	ok, err := h.svc.Unblock(context.Background(), testPhone)
	require.NoError(t, err)
	assert.True(t, ok)
	h.initiate(t)

	assert.Contains(t, h.events.types(), models.EventBlocked)
	assert.Contains(t, h.events.types(), models.EventUnblocked)
}

func TestInitiatePermanentBlock(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	for i := 0; i <= blocking.DefaultDailyCeiling; i++ {
		_, err := h.blocking.RecordAttempt(ctx, testPhone)
		require.NoError(t, err)
	}

	_, err := h.svc.InitiatePhoneAuth(ctx, InitiateRequest{PhoneNumber: testPhone}, device("ua-1"))
	ae := requireKind(t, err, ErrPermanentlyBlocked)
	assert.Equal(t, blocking.MessagePermanentBlock, ae.Message)

	status, err := h.svc.BlockStatus(ctx, testPhone)
	require.NoError(t, err)
	assert.True(t, status.Blocked)
	assert.Equal(t, string(blocking.ReasonAdminBlocked), status.Reason)

	ok, err := h.svc.Unblock(ctx, testPhone)
	require.NoError(t, err)
	assert.True(t, ok)

	status, err = h.svc.BlockStatus(ctx, testPhone)
	require.NoError(t, err)
	assert.False(t, status.Blocked)
	assert.Nil(t, status.Record)
	h.initiate(t)
}

func TestSuspiciousDeviceFanOut(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	for i := 1; i <= security.DefaultMaxDevices; i++ {
		_, _ = h.svc.InitiatePhoneAuth(ctx, InitiateRequest{PhoneNumber: testPhone}, device(fmt.Sprintf("ua-%d", i)))
	}

	_, err := h.svc.InitiatePhoneAuth(ctx, InitiateRequest{PhoneNumber: testPhone}, device("ua-new"))
	ae := requireKind(t, err, ErrSuspiciousActivity)
	assert.Equal(t, MessageSuspicious, ae.Message)

	byIP, err := h.attempts.Get(ctx, "203.0.113.7", models.AttemptKindIP)
	require.NoError(t, err)
	assert.EqualValues(t, 1, byIP.Attempts)

	byPhone, err := h.attempts.Get(ctx, testPhone, models.AttemptKindPhone)
	require.NoError(t, err)
	assert.EqualValues(t, 1, byPhone.Attempts)
	assert.Contains(t, h.events.types(), models.EventSuspiciousActivity)
}

func TestDeliveryFailureIsInternal(t *testing.T) {
	h := newHarness(t, false)
	h.sender.err = errors.New("broker down")

	_, err := h.svc.InitiatePhoneAuth(context.Background(), InitiateRequest{PhoneNumber: testPhone}, device("ua-1"))
	ae := requireKind(t, err, ErrInternal)
	assert.Equal(t, MessageInitiateFailed, ae.Message)
	assert.ErrorContains(t, ae, "broker down")

	h.sender.err = nil
	h.initiate(t)
}

// failingBlockStore fails the next failUpdates calls to Update.
type failingBlockStore struct {
	*memory.BlockStore
	mu          sync.Mutex
	failUpdates int
}

func (s *failingBlockStore) Update(ctx context.Context, phone string, fn repository.BlockMutation) (*models.BlockRecord, error) {
	s.mu.Lock()
	if s.failUpdates > 0 {
		s.failUpdates--
		s.mu.Unlock()
		return nil, errors.New("storage unavailable")
	}
	s.mu.Unlock()
	return s.BlockStore.Update(ctx, phone, fn)
}

func TestAttemptRecordFailureRevokesCode(t *testing.T) {
	store := &failingBlockStore{BlockStore: memory.NewBlockStore(), failUpdates: 1}
	h := newHarnessWithStore(t, false, store)

	_, err := h.svc.InitiatePhoneAuth(context.Background(), InitiateRequest{PhoneNumber: testPhone}, device("ua-1"))
	ae := requireKind(t, err, ErrInternal)
	assert.Equal(t, MessageInitiateFailed, ae.Message)
	assert.Empty(t, h.sender.code(testPhone))
	assert.Equal(t, 0, h.svc.ledger.Len())

	res := h.initiate(t)
	assert.NotEmpty(t, res.VerificationID)
	assert.NotEmpty(t, h.sender.code(testPhone))
}

func TestBlockStatusUnknownPhone(t *testing.T) {
	h := newHarness(t, false)

	status, err := h.svc.BlockStatus(context.Background(), testPhone)
	require.NoError(t, err)
	assert.False(t, status.Blocked)

	ok, err := h.svc.Unblock(context.Background(), testPhone)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecentEventsWithoutIndex(t *testing.T) {
	h := newHarness(t, false)

	list, err := h.svc.RecentEvents(context.Background(), testPhone, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

type countingWorker struct {
	mu   sync.Mutex
	runs int
}

func (w *countingWorker) Run(ctx context.Context) error {
	w.mu.Lock()
	w.runs++
	w.mu.Unlock()
	<-ctx.Done()
	return nil
}

func TestServiceFactoryRunsWorkers(t *testing.T) {
	w1, w2 := &countingWorker{}, &countingWorker{}
	f := NewServiceFactory(Dependencies{}, w1, w2)
	assert.Same(t, f.AuthService(), f.AuthService())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.RunWorkers(ctx) }()

	require.Eventually(t, func() bool {
		w1.mu.Lock()
		defer w1.mu.Unlock()
		w2.mu.Lock()
		defer w2.mu.Unlock()
		return w1.runs == 1 && w2.runs == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
