package otp

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phone-auth-service/internal/clock"
)

const phone = "+14155550000"

func newTestLedger(t *testing.T) (*Ledger, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	return NewLedger(clk, nil, Options{}), clk
}

func TestGenerateCodeFormat(t *testing.T) {
	re := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		assert.Regexp(t, re, code)
	}
}

func TestIssueThenVerifySucceedsOnce(t *testing.T) {
	l, clk := newTestLedger(t)

	issued, err := l.Issue(phone)
	require.NoError(t, err)
	assert.Equal(t, 300, issued.ExpiresIn)
	assert.NotEmpty(t, issued.VerificationID)

	clk.Advance(299 * time.Second)
	out := l.Verify(phone, issued.Code)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, issued.VerificationID, out.VerificationID)

	out = l.Verify(phone, issued.Code)
	assert.Equal(t, StatusNotFound, out.Status)
	assert.Equal(t, 0, l.Len())
}

func TestIssueWhileActive(t *testing.T) {
	l, clk := newTestLedger(t)

	_, err := l.Issue(phone)
	require.NoError(t, err)

	clk.Advance(100*time.Second + 500*time.Millisecond)
	_, err = l.Issue(phone)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyActive))

	var active *AlreadyActiveError
	require.ErrorAs(t, err, &active)
	assert.Equal(t, 200, active.RemainingSeconds)

	clk.Advance(200 * time.Second)
	_, err = l.Issue(phone)
	assert.NoError(t, err, "expired record must not block a new issue")
}

func TestVerifyAttemptCeiling(t *testing.T) {
	l, _ := newTestLedger(t)
	l.generate = func() (string, error) { return "123456", nil }

	_, err := l.Issue(phone)
	require.NoError(t, err)

	for want := 2; want >= 0; want-- {
		out := l.Verify(phone, "000000")
		assert.Equal(t, StatusMismatch, out.Status)
		assert.Equal(t, want, out.AttemptsRemaining)
	}

	out := l.Verify(phone, "123456")
	assert.Equal(t, StatusAttemptsExceeded, out.Status)
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, StatusNotFound, l.Verify(phone, "123456").Status)
}

func TestVerifyExpired(t *testing.T) {
	l, clk := newTestLedger(t)

	issued, err := l.Issue(phone)
	require.NoError(t, err)

	clk.Advance(301 * time.Second)
	assert.Equal(t, StatusExpired, l.Verify(phone, issued.Code).Status)
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, StatusNotFound, l.Verify(phone, issued.Code).Status)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	l, clk := newTestLedger(t)

	_, err := l.Issue("+14155550001")
	require.NoError(t, err)
	clk.Advance(200 * time.Second)
	_, err = l.Issue("+14155550002")
	require.NoError(t, err)

	clk.Advance(150 * time.Second)
	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

func TestConcurrentVerifyHonoursCeiling(t *testing.T) {
	l, _ := newTestLedger(t)
	l.generate = func() (string, error) { return "654321", nil }
	_, err := l.Issue(phone)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[Status]int{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := l.Verify(phone, "111111")
			mu.Lock()
			statuses[out.Status]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, statuses[StatusMismatch])
	assert.Equal(t, 1, statuses[StatusAttemptsExceeded])
	assert.Equal(t, 6, statuses[StatusNotFound])
}

func TestRunStopsOnCancel(t *testing.T) {
	l := NewLedger(clock.New(), nil, Options{SweepEvery: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRevokeMatchesVerificationID(t *testing.T) {
	l, _ := newTestLedger(t)

	issued, err := l.Issue("+14155552671")
	require.NoError(t, err)

	assert.False(t, l.Revoke("+14155552671", "other"))
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Revoke("+14155552671", issued.VerificationID))
	assert.Equal(t, 0, l.Len())
}
