package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"phone-auth-service/internal/clock"
)

type message struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

type fakeProducer struct {
	sent []message
	err  error
}

func (p *fakeProducer) Produce(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, message{topic, key, value, headers})
	return nil
}

type prefixHasher struct{}

func (prefixHasher) Hash(phone string) string { return "h" + phone }

func TestKafkaSender(t *testing.T) {
	p := &fakeProducer{}
	now := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	s := NewKafkaSender(p, "sms-otp-delivery", prefixHasher{}, clock.NewFake(now))

	require.NoError(t, s.Send(context.Background(), "+14155550100", "042917"))
	require.Len(t, p.sent, 1)

	msg := p.sent[0]
	assert.Equal(t, "sms-otp-delivery", msg.topic)
	assert.Equal(t, "h+14155550100", string(msg.key))
	assert.Equal(t, "otp.delivery", msg.headers["event-type"])

	var req DeliveryRequest
	require.NoError(t, json.Unmarshal(msg.value, &req))
	assert.Equal(t, "+14155550100", req.PhoneNumber)
	assert.Equal(t, "042917", req.Code)
	assert.True(t, req.RequestedAt.Equal(now))

	p.err = errors.New("broker down")
	assert.Error(t, s.Send(context.Background(), "+14155550100", "000000"))
}

func TestLogSender(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewLogSender(zap.New(core))

	require.NoError(t, s.Send(context.Background(), "+14155550100", "123456"))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "123456", fields["otp"])
	assert.Equal(t, "+141******00", fields["phone"])
}
