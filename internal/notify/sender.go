// Package notify hands one-time codes to the SMS delivery pipeline.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"phone-auth-service/internal/clock"
	"phone-auth-service/internal/util"
)

type Sender interface {
	Send(ctx context.Context, phone, code string) error
}

// Producer is satisfied by client.KafkaProducer.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

type PhoneHasher interface {
	Hash(phone string) string
}

// DeliveryRequest is the message consumed by the SMS gateway.
type DeliveryRequest struct {
	PhoneNumber string    `json:"phoneNumber"`
	Code        string    `json:"code"`
	Purpose     string    `json:"purpose"`
	RequestedAt time.Time `json:"requestedAt"`
}

// KafkaSender publishes delivery requests keyed by phone hash so every
// request for one number lands on the same partition.
type KafkaSender struct {
	producer Producer
	topic    string
	hasher   PhoneHasher
	clock    clock.Clock
}

func NewKafkaSender(producer Producer, topic string, hasher PhoneHasher, clk clock.Clock) *KafkaSender {
	return &KafkaSender{producer: producer, topic: topic, hasher: hasher, clock: clk}
}

func (s *KafkaSender) Send(ctx context.Context, phone, code string) error {
	payload, err := json.Marshal(DeliveryRequest{
		PhoneNumber: phone,
		Code:        code,
		Purpose:     "login",
		RequestedAt: s.clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode delivery request: %w", err)
	}

	headers := map[string]string{"event-type": "otp.delivery"}
	if err := s.producer.Produce(ctx, s.topic, []byte(s.hasher.Hash(phone)), payload, headers); err != nil {
		return fmt.Errorf("failed to enqueue otp delivery: %w", err)
	}
	return nil
}

// LogSender writes the code to the log instead of sending it. Development
// only.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, phone, code string) error {
	s.logger.Info("Development OTP", util.Phone("phone", phone), zap.String("otp", code))
	return nil
}
