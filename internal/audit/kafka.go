package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/streamgate/streamgate/internal/store/core"
)

// KafkaSink exports security events to a topic for downstream SIEM
// pipelines. Best-effort by design; the store row is the source of truth.
type KafkaSink struct {
	writer *kafka.Writer
}

type kafkaEvent struct {
	EventType string         `json:"eventType"`
	UserID    string         `json:"userId,omitempty"`
	ClientIP  string         `json:"clientIp,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Severity  string         `json:"severity"`
	Timestamp int64          `json:"timestamp"` // epoch millis
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 100 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (s *KafkaSink) Publish(ctx context.Context, e *core.SecurityEvent) error {
	payload, err := json.Marshal(kafkaEvent{
		EventType: e.EventType,
		UserID:    e.UserID,
		ClientIP:  e.ClientIP,
		Details:   e.Details,
		Severity:  string(e.Severity),
		Timestamp: e.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.EventType),
		Value: payload,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
