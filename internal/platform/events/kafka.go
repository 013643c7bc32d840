// Package events publishes audit and access records to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pyneumonia/pyneumonia/internal/platform/audit"
	"github.com/pyneumonia/pyneumonia/internal/platform/middleware"
)

const (
	KindAudit  = "audit"
	KindAccess = "access"

	kindHeader = "event-kind"
)

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	w       messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) *Publisher {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
	return &Publisher{w: w, timeout: 10 * time.Second}
}

func newPublisher(w messageWriter) *Publisher {
	return &Publisher{w: w, timeout: 10 * time.Second}
}

func (p *Publisher) publish(ctx context.Context, kind, key string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: kindHeader, Value: []byte(kind)}},
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", kind, err)
	}
	return nil
}

// Record implements audit.Sink. Events are keyed by record id so every change
// to one record lands on the same partition in order.
func (p *Publisher) Record(ctx context.Context, evt audit.Event) error {
	return p.publish(ctx, KindAudit, evt.RecordID.String(), evt)
}

type accessMessage struct {
	UserID       string    `json:"user_id"`
	UserRoles    []string  `json:"user_roles"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	PatientID    string    `json:"patient_id,omitempty"`
	Action       string    `json:"action"`
	IPAddress    string    `json:"ip_address"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	StatusCode   int       `json:"status_code"`
	RequestID    string    `json:"request_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// RecordAccess implements middleware.AccessRecorder.
func (p *Publisher) RecordAccess(ctx context.Context, e middleware.AccessEntry) error {
	msg := accessMessage{
		UserID:       e.UserID,
		UserRoles:    e.UserRoles,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		PatientID:    e.PatientID,
		Action:       e.Action,
		IPAddress:    e.IPAddress,
		Method:       e.Method,
		Path:         e.Path,
		StatusCode:   e.StatusCode,
		RequestID:    e.RequestID,
		Timestamp:    e.Timestamp,
	}
	key := e.PatientID
	if key == "" {
		key = e.UserID
	}
	return p.publish(ctx, KindAccess, key, msg)
}

func (p *Publisher) Close() error {
	return p.w.Close()
}
