// Package events publishes job lifecycle notifications to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"promptgallery/internal/models"
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return NewPublisher(kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
		Topic:   topic,
	}))
}

func NewPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// Publish writes ev as JSON keyed by the job id.
func (p *KafkaPublisher) Publish(ctx context.Context, ev models.JobEvent) error {
	const op = "events.Publish"

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.JobID), Value: payload}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.WithFields(log.Fields{"job_id": ev.JobID, "status": ev.Status}).Debug("Job event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop drops every event. It is used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, models.JobEvent) error { return nil }
func (Nop) Close() error                                    { return nil }

// Publisher is what the service wires into the job tracker.
type Publisher interface {
	Publish(ctx context.Context, ev models.JobEvent) error
	Close() error
}

// New returns a Kafka publisher when brokers are configured, Nop otherwise.
func New(cfg models.KafkaConfig) Publisher {
	if len(cfg.Brokers) == 0 {
		return Nop{}
	}
	log.WithFields(log.Fields{"brokers": cfg.Brokers, "topic": cfg.Topic}).Info("Publishing job events to Kafka")
	return NewKafkaPublisher(cfg.Brokers, cfg.Topic)
}
