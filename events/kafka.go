package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/goliatone/go-dispatch/core"
)

const DefaultKafkaTopic = "dispatch.engine.events"

type kafkaEnvelope struct {
	Name       string    `json:"name"`
	JobID      string    `json:"job_id,omitempty"`
	Lane       string    `json:"lane,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// KafkaPublisher mirrors engine events onto a Kafka topic so external
// consumers (audit, analytics) can follow delivery progress.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("events: at least one kafka broker is required")
	}
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: build kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(_ context.Context, event core.EngineEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("events: kafka publisher is not configured")
	}
	payload, err := json.Marshal(kafkaEnvelope{
		Name:       event.Name,
		JobID:      event.JobID,
		Lane:       event.Lane,
		Channel:    string(event.Channel),
		Detail:     event.Detail,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("events: encode engine event: %w", err)
	}

	key := event.JobID
	if key == "" {
		key = event.Name
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("events: kafka publish: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

var _ core.EventPublisher = (*KafkaPublisher)(nil)
