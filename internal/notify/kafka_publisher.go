package notify

import (
	"context"
	"encoding/json"

	kafka "github.com/segmentio/kafka-go"

	"github.com/fluxgate/fluxgate/internal/errs"
	"github.com/fluxgate/fluxgate/internal/rules"
)

// KafkaPublisher publishes rule-change events to a Kafka topic, the
// counterpart to reload.KafkaStrategy for deployments that run a
// Kafka-based configuration bus instead of Redis pub/sub.
type KafkaPublisher struct {
	writer  *kafka.Writer
	breaker *CircuitBreaker
}

// NewKafkaPublisher builds a publisher writing to brokers/topic.
func NewKafkaPublisher(brokers []string, topic string, breaker *CircuitBreaker) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		breaker: breaker,
	}
}

// Publish implements RuleChangePublisher.
func (p *KafkaPublisher) Publish(ctx context.Context, event rules.RuleReloadEvent) error {
	if p.breaker != nil && !p.breaker.Allow() {
		return errs.CircuitOpen("notify.KafkaPublish")
	}

	payload, err := json.Marshal(wireMessage{
		RuleSetID:  event.RuleSetID,
		FullReload: event.FullReload,
		Timestamp:  event.Timestamp,
		Source:     event.Source,
	})
	if err != nil {
		if p.breaker != nil {
			p.breaker.Record(false)
		}
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.RuleSetID),
		Value: payload,
	})
	if p.breaker != nil {
		p.breaker.Record(err == nil)
	}
	if err != nil {
		return errs.Notification("notify.KafkaPublish", err)
	}
	return nil
}

// Close releases the underlying Kafka writer's connections.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
