package reload

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/rs/zerolog/log"

	"github.com/fluxgate/fluxgate/internal/rules"
)

// kafkaMessage mirrors pubSubMessage's wire format over a Kafka topic.
type kafkaMessage struct {
	RuleSetID  string    `json:"ruleSetId"`
	FullReload bool      `json:"fullReload"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
}

// KafkaStrategy observes rule-set changes published to a Kafka topic.
// It's the alternate reload transport for deployments that already run a
// Kafka-based configuration bus rather than Redis pub/sub.
type KafkaStrategy struct {
	*dispatcher

	reader *kafka.Reader
	stop   chan struct{}
}

// NewKafkaStrategy builds a reload strategy consuming brokers/topic with
// a dedicated consumer group, so every FluxGate instance sees every
// reload event rather than the partition being load-balanced away.
func NewKafkaStrategy(brokers []string, topic, groupID string) *KafkaStrategy {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})

	return &KafkaStrategy{
		dispatcher: newDispatcher(),
		reader:     reader,
		stop:       make(chan struct{}),
	}
}

// Start implements Strategy.
func (k *KafkaStrategy) Start(ctx context.Context) error {
	k.setRunning(true)
	defer k.setRunning(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-k.stop:
			return nil
		default:
		}

		msg, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("component", "reload").Msg("kafka read failed, retrying")
			continue
		}

		var m kafkaMessage
		if err := json.Unmarshal(msg.Value, &m); err != nil {
			log.Warn().Err(err).Str("component", "reload").Msg("failed to parse kafka reload message")
			continue
		}

		event := rules.RuleReloadEvent{
			RuleSetID:  m.RuleSetID,
			FullReload: m.FullReload,
			Timestamp:  m.Timestamp,
			Source:     rules.SourceKafka,
		}
		if m.Source != "" {
			event.Metadata = map[string]string{"origin": m.Source}
		}
		k.dispatch(event)
	}
}

// Stop implements Strategy.
func (k *KafkaStrategy) Stop() error {
	close(k.stop)
	return k.reader.Close()
}

// ParseBrokers splits a comma-separated broker list, the format used by
// the KAFKA_BROKERS environment variable.
func ParseBrokers(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p := strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
