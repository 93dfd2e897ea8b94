package reload

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fluxgate/fluxgate/internal/rules"
)

// pubSubMessage is the wire format published by the admin layer.
type pubSubMessage struct {
	RuleSetID  string    `json:"ruleSetId"`
	FullReload bool      `json:"fullReload"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
}

// PubSubStrategy listens for rule-set changes on a Redis pub/sub channel.
//
// Subscription failures are retried with exponential backoff rather than
// giving up, since a transient Redis restart shouldn't strand FluxGate on
// stale rules until the next process restart.
type PubSubStrategy struct {
	*dispatcher

	client  *redis.Client
	channel string
	stop    chan struct{}
}

// NewPubSubStrategy builds a pub/sub reload strategy against channel.
func NewPubSubStrategy(client *redis.Client, channel string) *PubSubStrategy {
	return &PubSubStrategy{
		dispatcher: newDispatcher(),
		client:     client,
		channel:    channel,
		stop:       make(chan struct{}),
	}
}

// Start implements Strategy. It reconnects indefinitely until ctx is
// canceled or Stop is called.
func (p *PubSubStrategy) Start(ctx context.Context) error {
	p.setRunning(true)
	defer p.setRunning(false)

	backoff := 250 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stop:
			return nil
		default:
		}

		if err := p.listenOnce(ctx); err != nil {
			log.Warn().
				Err(err).
				Str("component", "reload").
				Str("channel", p.channel).
				Dur("backoff", backoff).
				Msg("pubsub subscription lost, reconnecting")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			case <-p.stop:
				return nil
			}

			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		// listenOnce only returns nil when ctx/stop fired.
		return nil
	}
}

func (p *PubSubStrategy) listenOnce(ctx context.Context) error {
	pubsub := p.client.Subscribe(ctx, p.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	log.Info().Str("component", "reload").Str("channel", p.channel).Msg("subscribed to rule reload channel")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stop:
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errConnectionClosed
			}
			p.handleMessage(msg.Payload)
		}
	}
}

func (p *PubSubStrategy) handleMessage(payload string) {
	var m pubSubMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		log.Warn().Err(err).Str("component", "reload").Msg("failed to parse rule reload message")
		return
	}

	event := rules.RuleReloadEvent{
		RuleSetID:  m.RuleSetID,
		FullReload: m.FullReload,
		Timestamp:  m.Timestamp,
		Source:     rules.SourcePubSub,
	}
	if m.Source != "" {
		event.Metadata = map[string]string{"origin": m.Source}
	}
	p.dispatch(event)
}

// Stop implements Strategy.
func (p *PubSubStrategy) Stop() error {
	close(p.stop)
	return nil
}

var errConnectionClosed = pubSubClosedError{}

type pubSubClosedError struct{}

func (pubSubClosedError) Error() string { return "pubsub channel closed" }
