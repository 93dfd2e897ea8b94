package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluxgate/fluxgate/internal/errs"
	"github.com/fluxgate/fluxgate/internal/rules"
)

// RuleChangePublisher is the explicit, typed interface the admin layer
// calls when a rule or rule set changes. The core never inspects
// published events through reflection or an AOP-style interceptor; it
// only ever observes them as rules.ReloadListener callbacks once a
// reload.Strategy has relayed them back.
type RuleChangePublisher interface {
	Publish(ctx context.Context, event rules.RuleReloadEvent) error
}

// wireMessage is the JSON payload published to the transport, matching
// the shape a reload.Strategy expects to parse.
type wireMessage struct {
	RuleSetID  string    `json:"ruleSetId"`
	FullReload bool      `json:"fullReload"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
}

// RedisPublisher publishes rule-change events to a Redis pub/sub channel,
// guarded by a circuit breaker so a publish storm during a Redis outage
// doesn't pile up blocked admin requests.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	breaker *CircuitBreaker
}

// NewRedisPublisher builds a publisher over client/channel.
func NewRedisPublisher(client *redis.Client, channel string, breaker *CircuitBreaker) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, breaker: breaker}
}

// Publish implements RuleChangePublisher.
func (p *RedisPublisher) Publish(ctx context.Context, event rules.RuleReloadEvent) error {
	if p.breaker != nil && !p.breaker.Allow() {
		return errs.CircuitOpen("notify.Publish")
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

	err = p.client.Publish(ctx, p.channel, payload).Err()
	if p.breaker != nil {
		p.breaker.Record(err == nil)
	}
	if err != nil {
		return errs.Notification("notify.Publish", err)
	}
	return nil
}
