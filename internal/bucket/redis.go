package bucket

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fluxgate/fluxgate/internal/config"
	"github.com/fluxgate/fluxgate/internal/errs"
	"github.com/fluxgate/fluxgate/internal/rules"
)

// RedisStore is the Redis-backed implementation of Store.
//
// It keeps its own connection pool, separate from the rule repository's
// database connection, so store outages and rule-store outages degrade
// independently.
type RedisStore struct {
	client *redis.Client
	script *redis.Script
}

// NewRedisStore opens a pool against the configured store URI and
// registers the multi-band consume script.
func NewRedisStore(cfg config.StoreConfig) (*RedisStore, error) {
	log.Info().
		Str("component", "bucket_store").
		Str("mode", cfg.Mode).
		Int("pool_size", cfg.PoolSize).
		Msg("initializing bucket store")

	opt, err := redis.ParseURL(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("invalid store uri: %w", err)
	}

	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.MaxRetries = cfg.MaxRetries
	opt.DialTimeout = cfg.DialTimeout
	opt.ReadTimeout = cfg.Timeout
	opt.WriteTimeout = cfg.Timeout

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("bucket store ping failed: %w", err)
	}

	log.Info().Str("component", "bucket_store").Str("addr", opt.Addr).Msg("bucket store connected")

	return &RedisStore{
		client: client,
		script: redis.NewScript(bucketScript),
	}, nil
}

// Consume implements Store.
//
// The script handles EVALSHA/EVAL fallback and the NOSCRIPT retry
// transparently; callers never see a cache-miss error.
func (s *RedisStore) Consume(ctx context.Context, ruleSetID, ruleID, keyValue string, bands []rules.RateLimitBand, permits int64) (bool, []rules.BucketState, int64, error) {
	if len(bands) == 0 {
		return false, nil, 0, errs.RuleExecution("bucket.Consume", fmt.Errorf("rule %s has no bands", ruleID))
	}

	keys := make([]string, len(bands))
	args := make([]interface{}, 0, 2+4*len(bands))
	args = append(args, len(bands), permits)

	for i, band := range bands {
		keys[i] = Key(ruleSetID, ruleID, keyValue, band.Label)
		ttlSeconds := int64(2 * band.RefillInterval.Seconds())
		if ttlSeconds < 1 {
			ttlSeconds = 1
		}
		args = append(args, band.Capacity, band.RefillTokens, band.RefillInterval.Nanoseconds(), ttlSeconds)
	}

	raw, err := s.script.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		if ctx.Err() != nil {
			return false, nil, 0, errs.Timeout("bucket.Consume", err)
		}
		return false, nil, 0, errs.ConnectionStore("bucket.Consume", err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2+4*len(bands) {
		return false, nil, 0, errs.ScriptExecution("bucket.Consume", fmt.Errorf("unexpected script reply shape: %v", raw))
	}

	allowed, err := parseInt(reply[0])
	if err != nil {
		return false, nil, 0, errs.ScriptExecution("bucket.Consume", err)
	}
	nowNanos, err := parseInt(reply[1])
	if err != nil {
		return false, nil, 0, errs.ScriptExecution("bucket.Consume", err)
	}

	states := make([]rules.BucketState, len(bands))
	for i, band := range bands {
		base := 2 + 4*i
		consumedFlag, err := parseInt(reply[base])
		if err != nil {
			return false, nil, 0, errs.ScriptExecution("bucket.Consume", err)
		}
		remaining, err := parseInt(reply[base+1])
		if err != nil {
			return false, nil, 0, errs.ScriptExecution("bucket.Consume", err)
		}
		waitNanos, err := parseInt(reply[base+2])
		if err != nil {
			return false, nil, 0, errs.ScriptExecution("bucket.Consume", err)
		}
		resetNanos, err := parseInt(reply[base+3])
		if err != nil {
			return false, nil, 0, errs.ScriptExecution("bucket.Consume", err)
		}

		states[i] = rules.BucketState{
			BandLabel:       band.Label,
			Consumed:        consumedFlag == 1,
			RemainingTokens: remaining,
			WaitNanos:       waitNanos,
			ResetNanos:      resetNanos,
		}
	}

	return allowed == 1, states, nowNanos, nil
}

// Reset implements Store.
func (s *RedisStore) Reset(ctx context.Context, ruleSetID, ruleID, keyValue string, bandLabels []string) error {
	keys := make([]string, len(bandLabels))
	for i, label := range bandLabels {
		keys[i] = Key(ruleSetID, ruleID, keyValue, label)
	}
	return s.DeleteKeys(ctx, keys)
}

// ScanKeys implements Store using a cursor-based SCAN, never KEYS.
func (s *RedisStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errs.ConnectionStore("bucket.ScanKeys", err)
	}
	return out, nil
}

// DeleteKeys implements Store.
func (s *RedisStore) DeleteKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return errs.ConnectionStore("bucket.DeleteKeys", err)
	}
	return nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errs.ConnectionStore("bucket.Ping", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseInt(v interface{}) (int64, error) {
	switch val := v.(type) {
	case string:
		return strconv.ParseInt(val, 10, 64)
	case int64:
		return val, nil
	default:
		return 0, fmt.Errorf("unexpected numeric reply type %T", v)
	}
}
