package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fluxgate/fluxgate/internal/rules"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return &RedisStore{client: client, script: redis.NewScript(bucketScript)}, mr
}

func TestRedisStore_Consume_SingleBandAllows(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	bands := []rules.RateLimitBand{
		{Label: "burst", Capacity: 3, RefillTokens: 3, RefillInterval: time.Second},
	}

	for i := 0; i < 3; i++ {
		allowed, states, _, err := store.Consume(ctx, "set-1", "rule-1", "ip:1.2.3.4", bands, 1)
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}
		if !allowed {
			t.Fatalf("expected request %d to be allowed, states=%+v", i, states)
		}
	}

	allowed, states, _, err := store.Consume(ctx, "set-1", "rule-1", "ip:1.2.3.4", bands, 1)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if allowed {
		t.Fatalf("expected 4th request to be rejected, states=%+v", states)
	}
	if states[0].Consumed {
		t.Error("rejected band must not report consumed")
	}
	if states[0].RemainingTokens != 0 {
		t.Errorf("expected 0 remaining tokens, got %d", states[0].RemainingTokens)
	}
}

func TestRedisStore_Consume_MultiBandAtomicRejection(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	bands := []rules.RateLimitBand{
		{Label: "burst", Capacity: 100, RefillTokens: 100, RefillInterval: time.Second},
		{Label: "sustained", Capacity: 1, RefillTokens: 1, RefillInterval: time.Hour},
	}

	allowed, _, _, err := store.Consume(ctx, "set-1", "rule-2", "ip:9.9.9.9", bands, 1)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if !allowed {
		t.Fatal("expected first request to be allowed")
	}

	// The "burst" band has plenty of capacity, but "sustained" is now
	// exhausted; the whole rule must reject, and the burst band's state
	// must be left untouched (read-only-on-rejection).
	allowed, states, _, err := store.Consume(ctx, "set-1", "rule-2", "ip:9.9.9.9", bands, 1)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if allowed {
		t.Fatal("expected second request to be rejected by the sustained band")
	}
	if states[0].RemainingTokens != 99 {
		t.Errorf("expected burst band to still report 99 tokens (not consumed), got %d", states[0].RemainingTokens)
	}

	// Confirm the burst band truly wasn't debited: a later, burst-only
	// check would still see its tokens intact.
	allowed, states, _, err = store.Consume(ctx, "set-1", "rule-2", "ip:9.9.9.9", bands[:1], 1)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if !allowed {
		t.Fatal("expected burst-only check to be allowed")
	}
	if states[0].RemainingTokens != 98 {
		t.Errorf("expected 98 remaining after debiting burst band once more, got %d", states[0].RemainingTokens)
	}
}

func TestRedisStore_Reset(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	bands := []rules.RateLimitBand{{Label: "burst", Capacity: 1, RefillTokens: 1, RefillInterval: time.Second}}
	if _, _, _, err := store.Consume(ctx, "set-1", "rule-3", "ip:5.5.5.5", bands, 1); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	key := Key("set-1", "rule-3", "ip:5.5.5.5", "burst")
	if !mr.Exists(key) {
		t.Fatalf("expected key %s to exist before reset", key)
	}

	if err := store.Reset(ctx, "set-1", "rule-3", "ip:5.5.5.5", []string{"burst"}); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if mr.Exists(key) {
		t.Errorf("expected key %s to be gone after reset", key)
	}
}

func TestRedisStore_ScanKeys(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	bands := []rules.RateLimitBand{{Label: "burst", Capacity: 5, RefillTokens: 5, RefillInterval: time.Second}}
	for _, ip := range []string{"1.1.1.1", "2.2.2.2"} {
		if _, _, _, err := store.Consume(ctx, "set-9", "rule-9", "ip:"+ip, bands, 1); err != nil {
			t.Fatalf("Consume: %v", err)
		}
	}

	keys, err := store.ScanKeys(ctx, "fluxgate:set-9:rule-9:*")
	if err != nil {
		t.Fatalf("ScanKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d: %v", len(keys), keys)
	}
}
