package reload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fluxgate/fluxgate/internal/rules"
)

type fakeRuleRepo struct {
	byRuleSet map[string][]rules.RateLimitRule
}

func (f *fakeRuleRepo) FindByRuleSetID(ctx context.Context, ruleSetID string) ([]rules.RateLimitRule, error) {
	return f.byRuleSet[ruleSetID], nil
}
func (f *fakeRuleRepo) FindByID(ctx context.Context, id string) (*rules.RateLimitRule, error) {
	return nil, nil
}
func (f *fakeRuleRepo) Save(ctx context.Context, rule rules.RateLimitRule) error { return nil }
func (f *fakeRuleRepo) DeleteByID(ctx context.Context, id string) (bool, error) { return false, nil }
func (f *fakeRuleRepo) FindAll(ctx context.Context) ([]rules.RateLimitRule, error) {
	return nil, nil
}
func (f *fakeRuleRepo) DeleteByRuleSetID(ctx context.Context, ruleSetID string) (int, error) {
	return 0, nil
}

type staticIDs []string

func (s staticIDs) GetCachedRuleSetIDs() []string { return []string(s) }

type capturingListener struct {
	events []rules.RuleReloadEvent
}

func (c *capturingListener) OnRuleReload(event rules.RuleReloadEvent) {
	c.events = append(c.events, event)
}

func TestPollingStrategy_DetectsChange(t *testing.T) {
	repo := &fakeRuleRepo{byRuleSet: map[string][]rules.RateLimitRule{
		"set-1": {{ID: "r1", RuleSetID: "set-1", Priority: 1, Enabled: true}},
	}}

	strategy := NewPollingStrategy(repo, staticIDs{"set-1"}, 10*time.Millisecond, 0)
	listener := &capturingListener{}
	strategy.AddListener(listener)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	go strategy.Start(ctx)
	<-ctx.Done()

	if len(listener.events) != 1 {
		t.Fatalf("expected exactly 1 event for an unchanged rule set across polls, got %d: %+v", len(listener.events), listener.events)
	}

	// Mutate the rule set; a later poll (outside this test's short window)
	// would need to observe a new hash. We verify the hash function itself
	// distinguishes the two states directly.
	before, err := versionHash("set-1", repo.byRuleSet["set-1"])
	if err != nil {
		t.Fatalf("versionHash: %v", err)
	}
	repo.byRuleSet["set-1"][0].Priority = 2
	after, err := versionHash("set-1", repo.byRuleSet["set-1"])
	if err != nil {
		t.Fatalf("versionHash: %v", err)
	}
	if before == after {
		t.Error("expected version hash to change when a rule's priority changes")
	}
}

// dynamicIDs is a RuleSetIDSource whose backing set can grow mid-test, to
// exercise that PollingStrategy re-reads it on every tick rather than a
// list frozen at construction time.
type dynamicIDs struct {
	mu  sync.Mutex
	ids []string
}

func (d *dynamicIDs) add(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)
}

func (d *dynamicIDs) GetCachedRuleSetIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.ids))
	copy(out, d.ids)
	return out
}

func TestPollingStrategy_PicksUpRuleSetAddedAfterStartup(t *testing.T) {
	repo := &fakeRuleRepo{byRuleSet: map[string][]rules.RateLimitRule{
		"set-1": {{ID: "r1", RuleSetID: "set-1", Enabled: true}},
		"set-2": {{ID: "r2", RuleSetID: "set-2", Enabled: true}},
	}}

	ids := &dynamicIDs{ids: []string{"set-1"}}
	strategy := NewPollingStrategy(repo, ids, 10*time.Millisecond, 0)
	listener := &capturingListener{}
	strategy.AddListener(listener)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	go strategy.Start(ctx)

	// set-2 isn't tracked yet: it must not be polled until it shows up in
	// the ID source, mirroring a rule set that a request hasn't resolved
	// (and therefore cached) yet.
	time.Sleep(15 * time.Millisecond)
	ids.add("set-2")

	<-ctx.Done()

	sawSet2 := false
	for _, e := range listener.events {
		if e.RuleSetID == "set-2" {
			sawSet2 = true
		}
	}
	if !sawSet2 {
		t.Fatalf("expected set-2 to be polled once added to the ID source, got events: %+v", listener.events)
	}
}

func TestDispatcher_DedupsWithinWindow(t *testing.T) {
	d := newDispatcher()
	listener := &capturingListener{}
	d.AddListener(listener)

	now := time.Now()
	d.dispatch(rules.RuleReloadEvent{RuleSetID: "set-1", Timestamp: now})
	d.dispatch(rules.RuleReloadEvent{RuleSetID: "set-1", Timestamp: now.Add(50 * time.Millisecond)})

	if len(listener.events) != 1 {
		t.Fatalf("expected duplicate within dedup window to be dropped, got %d events", len(listener.events))
	}

	d.dispatch(rules.RuleReloadEvent{RuleSetID: "set-1", Timestamp: now.Add(200 * time.Millisecond)})
	if len(listener.events) != 2 {
		t.Fatalf("expected event outside dedup window to be delivered, got %d events", len(listener.events))
	}
}

type panickingListener struct{}

func (panickingListener) OnRuleReload(rules.RuleReloadEvent) { panic("boom") }

func TestDispatcher_PanickingListenerDoesNotBlockPeers(t *testing.T) {
	d := newDispatcher()
	d.AddListener(panickingListener{})
	listener := &capturingListener{}
	d.AddListener(listener)

	d.dispatch(rules.RuleReloadEvent{RuleSetID: "set-1", Timestamp: time.Now()})

	if len(listener.events) != 1 {
		t.Fatalf("expected the peer listener to still receive the event, got %d", len(listener.events))
	}
}

func TestDispatcher_TriggerReloadAndTriggerReloadAll(t *testing.T) {
	d := newDispatcher()
	listener := &capturingListener{}
	d.AddListener(listener)

	d.TriggerReload("set-1")
	if len(listener.events) != 1 || listener.events[0].RuleSetID != "set-1" || listener.events[0].FullReload {
		t.Fatalf("expected a targeted manual reload for set-1, got %+v", listener.events)
	}
	if listener.events[0].Source != rules.SourceManual {
		t.Errorf("expected source MANUAL, got %s", listener.events[0].Source)
	}

	d.TriggerReloadAll()
	if len(listener.events) != 2 || !listener.events[1].FullReload {
		t.Fatalf("expected a full manual reload to follow, got %+v", listener.events)
	}
}

func TestDispatcher_DifferentRuleSetsNeverDeduped(t *testing.T) {
	d := newDispatcher()
	listener := &capturingListener{}
	d.AddListener(listener)

	now := time.Now()
	d.dispatch(rules.RuleReloadEvent{RuleSetID: "set-1", Timestamp: now})
	d.dispatch(rules.RuleReloadEvent{RuleSetID: "set-2", Timestamp: now})

	if len(listener.events) != 2 {
		t.Fatalf("expected both rule sets to be delivered, got %d", len(listener.events))
	}
}
