// Package rules defines the rate-limiting domain model: rule sets, rules,
// bands, and the request context they are evaluated against.
package rules

import "time"

// Scope identifies what a rule's key is derived from.
type Scope string

const (
	ScopeGlobal    Scope = "GLOBAL"
	ScopePerIP     Scope = "PER_IP"
	ScopePerUser   Scope = "PER_USER"
	ScopePerAPIKey Scope = "PER_API_KEY"
	ScopeCustom    Scope = "CUSTOM"
)

// OnLimitExceedPolicy determines what happens when a rule's bands reject
// a request.
type OnLimitExceedPolicy string

const (
	PolicyRejectRequest  OnLimitExceedPolicy = "REJECT_REQUEST"
	PolicyWaitForRefill  OnLimitExceedPolicy = "WAIT_FOR_REFILL"
)

// RateLimitBand is one token-bucket band within a rule, e.g. "10/s" or
// "100/min". A rule may carry several bands that must commit atomically.
type RateLimitBand struct {
	Label             string        `json:"label"`
	Capacity          int64         `json:"capacity"`
	RefillTokens      int64         `json:"refillTokens"`
	RefillInterval    time.Duration `json:"refillInterval"`
}

// RateLimitRule binds a set of bands to a scope and an exceed policy.
type RateLimitRule struct {
	ID                   string              `json:"id"`
	RuleSetID            string              `json:"ruleSetId"`
	Scope                Scope               `json:"scope"`
	CustomKeySource      string              `json:"customKeySource,omitempty"`
	Bands                []RateLimitBand     `json:"bands"`
	OnLimitExceedPolicy  OnLimitExceedPolicy `json:"onLimitExceedPolicy"`
	Priority             int                 `json:"priority"`
	Enabled              bool                `json:"enabled"`
}

// RateLimitRuleSet is a named, versioned collection of rules, bound to
// requests by the orchestrator's include/exclude pattern filter.
type RateLimitRuleSet struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Rules       []RateLimitRule `json:"rules"`
}

// RequestContext carries the data the key resolver and rule evaluation
// need, extracted once per inbound request by the orchestrator.
type RequestContext struct {
	Path       string
	Method     string
	ClientIP   string
	UserID     string
	APIKey     string
	Custom     map[string]string
	TraceID    string
	ArrivedAt  time.Time
}

// RateLimitKey is the fully resolved identity a bucket is keyed on.
type RateLimitKey struct {
	RuleSetID string
	RuleID    string
	Value     string
}

// BucketState is the post-decision state of a single band's bucket.
type BucketState struct {
	BandLabel       string
	Consumed        bool
	RemainingTokens int64
	WaitNanos       int64
	ResetNanos      int64
}

// RateLimitResult is the aggregate outcome of evaluating a rule across all
// of its bands against a request.
type RateLimitResult struct {
	Allowed         bool
	RuleID          string
	MinRemaining    int64
	MaxWaitNanos    int64
	Bands           []BucketState
	Policy          OnLimitExceedPolicy
}

// ReloadSource identifies how a ReloadStrategy detected the change that
// produced a RuleReloadEvent. It is set by the strategy itself, not by
// whatever originally published the change.
const (
	SourcePolling     = "POLLING"
	SourcePubSub      = "PUBSUB"
	SourceKafka       = "KAFKA"
	SourceManual      = "MANUAL"
	SourceAPI         = "API"
	SourceStartup     = "STARTUP"
	SourceCacheExpiry = "CACHE_EXPIRY"
)

// RuleReloadEvent describes a rule-set change, fan out by a ReloadStrategy
// to registered listeners. RuleSetID empty with FullReload true denotes a
// full reload.
type RuleReloadEvent struct {
	RuleSetID  string            `json:"ruleSetId"`
	FullReload bool              `json:"fullReload"`
	Timestamp  time.Time         `json:"timestamp"`
	Source     string            `json:"source"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ReloadListener is notified when a ReloadStrategy observes a rule-set
// change. The core ships two listeners: CachingRuleSetProvider invalidates
// its cache entries so the next Get re-reads the repository, and
// reset.Handler purges bucket state for the reloaded rule set.
type ReloadListener interface {
	OnRuleReload(event RuleReloadEvent)
}
