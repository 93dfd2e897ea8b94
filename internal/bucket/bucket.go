// Package bucket implements the distributed token-bucket decision engine.
//
// A rule's bands are refilled and consumed together, in one atomic script
// invocation per rule: either every band has enough tokens and all of them
// are debited, or none are touched. The server's own clock is authoritative
// — callers never supply "now"; it comes back from the store alongside the
// decision.
package bucket

import (
	"context"

	"github.com/fluxgate/fluxgate/internal/rules"
)

// Store is the distributed token-bucket decision engine's storage boundary.
// A single Consume call evaluates every band of a rule atomically.
type Store interface {
	// Consume attempts to debit permits from every band of a rule bound to
	// keyValue. It returns the allowed flag, the post-decision state of
	// each band (in the same order as bands), and the server's current
	// time in nanoseconds since the epoch.
	Consume(ctx context.Context, ruleSetID, ruleID, keyValue string, bands []rules.RateLimitBand, permits int64) (allowed bool, states []rules.BucketState, nowNanos int64, err error)

	// Reset deletes every band bucket for keyValue under ruleSetID/ruleID.
	Reset(ctx context.Context, ruleSetID, ruleID, keyValue string, bandLabels []string) error

	// ScanKeys iterates bucket keys matching a prefix without blocking the
	// store, for use by bulk reset operations.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)

	// DeleteKeys deletes the given raw bucket keys.
	DeleteKeys(ctx context.Context, keys []string) error

	// Ping verifies connectivity to the underlying store.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}

// Key builds the canonical bucket key for a single band.
//
// Format: fluxgate:{ruleSetId}:{ruleId}:{keyValue}:{bandLabel|"default"}
func Key(ruleSetID, ruleID, keyValue, bandLabel string) string {
	if bandLabel == "" {
		bandLabel = "default"
	}
	return "fluxgate:" + ruleSetID + ":" + ruleID + ":" + keyValue + ":" + bandLabel
}
