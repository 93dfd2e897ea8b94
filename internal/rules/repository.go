package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fluxgate/fluxgate/internal/errs"
)

// RuleRepository is the persistence boundary for rate-limit rules.
//
// Rules are stored as individual rows with their bands and policy
// serialized as a single JSONB document, mirroring how configuration
// documents are stored elsewhere in this system: one narrow table, the
// interesting structure left to the application layer.
type RuleRepository interface {
	FindByRuleSetID(ctx context.Context, ruleSetID string) ([]RateLimitRule, error)
	FindByID(ctx context.Context, id string) (*RateLimitRule, error)
	Save(ctx context.Context, rule RateLimitRule) error
	// DeleteByID reports whether a row was actually removed.
	DeleteByID(ctx context.Context, id string) (bool, error)
	FindAll(ctx context.Context) ([]RateLimitRule, error)
	// DeleteByRuleSetID returns the number of rows removed.
	DeleteByRuleSetID(ctx context.Context, ruleSetID string) (int, error)
}

// ruleDocument is the JSONB payload stored alongside a rule's identity
// columns. It carries everything FindByID/FindAll need to reconstruct a
// RateLimitRule without a join.
type ruleDocument struct {
	Scope               Scope               `json:"scope"`
	CustomKeySource     string              `json:"customKeySource,omitempty"`
	Bands               []RateLimitBand     `json:"bands"`
	OnLimitExceedPolicy OnLimitExceedPolicy `json:"onLimitExceedPolicy"`
	Priority            int                 `json:"priority"`
}

// PostgresRuleRepository is the Postgres-backed RuleRepository.
type PostgresRuleRepository struct {
	db *DB
}

// NewPostgresRuleRepository creates a repository bound to the given pool.
func NewPostgresRuleRepository(db *DB) *PostgresRuleRepository {
	return &PostgresRuleRepository{db: db}
}

func (r *PostgresRuleRepository) FindByRuleSetID(ctx context.Context, ruleSetID string) ([]RateLimitRule, error) {
	query := `
		SELECT id, rule_set_id, enabled, document
		FROM rate_limit_rules
		WHERE rule_set_id = $1
		ORDER BY (document->>'priority')::int ASC
	`

	rows, err := r.db.pool.QueryContext(ctx, query, ruleSetID)
	if err != nil {
		return nil, errs.ConnectionStore("rules.FindByRuleSetID", err)
	}
	defer rows.Close()

	var out []RateLimitRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.ConnectionStore("rules.FindByRuleSetID", err)
	}

	log.Debug().
		Str("component", "rules").
		Str("rule_set_id", ruleSetID).
		Int("count", len(out)).
		Msg("loaded rules for rule set")

	return out, nil
}

func (r *PostgresRuleRepository) FindByID(ctx context.Context, id string) (*RateLimitRule, error) {
	query := `SELECT id, rule_set_id, enabled, document FROM rate_limit_rules WHERE id = $1`

	row := r.db.pool.QueryRowContext(ctx, query, id)
	rule, err := scanRule(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("rule not found: %s", id)
		}
		return nil, err
	}
	return &rule, nil
}

func (r *PostgresRuleRepository) Save(ctx context.Context, rule RateLimitRule) error {
	doc := ruleDocument{
		Scope:               rule.Scope,
		CustomKeySource:     rule.CustomKeySource,
		Bands:               rule.Bands,
		OnLimitExceedPolicy: rule.OnLimitExceedPolicy,
		Priority:            rule.Priority,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal rule document: %w", err)
	}

	query := `
		INSERT INTO rate_limit_rules (id, rule_set_id, enabled, document)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET rule_set_id = EXCLUDED.rule_set_id,
		    enabled = EXCLUDED.enabled,
		    document = EXCLUDED.document
	`

	if _, err := r.db.pool.ExecContext(ctx, query, rule.ID, rule.RuleSetID, rule.Enabled, payload); err != nil {
		return errs.ConnectionStore("rules.Save", err)
	}

	log.Debug().
		Str("component", "rules").
		Str("rule_id", rule.ID).
		Str("rule_set_id", rule.RuleSetID).
		Msg("saved rule")

	return nil
}

func (r *PostgresRuleRepository) DeleteByID(ctx context.Context, id string) (bool, error) {
	res, err := r.db.pool.ExecContext(ctx, `DELETE FROM rate_limit_rules WHERE id = $1`, id)
	if err != nil {
		return false, errs.ConnectionStore("rules.DeleteByID", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.ConnectionStore("rules.DeleteByID", err)
	}
	return n > 0, nil
}

func (r *PostgresRuleRepository) FindAll(ctx context.Context) ([]RateLimitRule, error) {
	query := `SELECT id, rule_set_id, enabled, document FROM rate_limit_rules ORDER BY rule_set_id ASC`

	rows, err := r.db.pool.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.ConnectionStore("rules.FindAll", err)
	}
	defer rows.Close()

	var out []RateLimitRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *PostgresRuleRepository) DeleteByRuleSetID(ctx context.Context, ruleSetID string) (int, error) {
	res, err := r.db.pool.ExecContext(ctx, `DELETE FROM rate_limit_rules WHERE rule_set_id = $1`, ruleSetID)
	if err != nil {
		return 0, errs.ConnectionStore("rules.DeleteByRuleSetID", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.ConnectionStore("rules.DeleteByRuleSetID", err)
	}
	return int(n), nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (RateLimitRule, error) {
	var rule RateLimitRule
	var documentJSON []byte

	if err := row.Scan(&rule.ID, &rule.RuleSetID, &rule.Enabled, &documentJSON); err != nil {
		if err == sql.ErrNoRows {
			return RateLimitRule{}, err
		}
		return RateLimitRule{}, errs.ConnectionStore("rules.scanRule", err)
	}

	var doc ruleDocument
	if err := json.Unmarshal(documentJSON, &doc); err != nil {
		return RateLimitRule{}, fmt.Errorf("failed to unmarshal rule document: %w", err)
	}

	rule.Scope = doc.Scope
	rule.CustomKeySource = doc.CustomKeySource
	rule.Bands = doc.Bands
	rule.OnLimitExceedPolicy = doc.OnLimitExceedPolicy
	rule.Priority = doc.Priority

	return rule, nil
}
