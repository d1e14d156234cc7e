package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"datasync-backend/internal/rules"
)

func (r *Repository) CreateEvent(ctx context.Context, event rules.AlertEvent) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO alert_events (rule_id, ts_utc, triggered, severity, message, result, dispatch_failures)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		event.RuleID, event.Timestamp, event.Triggered, event.ComputedSeverity, event.RenderedMessage,
		event.RawResult, event.DispatchFailures,
	)
	return err
}

func (r *Repository) ListEvents(ctx context.Context, ruleID string, limit int) ([]rules.AlertEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, rule_id, ts_utc, triggered, severity, message, result, dispatch_failures
		FROM alert_events WHERE rule_id=$1 ORDER BY ts_utc DESC LIMIT $2`, ruleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []rules.AlertEvent{}
	for rows.Next() {
		var evt rules.AlertEvent
		if err := rows.Scan(&evt.ID, &evt.RuleID, &evt.Timestamp, &evt.Triggered, &evt.ComputedSeverity, &evt.RenderedMessage, &evt.RawResult, &evt.DispatchFailures); err != nil {
			return nil, err
		}
		results = append(results, evt)
	}
	return results, nil
}

// GetState returns the scheduler's runtime record for a rule, or a fresh
// zero-version state when the rule has never run.
func (r *Repository) GetState(ctx context.Context, ruleID string) (rules.RuleState, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT rule_id, last_run_at, last_triggered, last_severity, last_result, degraded, degraded_cause, version
		FROM rule_state WHERE rule_id=$1`, ruleID)
	var state rules.RuleState
	err := row.Scan(&state.RuleID, &state.LastRunAt, &state.LastTriggered, &state.LastSeverity, &state.LastResult, &state.Degraded, &state.DegradedCause, &state.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return rules.RuleState{RuleID: ruleID}, nil
	}
	if err != nil {
		// A transient fault must surface to the caller; a fabricated
		// fresh state here would make the evaluator re-fire alerts.
		return rules.RuleState{}, fmt.Errorf("load rule state: %w", err)
	}
	return state, nil
}

// SaveState writes the runtime record guarded by the version the caller
// read. A concurrent writer bumps the version and this write returns
// ErrStateConflict instead of clobbering it.
func (r *Repository) SaveState(ctx context.Context, state rules.RuleState) error {
	tag, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO rule_state (rule_id, last_run_at, last_triggered, last_severity, last_result, degraded, degraded_cause, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8+1)
		ON CONFLICT (rule_id) DO UPDATE
		SET last_run_at=EXCLUDED.last_run_at, last_triggered=EXCLUDED.last_triggered,
			last_severity=EXCLUDED.last_severity, last_result=EXCLUDED.last_result,
			degraded=EXCLUDED.degraded, degraded_cause=EXCLUDED.degraded_cause,
			version=rule_state.version+1
		WHERE rule_state.version=$8`,
		state.RuleID, state.LastRunAt, state.LastTriggered, state.LastSeverity, state.LastResult,
		state.Degraded, state.DegradedCause, state.Version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

func (r *Repository) CreateWebhook(ctx context.Context, hook rules.Webhook) (rules.Webhook, error) {
	hook.ID = uuid.NewString()
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO webhooks (id, name, webhook_type, url, secret_enc, created_at)
		VALUES ($1,$2,$3,$4,$5,now())`,
		hook.ID, hook.Name, hook.WebhookType, hook.URL, hook.Secret,
	)
	if err != nil {
		return rules.Webhook{}, err
	}
	return hook, nil
}

func (r *Repository) ListWebhooks(ctx context.Context) ([]rules.Webhook, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, name, webhook_type, url, secret_enc, created_at FROM webhooks ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []rules.Webhook{}
	for rows.Next() {
		var hook rules.Webhook
		if err := rows.Scan(&hook.ID, &hook.Name, &hook.WebhookType, &hook.URL, &hook.Secret, &hook.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, hook)
	}
	return results, nil
}

// GetWebhooksByIDs resolves a rule's webhook references, skipping ids that
// no longer exist.
func (r *Repository) GetWebhooksByIDs(ctx context.Context, ids []string) ([]rules.Webhook, error) {
	if len(ids) == 0 {
		return []rules.Webhook{}, nil
	}
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, name, webhook_type, url, secret_enc, created_at FROM webhooks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []rules.Webhook{}
	for rows.Next() {
		var hook rules.Webhook
		if err := rows.Scan(&hook.ID, &hook.Name, &hook.WebhookType, &hook.URL, &hook.Secret, &hook.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, hook)
	}
	return results, nil
}
