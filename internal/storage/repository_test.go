package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"datasync-backend/internal/rules"
)

type errScanner struct {
	err error
}

func (s errScanner) Scan(...any) error { return s.err }

func TestScanRuleErrorMapping(t *testing.T) {
	if _, err := scanRule(errScanner{err: pgx.ErrNoRows}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing row, got %v", err)
	}
	dbErr := errors.New("connection reset by peer")
	_, err := scanRule(errScanner{err: dbErr})
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("transient db error must not look like a missing rule")
	}
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func setupTestRepository(t *testing.T) (*Repository, func()) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL or DATABASE_URL not set")
	}
	store, err := NewStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to connect to db: %v", err)
	}
	repo := NewRepository(store)
	ensureSchema(t, repo)
	cleanup := func() {
		store.Close()
	}
	return repo, cleanup
}

func ensureSchema(t *testing.T, repo *Repository) {
	ctx := context.Background()
	statements := []string{
		`CREATE TABLE IF NOT EXISTS alert_rules (
			id uuid PRIMARY KEY,
			rule_name text NOT NULL UNIQUE,
			alert_type text NOT NULL,
			severity text NOT NULL,
			evaluation_type text NOT NULL,
			condition_expression text NOT NULL,
			threshold_value text NOT NULL DEFAULT '',
			threshold_low double precision,
			threshold_warning double precision,
			threshold_critical double precision,
			db_engine text NOT NULL DEFAULT '',
			connection_string_enc text NOT NULL DEFAULT '',
			check_interval int NOT NULL,
			webhook_ids text[] NOT NULL DEFAULT '{}',
			enabled boolean NOT NULL,
			is_system_rule boolean NOT NULL DEFAULT false,
			custom_message text NOT NULL DEFAULT '',
			created_at timestamptz NOT NULL,
			updated_at timestamptz NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rule_state (
			rule_id uuid PRIMARY KEY REFERENCES alert_rules(id) ON DELETE CASCADE,
			last_run_at timestamptz,
			last_triggered boolean NOT NULL DEFAULT false,
			last_severity text NOT NULL DEFAULT '',
			last_result jsonb,
			degraded boolean NOT NULL DEFAULT false,
			degraded_cause text NOT NULL DEFAULT '',
			version bigint NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alert_events (
			id bigserial PRIMARY KEY,
			rule_id uuid NOT NULL REFERENCES alert_rules(id) ON DELETE CASCADE,
			ts_utc timestamptz NOT NULL,
			triggered boolean NOT NULL,
			severity text NOT NULL,
			message text NOT NULL,
			result jsonb,
			dispatch_failures jsonb
		)`,
	}
	for _, stmt := range statements {
		if _, err := repo.Store.Pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("failed to ensure schema: %v", err)
		}
	}
}

func testRule(name string) rules.AlertRule {
	return rules.AlertRule{
		RuleName:            name,
		AlertType:           "SYSTEM",
		Severity:            rules.SeverityWarning,
		EvaluationType:      rules.EvaluationText,
		ConditionExpression: "SELECT 1",
		DBEngine:            "PostgreSQL",
		CheckInterval:       60,
		WebhookIDs:          []string{},
		Enabled:             true,
	}
}

func TestRuleCRUD(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()
	ctx := context.Background()

	created, err := repo.CreateRule(ctx, testRule("crud-"+time.Now().Format("150405.000000000")))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer repo.DeleteRule(ctx, created.ID)

	got, err := repo.GetRule(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.RuleName != created.RuleName {
		t.Fatalf("expected %q, got %q", created.RuleName, got.RuleName)
	}

	got.CheckInterval = 120
	if err := repo.UpdateRule(ctx, got); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	updated, _ := repo.GetRule(ctx, created.ID)
	if updated.CheckInterval != 120 {
		t.Fatalf("expected interval 120, got %d", updated.CheckInterval)
	}

	if err := repo.DeleteRule(ctx, created.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := repo.GetRule(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveStateOptimisticConcurrency(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()
	ctx := context.Background()

	created, err := repo.CreateRule(ctx, testRule("state-"+time.Now().Format("150405.000000000")))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer repo.DeleteRule(ctx, created.ID)

	state, err := repo.GetState(ctx, created.ID)
	if err != nil {
		t.Fatalf("get state failed: %v", err)
	}
	now := time.Now().UTC()
	state.LastRunAt = &now
	state.LastTriggered = true
	state.LastSeverity = rules.SeverityWarning
	if err := repo.SaveState(ctx, state); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	// Second save with the stale version must be rejected.
	if err := repo.SaveState(ctx, state); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}
	fresh, _ := repo.GetState(ctx, created.ID)
	if fresh.Version == state.Version {
		t.Fatalf("expected version bump")
	}
	fresh.LastTriggered = false
	if err := repo.SaveState(ctx, fresh); err != nil {
		t.Fatalf("save with fresh version failed: %v", err)
	}
}

func TestEventHistoryNewestFirst(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()
	ctx := context.Background()

	created, err := repo.CreateRule(ctx, testRule("events-"+time.Now().Format("150405.000000000")))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer repo.DeleteRule(ctx, created.ID)

	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		err := repo.CreateEvent(ctx, rules.AlertEvent{
			RuleID:           created.ID,
			Timestamp:        base.Add(time.Duration(i) * time.Second),
			Triggered:        i%2 == 0,
			ComputedSeverity: rules.SeverityWarning,
			RenderedMessage:  "m",
			RawResult:        []byte(`{}`),
		})
		if err != nil {
			t.Fatalf("create event failed: %v", err)
		}
	}
	events, err := repo.ListEvents(ctx, created.ID, 10)
	if err != nil {
		t.Fatalf("list events failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if !events[0].Timestamp.After(events[2].Timestamp) {
		t.Fatalf("expected newest first ordering")
	}
}
