// Package scheduler runs enabled rules on their configured intervals and
// turns probe results into alert state, history and webhook notifications.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	dbprobe "datasync-backend"
	"datasync-backend/internal/classify"
	"datasync-backend/internal/crypto"
	"datasync-backend/internal/metrics"
	"datasync-backend/internal/notify"
	"datasync-backend/internal/rules"
	"datasync-backend/internal/storage"
	"datasync-backend/internal/template"
)

// Store is the slice of the storage layer the evaluator touches.
type Store interface {
	GetState(ctx context.Context, ruleID string) (rules.RuleState, error)
	SaveState(ctx context.Context, state rules.RuleState) error
	CreateEvent(ctx context.Context, event rules.AlertEvent) error
	GetWebhooksByIDs(ctx context.Context, ids []string) ([]rules.Webhook, error)
}

// Notifier delivers a rendered message to a rule's webhooks.
type Notifier interface {
	Dispatch(ctx context.Context, ruleName string, webhooks []rules.Webhook, severity rules.Severity, message string) []notify.Outcome
}

// ProbeFunc executes the rule's SQL against a resolved connection.
type ProbeFunc func(ctx context.Context, cfg dbprobe.ConnectionConfig, sqlText string, timeout time.Duration) dbprobe.QueryResult

type Evaluator struct {
	store        Store
	notifier     Notifier
	enc          crypto.Encryptor
	dataLakeDSN  string
	queryTimeout time.Duration
	probe        ProbeFunc
	logger       *slog.Logger
	now          func() time.Time
}

func NewEvaluator(store Store, notifier Notifier, enc crypto.Encryptor, dataLakeDSN string, queryTimeout time.Duration, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		store:        store,
		notifier:     notifier,
		enc:          enc,
		dataLakeDSN:  dataLakeDSN,
		queryTimeout: queryTimeout,
		probe:        dbprobe.Probe,
		logger:       logger,
		now:          time.Now,
	}
}

// Evaluate runs one scheduled tick of a rule. discarded is consulted after
// the probe returns: a rule disabled or deleted mid-run has its result thrown
// away without touching state, history or webhooks.
//
// Notification is edge-triggered. A webhook fires when the rule transitions
// into the triggered state and once more when it clears; a rule that stays
// triggered across consecutive ticks does not re-notify.
func (e *Evaluator) Evaluate(ctx context.Context, rule rules.AlertRule, discarded func() bool) {
	start := e.now()
	result := e.runProbe(ctx, rule)
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())

	if discarded != nil && discarded() {
		metrics.EvaluationsTotal.WithLabelValues("discarded").Inc()
		e.logger.Info("evaluation result discarded", slog.String("rule_id", rule.ID))
		return
	}

	state, err := e.store.GetState(ctx, rule.ID)
	if err != nil {
		e.logger.Error("failed to load rule state", slog.String("rule_id", rule.ID), slog.String("error", err.Error()))
		return
	}
	now := e.now().UTC()
	state.LastRunAt = &now
	state.LastResult, _ = json.Marshal(result)

	// A failed probe is not evidence the condition cleared, so the
	// triggered flag is left as-is and no recovery notice goes out.
	if !result.Success {
		metrics.EvaluationsTotal.WithLabelValues("query_error").Inc()
		e.logger.Warn("probe failed",
			slog.String("rule_id", rule.ID),
			slog.String("message", result.Message),
			slog.String("error", result.Error),
		)
		e.saveState(ctx, state)
		return
	}

	outcome, cerr := classify.Classify(rule, result)
	if cerr != nil {
		state.Degraded = true
		state.DegradedCause = cerr.Error()
		state.LastTriggered = false
		state.LastSeverity = rules.SeverityInfo
		metrics.EvaluationsTotal.WithLabelValues("classification_error").Inc()
		e.logger.Error("rule degraded",
			slog.String("rule_id", rule.ID),
			slog.String("error", cerr.Error()),
		)
		e.saveState(ctx, state)
		return
	}
	metrics.EvaluationsTotal.WithLabelValues("ok").Inc()

	wasTriggered := state.LastTriggered
	state.Degraded = false
	state.DegradedCause = ""
	state.LastTriggered = outcome.Triggered
	state.LastSeverity = outcome.Severity

	var message string
	var eventSeverity rules.Severity
	var failures []notify.Outcome
	switch {
	case outcome.Triggered && !wasTriggered:
		message = e.renderAlert(rule, result, outcome)
		eventSeverity = outcome.Severity
		failures = e.dispatch(ctx, rule, outcome.Severity, message)
		metrics.AlertsFiredTotal.WithLabelValues(string(outcome.Severity)).Inc()
	case !outcome.Triggered && wasTriggered:
		message = template.Wrap(rules.SeverityInfo, rule.AlertType, "Condition cleared for "+rule.RuleName)
		eventSeverity = rules.SeverityInfo
		failures = e.dispatch(ctx, rule, rules.SeverityInfo, message)
	}

	if outcome.Triggered != wasTriggered {
		var dispatchFailures []byte
		if len(failures) > 0 {
			dispatchFailures, _ = json.Marshal(failures)
		}
		event := rules.AlertEvent{
			RuleID:           rule.ID,
			Timestamp:        now,
			Triggered:        outcome.Triggered,
			ComputedSeverity: eventSeverity,
			RenderedMessage:  message,
			RawResult:        state.LastResult,
			DispatchFailures: dispatchFailures,
		}
		if err := e.store.CreateEvent(ctx, event); err != nil {
			e.logger.Error("failed to record alert event", slog.String("rule_id", rule.ID), slog.String("error", err.Error()))
		}
	}

	e.saveState(ctx, state)
}

// DryRun probes, classifies and renders without touching state, history or
// webhooks. It backs the manual test endpoints.
func (e *Evaluator) DryRun(ctx context.Context, rule rules.AlertRule) (dbprobe.QueryResult, classify.Outcome, string, error) {
	result := e.runProbe(ctx, rule)
	outcome, err := classify.Classify(rule, result)
	if err != nil {
		return result, classify.Outcome{}, "", err
	}
	return result, outcome, e.renderAlert(rule, result, outcome), nil
}

func (e *Evaluator) runProbe(ctx context.Context, rule rules.AlertRule) dbprobe.QueryResult {
	conn := rule.ConnectionString
	if conn != "" {
		plain, err := e.enc.Decrypt(conn)
		if err != nil {
			return dbprobe.QueryResult{Success: false, Message: "connection string could not be decrypted", Error: err.Error()}
		}
		conn = plain
	}
	cfg, err := dbprobe.Resolve(rule.DBEngine, conn, e.dataLakeDSN)
	if err != nil {
		return dbprobe.QueryResult{Success: false, Message: "connection resolution failed", Error: err.Error()}
	}
	return e.probe(ctx, cfg, rule.ConditionExpression, e.queryTimeout)
}

func (e *Evaluator) renderAlert(rule rules.AlertRule, result dbprobe.QueryResult, outcome classify.Outcome) string {
	tmpl := rule.CustomMessage
	if tmpl == "" {
		if rule.EvaluationType == rules.EvaluationNumeric {
			tmpl = "Current value is {value}"
		} else {
			tmpl = "Matched {row_count} row(s)"
		}
	}
	rendered := template.Render(tmpl, result, 0, rule.EvaluationType)
	return template.Wrap(outcome.Severity, rule.AlertType, rendered)
}

func (e *Evaluator) dispatch(ctx context.Context, rule rules.AlertRule, severity rules.Severity, message string) []notify.Outcome {
	hooks, err := e.store.GetWebhooksByIDs(ctx, rule.WebhookIDs)
	if err != nil {
		e.logger.Error("failed to resolve webhooks", slog.String("rule_id", rule.ID), slog.String("error", err.Error()))
		return nil
	}
	if len(hooks) == 0 {
		return nil
	}
	for i := range hooks {
		if hooks[i].Secret == "" {
			continue
		}
		if plain, err := e.enc.Decrypt(hooks[i].Secret); err == nil {
			hooks[i].Secret = plain
		}
	}
	outcomes := e.notifier.Dispatch(ctx, rule.RuleName, hooks, severity, message)
	failed := []notify.Outcome{}
	for _, o := range outcomes {
		if !o.Delivered {
			failed = append(failed, o)
		}
	}
	return failed
}

func (e *Evaluator) saveState(ctx context.Context, state rules.RuleState) {
	err := e.store.SaveState(ctx, state)
	if errors.Is(err, storage.ErrStateConflict) {
		// A concurrent writer (typically a manual test racing a tick)
		// won; this tick's state is stale and dropped.
		e.logger.Warn("rule state write lost a concurrent update", slog.String("rule_id", state.RuleID))
		return
	}
	if err != nil {
		e.logger.Error("failed to save rule state", slog.String("rule_id", state.RuleID), slog.String("error", err.Error()))
	}
}
