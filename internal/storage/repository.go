package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"datasync-backend/internal/rules"
)

type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

const ruleColumns = `id, rule_name, alert_type, severity, evaluation_type, condition_expression,
	threshold_value, threshold_low, threshold_warning, threshold_critical,
	db_engine, connection_string_enc, check_interval, webhook_ids,
	enabled, is_system_rule, custom_message, created_at, updated_at`

// RuleFilter narrows ListRules. Zero values mean "no filter".
type RuleFilter struct {
	QueryType string
	DBEngine  string
	Enabled   *bool
	Page      int
	Limit     int
}

func (r *Repository) CreateRule(ctx context.Context, rule rules.AlertRule) (rules.AlertRule, error) {
	rule.ID = uuid.NewString()
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO alert_rules (`+ruleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,now(),now())`,
		rule.ID, rule.RuleName, rule.AlertType, rule.Severity, rule.EvaluationType, rule.ConditionExpression,
		rule.ThresholdValue, rule.ThresholdLow, rule.ThresholdWarning, rule.ThresholdCritical,
		rule.DBEngine, rule.ConnectionString, rule.CheckInterval, rule.WebhookIDs,
		rule.Enabled, rule.IsSystemRule, rule.CustomMessage,
	)
	if err != nil {
		return rules.AlertRule{}, err
	}
	return r.GetRule(ctx, rule.ID)
}

func (r *Repository) GetRule(ctx context.Context, id string) (rules.AlertRule, error) {
	row := r.Store.Pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE id=$1`, id)
	return scanRule(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (rules.AlertRule, error) {
	var rule rules.AlertRule
	err := row.Scan(
		&rule.ID, &rule.RuleName, &rule.AlertType, &rule.Severity, &rule.EvaluationType, &rule.ConditionExpression,
		&rule.ThresholdValue, &rule.ThresholdLow, &rule.ThresholdWarning, &rule.ThresholdCritical,
		&rule.DBEngine, &rule.ConnectionString, &rule.CheckInterval, &rule.WebhookIDs,
		&rule.Enabled, &rule.IsSystemRule, &rule.CustomMessage, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return rules.AlertRule{}, ErrNotFound
	}
	if err != nil {
		return rules.AlertRule{}, fmt.Errorf("scan alert rule: %w", err)
	}
	if rule.WebhookIDs == nil {
		rule.WebhookIDs = []string{}
	}
	return rule, nil
}

func (r *Repository) ListRules(ctx context.Context, filter RuleFilter) ([]rules.AlertRule, int, error) {
	where := []string{}
	args := []any{}
	if filter.QueryType != "" {
		args = append(args, filter.QueryType)
		where = append(where, fmt.Sprintf("evaluation_type=$%d", len(args)))
	}
	if filter.DBEngine != "" {
		args = append(args, filter.DBEngine)
		where = append(where, fmt.Sprintf("db_engine=$%d", len(args)))
	}
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		where = append(where, fmt.Sprintf("enabled=$%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.Store.Pool.QueryRow(ctx, `SELECT count(*) FROM alert_rules`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + ruleColumns + ` FROM alert_rules` + clause + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		args = append(args, (page-1)*filter.Limit)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := r.Store.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	results := []rules.AlertRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, rule)
	}
	return results, total, nil
}

func (r *Repository) ListEnabledRules(ctx context.Context) ([]rules.AlertRule, error) {
	enabled := true
	result, _, err := r.ListRules(ctx, RuleFilter{Enabled: &enabled})
	return result, err
}

func (r *Repository) UpdateRule(ctx context.Context, rule rules.AlertRule) error {
	tag, err := r.Store.Pool.Exec(ctx, `
		UPDATE alert_rules
		SET rule_name=$1, alert_type=$2, severity=$3, evaluation_type=$4, condition_expression=$5,
			threshold_value=$6, threshold_low=$7, threshold_warning=$8, threshold_critical=$9,
			db_engine=$10, connection_string_enc=$11, check_interval=$12, webhook_ids=$13,
			enabled=$14, custom_message=$15, updated_at=now()
		WHERE id=$16`,
		rule.RuleName, rule.AlertType, rule.Severity, rule.EvaluationType, rule.ConditionExpression,
		rule.ThresholdValue, rule.ThresholdLow, rule.ThresholdWarning, rule.ThresholdCritical,
		rule.DBEngine, rule.ConnectionString, rule.CheckInterval, rule.WebhookIDs,
		rule.Enabled, rule.CustomMessage, rule.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := r.Store.Pool.Exec(ctx, `UPDATE alert_rules SET enabled=$1, updated_at=now() WHERE id=$2`, enabled, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteRule(ctx context.Context, id string) error {
	tag, err := r.Store.Pool.Exec(ctx, `DELETE FROM alert_rules WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
