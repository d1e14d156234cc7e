package rules

import (
	"fmt"
	"strings"
)

type ErrorDetail struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
	Hint    string `json:"hint,omitempty"`
}

type ValidationError struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details"`
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		fields = append(fields, d.Field)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(fields, ", "))
}

var knownEngines = map[string]struct{}{
	"":           {},
	"PostgreSQL": {},
	"MSSQL":      {},
	"MariaDB":    {},
	"MongoDB":    {},
}

// Validate enforces the write-time invariants on a rule definition. It never
// coerces; a bad definition is rejected, not repaired.
func Validate(rule AlertRule) *ValidationError {
	var details []ErrorDetail
	if strings.TrimSpace(rule.RuleName) == "" {
		details = append(details, ErrorDetail{Field: "rule_name", Problem: "required"})
	}
	if strings.TrimSpace(rule.ConditionExpression) == "" {
		details = append(details, ErrorDetail{Field: "condition_expression", Problem: "required", Hint: "Provide the SQL probe"})
	}
	if !rule.Severity.Valid() {
		details = append(details, ErrorDetail{Field: "severity", Problem: "invalid", Hint: "Use INFO, WARNING or CRITICAL"})
	}
	if !rule.EvaluationType.Valid() {
		details = append(details, ErrorDetail{Field: "evaluation_type", Problem: "invalid", Hint: "Use TEXT or NUMERIC"})
	}
	if rule.CheckInterval < MinCheckInterval {
		details = append(details, ErrorDetail{Field: "check_interval", Problem: "too small", Hint: fmt.Sprintf("min %d seconds", MinCheckInterval)})
	}
	if _, ok := knownEngines[rule.DBEngine]; !ok {
		details = append(details, ErrorDetail{Field: "db_engine", Problem: "unsupported", Hint: "Use PostgreSQL, MSSQL, MariaDB or MongoDB"})
	}
	if rule.EvaluationType == EvaluationNumeric {
		details = append(details, validateThresholds(rule)...)
	}
	if len(details) > 0 {
		return &ValidationError{Code: "RULE_INVALID", Message: "alert rule failed validation", Details: details}
	}
	return nil
}

func validateThresholds(rule AlertRule) []ErrorDetail {
	var details []ErrorDetail
	if rule.ThresholdLow == nil || rule.ThresholdWarning == nil || rule.ThresholdCritical == nil {
		return append(details, ErrorDetail{
			Field:   "threshold_low",
			Problem: "required together",
			Hint:    "NUMERIC rules need threshold_low, threshold_warning and threshold_critical",
		})
	}
	if !(*rule.ThresholdLow < *rule.ThresholdWarning && *rule.ThresholdWarning < *rule.ThresholdCritical) {
		details = append(details, ErrorDetail{
			Field:   "threshold_warning",
			Problem: "out of order",
			Hint:    "Require threshold_low < threshold_warning < threshold_critical",
		})
	}
	return details
}
