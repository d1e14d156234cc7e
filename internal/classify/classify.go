// Package classify decides whether a probe result triggers a rule and at
// what severity.
package classify

import (
	"fmt"
	"math"

	dbprobe "datasync-backend"
	"datasync-backend/internal/rules"
)

// ClassificationError reasons.
const (
	ReasonRowCountMismatch = "rowCountMismatch"
	ReasonNonNumeric       = "nonNumeric"
)

// ClassificationError marks a configuration defect on a NUMERIC rule: the
// probe came back with the wrong shape. It is surfaced to the rule owner,
// never silently dropped.
type ClassificationError struct {
	Reason string
	Detail string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed (%s): %s", e.Reason, e.Detail)
}

type Outcome struct {
	Triggered bool
	Severity  rules.Severity
}

// Classify applies the rule's evaluation mode to a probe result.
//
// TEXT: triggered iff the probe succeeded and returned at least one row;
// severity is the rule's configured default.
//
// NUMERIC: requires exactly one row with exactly one finite numeric column.
// Given thresholds low < warning < critical:
//
//	v > critical            -> CRITICAL
//	warning < v <= critical -> WARNING
//	low < v <= warning      -> WARNING
//	v <= low                -> INFO (recorded, not triggered)
//
// Both middle bands map to WARNING; that matches the product's stated
// semantics and is deliberately not collapsed or corrected here.
func Classify(rule rules.AlertRule, result dbprobe.QueryResult) (Outcome, error) {
	switch rule.EvaluationType {
	case rules.EvaluationNumeric:
		return classifyNumeric(rule, result)
	default:
		return classifyText(rule, result), nil
	}
}

func classifyText(rule rules.AlertRule, result dbprobe.QueryResult) Outcome {
	if !result.Success || result.RowCount == 0 {
		return Outcome{Triggered: false, Severity: rules.SeverityInfo}
	}
	return Outcome{Triggered: true, Severity: rule.Severity}
}

func classifyNumeric(rule rules.AlertRule, result dbprobe.QueryResult) (Outcome, error) {
	if !result.Success {
		// Query-level failure is not a classification defect; the rule is
		// simply not triggered this cycle.
		return Outcome{Triggered: false, Severity: rules.SeverityInfo}, nil
	}
	if result.RowCount != 1 || len(result.SampleRows) != 1 {
		return Outcome{}, &ClassificationError{
			Reason: ReasonRowCountMismatch,
			Detail: fmt.Sprintf("expected exactly 1 row, got %d", result.RowCount),
		}
	}
	row := result.SampleRows[0]
	if len(row) != 1 {
		return Outcome{}, &ClassificationError{
			Reason: ReasonRowCountMismatch,
			Detail: fmt.Sprintf("expected exactly 1 column, got %d", len(row)),
		}
	}
	value, err := NumericValue(result)
	if err != nil {
		return Outcome{}, err
	}
	severity := bandSeverity(value, *rule.ThresholdLow, *rule.ThresholdWarning, *rule.ThresholdCritical)
	return Outcome{
		Triggered: severity == rules.SeverityWarning || severity == rules.SeverityCritical,
		Severity:  severity,
	}, nil
}

func bandSeverity(v, low, warning, critical float64) rules.Severity {
	switch {
	case v > critical:
		return rules.SeverityCritical
	case v > warning:
		return rules.SeverityWarning
	case v > low:
		return rules.SeverityWarning
	default:
		return rules.SeverityInfo
	}
}

// NumericValue extracts the single scalar from a NUMERIC probe result.
func NumericValue(result dbprobe.QueryResult) (float64, error) {
	if len(result.SampleRows) == 0 {
		return 0, &ClassificationError{Reason: ReasonRowCountMismatch, Detail: "no rows"}
	}
	for col, raw := range result.SampleRows[0] {
		value, ok := dbprobe.ToFloat(raw)
		if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
			return 0, &ClassificationError{
				Reason: ReasonNonNumeric,
				Detail: fmt.Sprintf("column %q value %v is not a finite number", col, raw),
			}
		}
		return value, nil
	}
	return 0, &ClassificationError{Reason: ReasonRowCountMismatch, Detail: "row has no columns"}
}
