// Package template renders user-authored alert messages by substituting
// {placeholder} tokens from query results. Rendering is pure: the same
// inputs always produce the same output, because the same code serves both
// live notifications and UI previews.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	dbprobe "datasync-backend"
	"datasync-backend/internal/classify"
	"datasync-backend/internal/rules"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Render substitutes placeholders in a template from a probe result.
//
// NUMERIC mode recognizes only {value}. TEXT mode recognizes {row_count},
// {first_row} and any column name present in the selected sample row.
// Unknown placeholders are left verbatim so templates stay forward
// compatible. rowIndex selects the sample row supplying column values; an
// out-of-range index clamps to 0.
func Render(tmpl string, result dbprobe.QueryResult, rowIndex int, mode rules.EvaluationType) string {
	row := selectRow(result, rowIndex)
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := match[1 : len(match)-1]
		if mode == rules.EvaluationNumeric {
			if name == "value" {
				if v, err := classify.NumericValue(result); err == nil {
					return formatFloat(v)
				}
			}
			return match
		}
		switch name {
		case "row_count":
			return strconv.Itoa(result.RowCount)
		case "first_row":
			return prettyJSON(row)
		default:
			if row != nil {
				if v, ok := row[name]; ok {
					return stringify(v)
				}
			}
			return match
		}
	})
}

// Wrap produces the final dispatched/previewed message envelope.
func Wrap(severity rules.Severity, alertType, rendered string) string {
	return fmt.Sprintf("[%s] %s: %s", severity, alertType, rendered)
}

func selectRow(result dbprobe.QueryResult, rowIndex int) map[string]any {
	if len(result.SampleRows) == 0 {
		return nil
	}
	if rowIndex < 0 || rowIndex >= len(result.SampleRows) {
		rowIndex = 0
	}
	return result.SampleRows[rowIndex]
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return formatFloat(t)
	case float32:
		return formatFloat(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func prettyJSON(row map[string]any) string {
	if row == nil {
		return "{}"
	}
	data, err := json.MarshalIndent(row, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
