package dbprobe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const maxSampleRows = 5

// QueryResult is the outcome of one probe execution. All failures are
// captured here; probing never raises past this boundary.
type QueryResult struct {
	Success    bool             `json:"success"`
	RowCount   int              `json:"rowCount"`
	SampleRows []map[string]any `json:"sampleRows"`
	Message    string           `json:"message"`
	Error      string           `json:"error,omitempty"`
}

// UnsupportedEngineMessage is the literal fallback the UI expects when query
// testing is requested for an engine other than PostgreSQL.
func UnsupportedEngineMessage(engine Engine) string {
	return fmt.Sprintf("Testing queries for %s is not yet supported. Only PostgreSQL is supported.", engine)
}

var leadingCommentRe = regexp.MustCompile(`(?s)^(\s*(--[^\n]*\n|/\*.*?\*/))*\s*`)

var readOnlyKeywords = map[string]struct{}{
	"select":  {},
	"with":    {},
	"show":    {},
	"explain": {},
}

// EnsureReadOnly rejects statements whose leading verb is DDL/DML and any
// text that stacks a second statement after a semicolon. The PostgreSQL
// session is additionally opened read-only, but the guard applies uniformly
// so future engines inherit it.
func EnsureReadOnly(sqlText string) error {
	stripped := leadingCommentRe.ReplaceAllString(sqlText, "")
	if stripped == "" {
		return errors.New("empty query")
	}
	fields := strings.Fields(stripped)
	verb := strings.ToLower(strings.Trim(fields[0], "(;"))
	if _, ok := readOnlyKeywords[verb]; !ok {
		return fmt.Errorf("statement %q is not allowed; probes must be read-only", strings.ToUpper(verb))
	}
	return ensureSingleStatement(sqlText)
}

// ensureSingleStatement scans for a top-level semicolon followed by anything
// other than whitespace or comments. The simple-query wire protocol executes
// every statement in the text, so a stacked statement would slip past the
// leading-verb check. Semicolons inside string literals, quoted identifiers
// and comments are fine; a single trailing semicolon is fine too.
func ensureSingleStatement(sqlText string) error {
	s := sqlText
	i := 0
	terminated := false
	for i < len(s) {
		c := s[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			i++
			continue
		}
		if c == '-' && i+1 < len(s) && s[i+1] == '-' {
			for i < len(s) && s[i] != '\n' {
				i++
			}
			continue
		}
		if c == '/' && i+1 < len(s) && s[i+1] == '*' {
			// PostgreSQL block comments nest.
			depth := 1
			i += 2
			for i < len(s) && depth > 0 {
				if s[i] == '/' && i+1 < len(s) && s[i+1] == '*' {
					depth++
					i += 2
					continue
				}
				if s[i] == '*' && i+1 < len(s) && s[i+1] == '/' {
					depth--
					i += 2
					continue
				}
				i++
			}
			continue
		}
		if terminated {
			return errors.New("multiple statements are not allowed; probes run a single query")
		}
		if c == ';' {
			terminated = true
			i++
			continue
		}
		if c == '\'' || c == '"' {
			quote := c
			i++
			for i < len(s) {
				if s[i] == quote {
					if i+1 < len(s) && s[i+1] == quote {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			continue
		}
		i++
	}
	return nil
}

// Probe resolves nothing; it takes an already-resolved config, opens a
// short-lived connection, runs the SQL under the timeout and closes. Every
// failure mode comes back as a QueryResult.
func Probe(ctx context.Context, cfg ConnectionConfig, sqlText string, timeout time.Duration) QueryResult {
	if cfg.Engine != EnginePostgreSQL {
		return QueryResult{
			Success: false,
			Message: UnsupportedEngineMessage(cfg.Engine),
			Error:   "unsupported engine",
		}
	}
	if err := EnsureReadOnly(sqlText); err != nil {
		return QueryResult{Success: false, Message: "query rejected", Error: err.Error()}
	}
	conn, err := Open(cfg)
	if err != nil {
		return QueryResult{Success: false, Message: "connection failed", Error: err.Error()}
	}
	defer conn.Close()
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return conn.Query(queryCtx, sqlText)
}

func runQuery(ctx context.Context, db *sql.DB, sqlText string) QueryResult {
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return queryFailure(ctx, err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return queryFailure(ctx, err)
	}
	sample := make([]map[string]any, 0, maxSampleRows)
	count := 0
	for rows.Next() {
		count++
		if len(sample) >= maxSampleRows {
			continue
		}
		values := make([]any, len(cols))
		for i := range values {
			var v any
			values[i] = &v
		}
		if err := rows.Scan(values...); err != nil {
			return queryFailure(ctx, err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(*(values[i].(*any)))
		}
		sample = append(sample, row)
	}
	if err := rows.Err(); err != nil {
		return queryFailure(ctx, err)
	}
	return QueryResult{
		Success:    true,
		RowCount:   count,
		SampleRows: sample,
		Message:    fmt.Sprintf("Query returned %d row(s)", count),
	}
}

func queryFailure(ctx context.Context, err error) QueryResult {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return QueryResult{Success: false, Message: "query timed out", Error: err.Error()}
	}
	return QueryResult{Success: false, Message: "query failed", Error: err.Error()}
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return t
	}
}

// ToFloat coerces driver scalar values into float64 for numeric
// classification.
func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
