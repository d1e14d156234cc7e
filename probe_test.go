package dbprobe

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestEnsureReadOnly(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		allowed bool
	}{
		{"plain select", "SELECT 1", true},
		{"cte", "WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"explain", "EXPLAIN SELECT * FROM t", true},
		{"leading comment", "-- check\nSELECT count(*) FROM t", true},
		{"block comment", "/* audit */ SELECT 1", true},
		{"lowercase", "select * from sync_status", true},
		{"insert", "INSERT INTO t VALUES (1)", false},
		{"update", "UPDATE t SET a=1", false},
		{"delete", "DELETE FROM t", false},
		{"drop", "DROP TABLE t", false},
		{"truncate", "TRUNCATE t", false},
		{"create", "CREATE TABLE t (a int)", false},
		{"empty", "   ", false},
		{"stacked drop", "SELECT 1; DROP TABLE sync_queue", false},
		{"stacked after newline", "SELECT 1;\nDELETE FROM t", false},
		{"stacked behind comment", "SELECT 1; /* cleanup */ TRUNCATE t", false},
		{"trailing semicolon", "SELECT count(*) FROM t;", true},
		{"trailing semicolon and comment", "SELECT 1; -- done", true},
		{"semicolon in literal", "SELECT ';' AS sep FROM t", true},
		{"semicolon in quoted identifier", `SELECT "a;b" FROM t`, true},
		{"escaped quote then stacked", "SELECT 'it''s'; DROP TABLE t", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := EnsureReadOnly(tt.sql)
			if tt.allowed && err != nil {
				t.Fatalf("expected allowed, got %v", err)
			}
			if !tt.allowed && err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}
}

func TestProbeUnsupportedEngineFallback(t *testing.T) {
	result := Probe(context.Background(), ConnectionConfig{Engine: EngineMariaDB, DSN: "probe:pw@tcp(h:3306)/db"}, "SELECT 1", time.Second)
	if result.Success {
		t.Fatalf("expected failure for non-PostgreSQL probe")
	}
	expected := "Testing queries for MariaDB is not yet supported. Only PostgreSQL is supported."
	if result.Message != expected {
		t.Fatalf("expected %q, got %q", expected, result.Message)
	}
}

func TestProbeRejectsWriteStatement(t *testing.T) {
	result := Probe(context.Background(), ConnectionConfig{Engine: EnginePostgreSQL, DSN: "postgres://h/db"}, "DELETE FROM t", time.Second)
	if result.Success {
		t.Fatalf("expected rejection")
	}
	if !strings.Contains(result.Error, "read-only") {
		t.Fatalf("expected read-only rejection, got %q", result.Error)
	}
}

func TestNormalizeValue(t *testing.T) {
	if v := normalizeValue([]byte("42")); v != "42" {
		t.Fatalf("expected byte slice normalized to string, got %v", v)
	}
	if v := normalizeValue(nil); v != nil {
		t.Fatalf("expected nil preserved, got %v", v)
	}
	ts := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	if v := normalizeValue(ts); v != "2026-02-01T12:00:00Z" {
		t.Fatalf("expected RFC3339 timestamp, got %v", v)
	}
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  float64
		ok    bool
	}{
		{"int64", int64(82), 82, true},
		{"float64", 3.5, 3.5, true},
		{"numeric string", "82", 82, true},
		{"bytes", []byte("1.25"), 1.25, true},
		{"text", "not-a-number", 0, false},
		{"bool", true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToFloat(tt.value)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
