package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"datasync-backend/internal/rules"
)

func testDispatcher() *Dispatcher {
	return NewDispatcher(time.Second, 3, time.Millisecond, slog.New(slog.NewJSONHandler(os.Stderr, nil)))
}

func TestDispatchDeliversPayload(t *testing.T) {
	var got payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Webhook-Token") != "s3cret" {
			t.Errorf("missing webhook token header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer server.Close()

	hooks := []rules.Webhook{{ID: "wh-1", URL: server.URL, Secret: "s3cret"}}
	outcomes := testDispatcher().Dispatch(context.Background(), "backlog", hooks, rules.SeverityWarning, "[WARNING] SYSTEM: Value is 82")
	if len(outcomes) != 1 || !outcomes[0].Delivered {
		t.Fatalf("expected delivery, got %+v", outcomes)
	}
	if got.Severity != "WARNING" || got.Message != "[WARNING] SYSTEM: Value is 82" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestDispatchRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}))
	defer server.Close()

	outcomes := testDispatcher().Dispatch(context.Background(), "backlog", []rules.Webhook{{ID: "wh-1", URL: server.URL}}, rules.SeverityCritical, "m")
	if !outcomes[0].Delivered {
		t.Fatalf("expected delivery after retries, got %+v", outcomes[0])
	}
	if outcomes[0].Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", outcomes[0].Attempts)
	}
}

func TestDispatchGivesUpAfterBudget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	outcomes := testDispatcher().Dispatch(context.Background(), "backlog", []rules.Webhook{{ID: "wh-1", URL: server.URL}}, rules.SeverityWarning, "m")
	if outcomes[0].Delivered {
		t.Fatalf("expected failure")
	}
	if outcomes[0].Attempts != 3 {
		t.Fatalf("expected attempt budget exhausted, got %d", outcomes[0].Attempts)
	}
	if outcomes[0].Error == "" {
		t.Fatalf("expected recorded error")
	}
}

func TestDispatchClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	outcomes := testDispatcher().Dispatch(context.Background(), "backlog", []rules.Webhook{{ID: "wh-1", URL: server.URL}}, rules.SeverityWarning, "m")
	if outcomes[0].Delivered {
		t.Fatalf("expected failure")
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls.Load())
	}
}

func TestDispatchIndependentPerWebhook(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer bad.Close()

	hooks := []rules.Webhook{
		{ID: "wh-bad", URL: bad.URL},
		{ID: "wh-good", URL: good.URL},
	}
	outcomes := testDispatcher().Dispatch(context.Background(), "backlog", hooks, rules.SeverityWarning, "m")
	if outcomes[0].Delivered {
		t.Fatalf("expected wh-bad to fail")
	}
	if !outcomes[1].Delivered {
		t.Fatalf("one failing webhook must not block the rest")
	}
}
