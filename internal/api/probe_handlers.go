package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	dbprobe "datasync-backend"
)

type testQueryRequest struct {
	Query            string `json:"query"`
	DBEngine         string `json:"db_engine"`
	ConnectionString string `json:"connection_string"`
}

type testConnectionRequest struct {
	DBEngine         string `json:"db_engine"`
	ConnectionString string `json:"connection_string"`
}

// handleRuleTest runs a stored rule once, on demand, without touching its
// schedule, state or webhooks.
func (h *Handler) handleRuleTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.QueryTimeout+h.Timeout)
	defer cancel()
	rule, err := h.Repo.GetRule(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "rule not found"})
		return
	}
	result, outcome, message, derr := h.Tester.DryRun(ctx, rule)
	if derr != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    result.Success,
			"rowCount":   result.RowCount,
			"sampleRows": result.SampleRows,
			"message":    result.Message,
			"error":      derr.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    result.Success,
		"rowCount":   result.RowCount,
		"sampleRows": result.SampleRows,
		"message":    message,
		"triggered":  outcome.Triggered,
		"severity":   outcome.Severity,
	})
}

// handleTestQuery runs an ad-hoc query against a user-supplied connection.
// Failures come back as a result object, not an HTTP error, so the frontend
// renders them inline.
func (h *Handler) handleTestQuery(w http.ResponseWriter, r *http.Request) {
	var req testQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	cfg, err := dbprobe.Resolve(req.DBEngine, req.ConnectionString, h.DataLakeDSN)
	if err != nil {
		writeJSON(w, http.StatusOK, resolveFailure(req.DBEngine, err))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.QueryTimeout)
	defer cancel()
	writeJSON(w, http.StatusOK, h.probe()(ctx, cfg, req.Query, h.QueryTimeout))
}

func (h *Handler) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	cfg, err := dbprobe.Resolve(req.DBEngine, req.ConnectionString, h.DataLakeDSN)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": err.Error()})
		return
	}
	conn, err := dbprobe.Open(cfg)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": err.Error()})
		return
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(r.Context(), h.QueryTimeout)
	defer cancel()
	if err := conn.TestConnection(ctx); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Connection successful"})
}

func (h *Handler) probe() ProbeFunc {
	if h.Probe != nil {
		return h.Probe
	}
	return dbprobe.Probe
}

// resolveFailure shapes a connection resolution error like a probe result.
// Unknown engines get the same not-supported message the probe itself emits.
func resolveFailure(engineName string, err error) dbprobe.QueryResult {
	var connErr *dbprobe.ConnectionError
	if errors.As(err, &connErr) && connErr.Reason == dbprobe.ReasonUnsupportedEngine {
		return dbprobe.QueryResult{
			Success: false,
			Message: dbprobe.UnsupportedEngineMessage(dbprobe.Engine(engineName)),
			Error:   "unsupported engine",
		}
	}
	return dbprobe.QueryResult{
		Success: false,
		Message: "connection resolution failed",
		Error:   err.Error(),
	}
}
