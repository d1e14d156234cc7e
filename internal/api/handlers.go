// Package api exposes the alert rule REST surface consumed by the DataSync
// frontend.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	dbprobe "datasync-backend"
	"datasync-backend/internal/bus"
	"datasync-backend/internal/classify"
	"datasync-backend/internal/crypto"
	"datasync-backend/internal/rules"
	"datasync-backend/internal/storage"
)

// Store is the slice of the storage layer the handlers use.
type Store interface {
	CreateRule(ctx context.Context, rule rules.AlertRule) (rules.AlertRule, error)
	GetRule(ctx context.Context, id string) (rules.AlertRule, error)
	ListRules(ctx context.Context, filter storage.RuleFilter) ([]rules.AlertRule, int, error)
	UpdateRule(ctx context.Context, rule rules.AlertRule) error
	SetRuleEnabled(ctx context.Context, id string, enabled bool) error
	DeleteRule(ctx context.Context, id string) error
	ListEvents(ctx context.Context, ruleID string, limit int) ([]rules.AlertEvent, error)
	GetState(ctx context.Context, ruleID string) (rules.RuleState, error)
	CreateWebhook(ctx context.Context, hook rules.Webhook) (rules.Webhook, error)
	ListWebhooks(ctx context.Context) ([]rules.Webhook, error)
}

// Publisher fans rule lifecycle events out to scheduler workers.
type Publisher interface {
	Publish(subject, ruleID string) error
}

// Tester evaluates a rule without scheduling side effects.
type Tester interface {
	DryRun(ctx context.Context, rule rules.AlertRule) (dbprobe.QueryResult, classify.Outcome, string, error)
}

// ProbeFunc matches dbprobe.Probe; injectable for handler tests.
type ProbeFunc func(ctx context.Context, cfg dbprobe.ConnectionConfig, sqlText string, timeout time.Duration) dbprobe.QueryResult

type Handler struct {
	Repo         Store
	Bus          Publisher
	Encryptor    crypto.Encryptor
	Tester       Tester
	Probe        ProbeFunc
	DataLakeDSN  string
	QueryTimeout time.Duration
	Timeout      time.Duration
	Token        string
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/test-connection", h.handleTestConnection)
		r.Get("/webhooks", h.handleWebhooksList)
		r.Post("/webhooks", h.handleWebhookCreate)
		r.Route("/alert-rules", func(r chi.Router) {
			r.Get("/", h.handleRulesList)
			r.Post("/", h.handleRuleCreate)
			r.Post("/test-query", h.handleTestQuery)
			r.Get("/{id}", h.handleRuleGet)
			r.Put("/{id}", h.handleRuleUpdate)
			r.Delete("/{id}", h.handleRuleDelete)
			r.Post("/{id}/test", h.handleRuleTest)
			r.Get("/{id}/events", h.handleRuleEvents)
		})
	})
}

func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(header), []byte("Bearer "+h.Token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func (h *Handler) handleRulesList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.RuleFilter{
		QueryType: q.Get("query_type"),
		DBEngine:  q.Get("db_engine"),
		Page:      intParam(q.Get("page"), 1),
		Limit:     intParam(q.Get("limit"), 20),
	}
	if v := q.Get("enabled"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "enabled must be true or false"})
			return
		}
		filter.Enabled = &enabled
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	list, total, err := h.Repo.ListRules(ctx, filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to list rules"})
		return
	}
	for i := range list {
		list[i] = sanitize(list[i])
	}
	totalPages := 0
	if filter.Limit > 0 {
		totalPages = (total + filter.Limit - 1) / filter.Limit
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"pagination": pagination{
			Page:       filter.Page,
			Limit:      filter.Limit,
			Total:      total,
			TotalPages: totalPages,
		},
	})
}

func (h *Handler) handleRuleCreate(w http.ResponseWriter, r *http.Request) {
	var req rules.AlertRule
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	req.ID = ""
	req.IsSystemRule = false
	if req.WebhookIDs == nil {
		req.WebhookIDs = []string{}
	}
	if verr := rules.Validate(req); verr != nil {
		writeValidationError(w, verr)
		return
	}
	if detail := h.checkProbeInputs(req); detail != nil {
		writeValidationError(w, &rules.ValidationError{
			Code:    "RULE_INVALID",
			Message: "alert rule failed validation",
			Details: []rules.ErrorDetail{*detail},
		})
		return
	}
	if req.ConnectionString != "" {
		cipherText, err := h.Encryptor.Encrypt(req.ConnectionString)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "encryption failed"})
			return
		}
		req.ConnectionString = cipherText
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	created, err := h.Repo.CreateRule(ctx, req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to persist rule"})
		return
	}
	_ = h.Bus.Publish(bus.SubjectRuleCreated, created.ID)
	writeJSON(w, http.StatusCreated, sanitize(created))
}

// checkProbeInputs validates the probe SQL and the connection string grammar
// at write time so rules fail fast instead of at their first tick.
func (h *Handler) checkProbeInputs(rule rules.AlertRule) *rules.ErrorDetail {
	if err := dbprobe.EnsureReadOnly(rule.ConditionExpression); err != nil {
		return &rules.ErrorDetail{Field: "condition_expression", Problem: "rejected", Hint: err.Error()}
	}
	if rule.ConnectionString != "" {
		if _, err := dbprobe.Resolve(rule.DBEngine, rule.ConnectionString, ""); err != nil {
			return &rules.ErrorDetail{Field: "connection_string", Problem: "invalid", Hint: err.Error()}
		}
	}
	return nil
}

type stateResponse struct {
	LastRunAt     *time.Time      `json:"last_run_at,omitempty"`
	LastTriggered bool            `json:"last_triggered"`
	LastSeverity  rules.Severity  `json:"last_severity,omitempty"`
	LastResult    json.RawMessage `json:"last_result,omitempty"`
	Degraded      bool            `json:"degraded"`
	DegradedCause string          `json:"degraded_cause,omitempty"`
}

func (h *Handler) handleRuleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	rule, err := h.Repo.GetRule(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "rule not found"})
		return
	}
	state, err := h.Repo.GetState(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to load rule state"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rule": sanitize(rule),
		"state": stateResponse{
			LastRunAt:     state.LastRunAt,
			LastTriggered: state.LastTriggered,
			LastSeverity:  state.LastSeverity,
			LastResult:    json.RawMessage(state.LastResult),
			Degraded:      state.Degraded,
			DegradedCause: state.DegradedCause,
		},
	})
}

type ruleUpdateRequest struct {
	RuleName            *string   `json:"rule_name"`
	AlertType           *string   `json:"alert_type"`
	Severity            *string   `json:"severity"`
	EvaluationType      *string   `json:"evaluation_type"`
	ConditionExpression *string   `json:"condition_expression"`
	ThresholdValue      *string   `json:"threshold_value"`
	ThresholdLow        *float64  `json:"threshold_low"`
	ThresholdWarning    *float64  `json:"threshold_warning"`
	ThresholdCritical   *float64  `json:"threshold_critical"`
	DBEngine            *string   `json:"db_engine"`
	ConnectionString    *string   `json:"connection_string"`
	CheckInterval       *int      `json:"check_interval"`
	WebhookIDs          *[]string `json:"webhook_ids"`
	Enabled             *bool     `json:"enabled"`
	CustomMessage       *string   `json:"custom_message"`
}

func (req ruleUpdateRequest) touchesMoreThanEnabled() bool {
	return req.RuleName != nil || req.AlertType != nil || req.Severity != nil ||
		req.EvaluationType != nil || req.ConditionExpression != nil ||
		req.ThresholdValue != nil || req.ThresholdLow != nil || req.ThresholdWarning != nil ||
		req.ThresholdCritical != nil || req.DBEngine != nil || req.ConnectionString != nil ||
		req.CheckInterval != nil || req.WebhookIDs != nil || req.CustomMessage != nil
}

func (h *Handler) handleRuleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ruleUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	rule, err := h.Repo.GetRule(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "rule not found"})
		return
	}
	if rule.IsSystemRule && req.touchesMoreThanEnabled() {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "system rules can only be enabled or disabled"})
		return
	}

	if rule.IsSystemRule {
		if req.Enabled == nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "nothing to update"})
			return
		}
		if err := h.Repo.SetRuleEnabled(ctx, id, *req.Enabled); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to update rule"})
			return
		}
		h.publishEnabledChange(id, rule.Enabled, *req.Enabled)
		rule.Enabled = *req.Enabled
		writeJSON(w, http.StatusOK, sanitize(rule))
		return
	}

	wasEnabled := rule.Enabled
	applyUpdate(&rule, req)
	if verr := rules.Validate(rule); verr != nil {
		writeValidationError(w, verr)
		return
	}
	if req.ConditionExpression != nil || req.ConnectionString != nil {
		check := rule
		if req.ConnectionString == nil {
			// The stored value is encrypted; only newly supplied
			// connection strings go through the grammar check.
			check.ConnectionString = ""
		}
		if detail := h.checkProbeInputs(check); detail != nil {
			writeValidationError(w, &rules.ValidationError{
				Code:    "RULE_INVALID",
				Message: "alert rule failed validation",
				Details: []rules.ErrorDetail{*detail},
			})
			return
		}
	}
	if req.ConnectionString != nil && rule.ConnectionString != "" {
		cipherText, err := h.Encryptor.Encrypt(rule.ConnectionString)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "encryption failed"})
			return
		}
		rule.ConnectionString = cipherText
	}
	if err := h.Repo.UpdateRule(ctx, rule); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "rule not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to update rule"})
		return
	}
	if req.Enabled != nil && *req.Enabled != wasEnabled {
		h.publishEnabledChange(id, wasEnabled, *req.Enabled)
	} else {
		_ = h.Bus.Publish(bus.SubjectRuleUpdated, id)
	}
	writeJSON(w, http.StatusOK, sanitize(rule))
}

func (h *Handler) publishEnabledChange(id string, was, now bool) {
	switch {
	case now && !was:
		_ = h.Bus.Publish(bus.SubjectRuleEnabled, id)
	case !now && was:
		_ = h.Bus.Publish(bus.SubjectRuleDisabled, id)
	default:
		_ = h.Bus.Publish(bus.SubjectRuleUpdated, id)
	}
}

func applyUpdate(rule *rules.AlertRule, req ruleUpdateRequest) {
	if req.RuleName != nil {
		rule.RuleName = *req.RuleName
	}
	if req.AlertType != nil {
		rule.AlertType = *req.AlertType
	}
	if req.Severity != nil {
		rule.Severity = rules.Severity(*req.Severity)
	}
	if req.EvaluationType != nil {
		rule.EvaluationType = rules.EvaluationType(*req.EvaluationType)
	}
	if req.ConditionExpression != nil {
		rule.ConditionExpression = *req.ConditionExpression
	}
	if req.ThresholdValue != nil {
		rule.ThresholdValue = *req.ThresholdValue
	}
	if req.ThresholdLow != nil {
		rule.ThresholdLow = req.ThresholdLow
	}
	if req.ThresholdWarning != nil {
		rule.ThresholdWarning = req.ThresholdWarning
	}
	if req.ThresholdCritical != nil {
		rule.ThresholdCritical = req.ThresholdCritical
	}
	if req.DBEngine != nil {
		rule.DBEngine = *req.DBEngine
	}
	if req.ConnectionString != nil {
		rule.ConnectionString = *req.ConnectionString
	}
	if req.CheckInterval != nil {
		rule.CheckInterval = *req.CheckInterval
	}
	if req.WebhookIDs != nil {
		rule.WebhookIDs = *req.WebhookIDs
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.CustomMessage != nil {
		rule.CustomMessage = *req.CustomMessage
	}
}

func (h *Handler) handleRuleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	rule, err := h.Repo.GetRule(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "rule not found"})
		return
	}
	if rule.IsSystemRule {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "system rules cannot be deleted"})
		return
	}
	if err := h.Repo.DeleteRule(ctx, id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to delete rule"})
		return
	}
	_ = h.Bus.Publish(bus.SubjectRuleDeleted, id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRuleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := intParam(r.URL.Query().Get("limit"), 50)
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if _, err := h.Repo.GetRule(ctx, id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "rule not found"})
		return
	}
	events, err := h.Repo.ListEvents(ctx, id, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to fetch events"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type webhookCreateRequest struct {
	Name        string `json:"name"`
	WebhookType string `json:"webhook_type"`
	URL         string `json:"url"`
	Secret      string `json:"secret"`
}

func (h *Handler) handleWebhookCreate(w http.ResponseWriter, r *http.Request) {
	var req webhookCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if req.Name == "" || req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "name and url are required"})
		return
	}
	secret := req.Secret
	if secret != "" {
		cipherText, err := h.Encryptor.Encrypt(secret)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "encryption failed"})
			return
		}
		secret = cipherText
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	created, err := h.Repo.CreateWebhook(ctx, rules.Webhook{
		Name:        req.Name,
		WebhookType: req.WebhookType,
		URL:         req.URL,
		Secret:      secret,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to persist webhook"})
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleWebhooksList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	hooks, err := h.Repo.ListWebhooks(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to list webhooks"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": hooks})
}

// sanitize strips the encrypted connection string from API responses.
func sanitize(rule rules.AlertRule) rules.AlertRule {
	rule.ConnectionString = ""
	return rule
}

func writeValidationError(w http.ResponseWriter, verr *rules.ValidationError) {
	writeJSON(w, http.StatusBadRequest, verr)
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
		return parsed
	}
	return fallback
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
