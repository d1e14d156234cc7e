package rules

import "time"

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities for monotonicity checks: INFO < WARNING < CRITICAL.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return -1
	}
}

func (s Severity) Valid() bool { return s.Rank() >= 0 }

type EvaluationType string

const (
	EvaluationText    EvaluationType = "TEXT"
	EvaluationNumeric EvaluationType = "NUMERIC"
)

func (e EvaluationType) Valid() bool {
	return e == EvaluationText || e == EvaluationNumeric
}

// MinCheckInterval is the floor for a rule's scheduling interval, in seconds.
const MinCheckInterval = 10

// AlertRule is a persisted alert definition: a SQL probe, a classification
// policy and a set of notification targets.
type AlertRule struct {
	ID                  string         `json:"id"`
	RuleName            string         `json:"rule_name"`
	AlertType           string         `json:"alert_type"`
	Severity            Severity       `json:"severity"`
	EvaluationType      EvaluationType `json:"evaluation_type"`
	ConditionExpression string         `json:"condition_expression"`
	ThresholdValue      string         `json:"threshold_value,omitempty"`
	ThresholdLow        *float64       `json:"threshold_low,omitempty"`
	ThresholdWarning    *float64       `json:"threshold_warning,omitempty"`
	ThresholdCritical   *float64       `json:"threshold_critical,omitempty"`
	DBEngine            string         `json:"db_engine"`
	ConnectionString    string         `json:"connection_string,omitempty"`
	CheckInterval       int            `json:"check_interval"`
	WebhookIDs          []string       `json:"webhook_ids"`
	Enabled             bool           `json:"enabled"`
	IsSystemRule        bool           `json:"is_system_rule"`
	CustomMessage       string         `json:"custom_message,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Webhook is owned externally; rules only reference webhook IDs.
type Webhook struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	WebhookType string    `json:"webhook_type"`
	URL         string    `json:"url"`
	Secret      string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// AlertEvent is the append-only output of one evaluation tick.
type AlertEvent struct {
	ID               int64            `json:"id"`
	RuleID           string           `json:"rule_id"`
	Timestamp        time.Time        `json:"timestamp"`
	Triggered        bool             `json:"triggered"`
	ComputedSeverity Severity         `json:"computed_severity"`
	RenderedMessage  string           `json:"rendered_message"`
	RawResult        []byte           `json:"-"`
	DispatchFailures []byte           `json:"-"`
}

// RuleState is the scheduler's per-rule runtime record. Version guards
// read-modify-write cycles against concurrent writers.
type RuleState struct {
	RuleID        string     `json:"rule_id"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastTriggered bool       `json:"last_triggered"`
	LastSeverity  Severity   `json:"last_severity,omitempty"`
	LastResult    []byte     `json:"-"`
	Degraded      bool       `json:"degraded"`
	DegradedCause string     `json:"degraded_cause,omitempty"`
	Version       int64      `json:"-"`
}
