// Package monitoring provides alerting capabilities for the site version job runner
package monitoring

import (
	"fmt"
	"sync"
	"time"

	"github.com/Nexora-Open-Source/site-version-jobs/types"
	"github.com/sirupsen/logrus"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AlertType represents the type of alert
type AlertType string

const (
	AlertTypeHighFailureRate      AlertType = "high_failure_rate"
	AlertTypePollTimeouts         AlertType = "poll_timeouts"
	AlertTypeConfigurationSkipped AlertType = "configuration_skipped"
	AlertTypeRunCancelled         AlertType = "run_cancelled"
)

// Alert represents an alert raised for a finished run
type Alert struct {
	ID          string            `json:"id"`
	Type        AlertType         `json:"type"`
	Severity    AlertSeverity     `json:"severity"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Timestamp   time.Time         `json:"timestamp"`
	Labels      map[string]string `json:"labels"`
}

// RunView is what alert rules are evaluated against
type RunView struct {
	RunID   string
	Mode    types.Mode
	Summary types.RunSummary
	Tenant  *types.TenantActionRecord
}

// AlertRule defines a rule for generating alerts
type AlertRule struct {
	Name        string
	Type        AlertType
	Severity    AlertSeverity
	Condition   func(RunView) bool
	Title       string
	Description func(RunView) string
	Enabled     bool
}

// Notifier interface for sending alert notifications
type Notifier interface {
	Send(alert *Alert) error
	Name() string
}

// LogNotifier sends alerts to the log
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a new log notifier
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string {
	return "log"
}

func (n *LogNotifier) Send(alert *Alert) error {
	level := logrus.InfoLevel
	switch alert.Severity {
	case SeverityHigh:
		level = logrus.WarnLevel
	case SeverityCritical:
		level = logrus.ErrorLevel
	}

	n.logger.WithFields(logrus.Fields{
		"alert_id":   alert.ID,
		"alert_type": alert.Type,
		"severity":   alert.Severity,
		"labels":     alert.Labels,
	}).Log(level, fmt.Sprintf("ALERT: %s - %s", alert.Title, alert.Description))

	return nil
}

// AlertManager evaluates run-level rules and notifies
type AlertManager struct {
	mutex     sync.RWMutex
	alerts    []*Alert
	logger    *logrus.Logger
	rules     []AlertRule
	notifiers []Notifier
}

// NewAlertManager creates an alert manager with the default rules.
// failureThreshold is the failure ratio above which a run is alerted on.
func NewAlertManager(logger *logrus.Logger, failureThreshold float64) *AlertManager {
	return &AlertManager{
		logger:    logger,
		rules:     defaultAlertRules(failureThreshold),
		notifiers: []Notifier{NewLogNotifier(logger)},
	}
}

func defaultAlertRules(failureThreshold float64) []AlertRule {
	return []AlertRule{
		{
			Name:     "High Site Failure Rate",
			Type:     AlertTypeHighFailureRate,
			Severity: SeverityHigh,
			Condition: func(v RunView) bool {
				return v.Summary.Total > 0 && v.Summary.FailureRatio() > failureThreshold
			},
			Title: "High site failure rate",
			Description: func(v RunView) string {
				return fmt.Sprintf("%.0f%% of %d sites did not complete (threshold %.0f%%)",
					v.Summary.FailureRatio()*100, v.Summary.Total, failureThreshold*100)
			},
			Enabled: true,
		},
		{
			Name:     "Poll Timeouts",
			Type:     AlertTypePollTimeouts,
			Severity: SeverityMedium,
			Condition: func(v RunView) bool {
				return v.Summary.ByStatus[types.OutcomeTimedOut] > 0
			},
			Title: "Jobs exceeded the maximum poll duration",
			Description: func(v RunView) string {
				return fmt.Sprintf("%d sites timed out waiting for a terminal job status", v.Summary.ByStatus[types.OutcomeTimedOut])
			},
			Enabled: true,
		},
		{
			Name:     "Configuration Skipped",
			Type:     AlertTypeConfigurationSkipped,
			Severity: SeverityLow,
			Condition: func(v RunView) bool {
				return v.Tenant != nil && v.Tenant.Outcome == types.TenantActionSkipped
			},
			Title: "Tenant configuration change skipped",
			Description: func(v RunView) string {
				return v.Tenant.Detail
			},
			Enabled: true,
		},
		{
			Name:     "Run Cancelled",
			Type:     AlertTypeRunCancelled,
			Severity: SeverityMedium,
			Condition: func(v RunView) bool {
				return v.Summary.ByStatus[types.OutcomeCancelled] > 0
			},
			Title: "Run was cancelled",
			Description: func(v RunView) string {
				return fmt.Sprintf("%d sites were cancelled before reaching a terminal state", v.Summary.ByStatus[types.OutcomeCancelled])
			},
			Enabled: true,
		},
	}
}

// Evaluate checks every enabled rule against the run and notifies for each match
func (am *AlertManager) Evaluate(view RunView) []*Alert {
	am.mutex.RLock()
	rules := make([]AlertRule, len(am.rules))
	copy(rules, am.rules)
	am.mutex.RUnlock()

	var raised []*Alert
	for _, rule := range rules {
		if !rule.Enabled || !rule.Condition(view) {
			continue
		}
		alert := &Alert{
			ID:          fmt.Sprintf("%s-%s", rule.Type, view.RunID),
			Type:        rule.Type,
			Severity:    rule.Severity,
			Title:       rule.Title,
			Description: rule.Description(view),
			Timestamp:   time.Now(),
			Labels: map[string]string{
				"service": "site-version-jobs",
				"run_id":  view.RunID,
				"mode":    string(view.Mode),
			},
		}
		raised = append(raised, alert)
		am.sendNotifications(alert)
	}

	am.mutex.Lock()
	am.alerts = append(am.alerts, raised...)
	am.mutex.Unlock()

	return raised
}

func (am *AlertManager) sendNotifications(alert *Alert) {
	am.mutex.RLock()
	notifiers := append([]Notifier(nil), am.notifiers...)
	am.mutex.RUnlock()

	for _, notifier := range notifiers {
		if err := notifier.Send(alert); err != nil {
			am.logger.WithError(err).WithField("notifier", notifier.Name()).Error("Failed to send alert notification")
		}
	}
}

// Alerts returns every alert raised so far
func (am *AlertManager) Alerts() []*Alert {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return append([]*Alert(nil), am.alerts...)
}

// AddNotifier adds a new notifier
func (am *AlertManager) AddNotifier(notifier Notifier) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	am.notifiers = append(am.notifiers, notifier)
}

// SetRuleEnabled toggles a rule by name
func (am *AlertManager) SetRuleEnabled(ruleName string, enabled bool) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	for i, rule := range am.rules {
		if rule.Name == ruleName {
			am.rules[i].Enabled = enabled
			break
		}
	}
}
