package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opshield/socboard/internal/models"
)

// NotificationType defines the type of notification
type NotificationType string

const (
	NotifyNewAlert      NotificationType = "new_alert"
	NotifyCriticalAlert NotificationType = "critical_alert"
)

// Notification represents a notification to be sent
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Severity  models.AlertSeverity
	Data      map[string]interface{}
	Timestamp time.Time
}

// SlackConfig holds Slack configuration
type SlackConfig struct {
	WebhookURL  string
	Channel     string
	Username    string
	IconEmoji   string
	Enabled     bool
	MinSeverity models.AlertSeverity // Minimum severity to notify
}

// Config holds notification configuration
type Config struct {
	Slack SlackConfig
}

// Service handles notifications
type Service struct {
	config Config
	logger *slog.Logger
	client *http.Client
}

// NewService creates a new notification service
func NewService(config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Slack.MinSeverity == "" {
		config.Slack.MinSeverity = models.SeverityHigh
	}

	return &Service{
		config: config,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send sends a notification to all enabled channels
func (s *Service) Send(ctx context.Context, notif *Notification) error {
	if !s.config.Slack.Enabled || !s.shouldNotify(notif.Severity, s.config.Slack.MinSeverity) {
		return nil
	}

	if err := s.sendSlack(ctx, notif); err != nil {
		return fmt.Errorf("slack: %w", err)
	}

	return nil
}

// shouldNotify checks if notification should be sent based on severity
func (s *Service) shouldNotify(actual, minimum models.AlertSeverity) bool {
	severityOrder := map[models.AlertSeverity]int{
		models.SeverityLow:      1,
		models.SeverityMedium:   2,
		models.SeverityHigh:     3,
		models.SeverityCritical: 4,
	}

	return severityOrder[actual] >= severityOrder[minimum]
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	TitleLink string       `json:"title_link,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// sendSlack sends a notification to Slack
func (s *Service) sendSlack(ctx context.Context, notif *Notification) error {
	color := s.severityToColor(notif.Severity)

	fields := []SlackField{}
	if notif.Data != nil {
		if source, ok := notif.Data["source"].(string); ok {
			fields = append(fields, SlackField{
				Title: "Source",
				Value: source,
				Short: true,
			})
		}
		if severity, ok := notif.Data["severity"].(string); ok {
			fields = append(fields, SlackField{
				Title: "Severity",
				Value: severity,
				Short: true,
			})
		}
		if riskScore, ok := notif.Data["risk_score"].(int); ok {
			fields = append(fields, SlackField{
				Title: "Risk Score",
				Value: fmt.Sprintf("%d", riskScore),
				Short: true,
			})
		}
		if assignedTo, ok := notif.Data["assigned_to"].(string); ok {
			fields = append(fields, SlackField{
				Title: "Assigned To",
				Value: assignedTo,
				Short: true,
			})
		}
	}

	msg := SlackMessage{
		Channel:   s.config.Slack.Channel,
		Username:  s.config.Slack.Username,
		IconEmoji: s.config.Slack.IconEmoji,
		Attachments: []SlackAttachment{
			{
				Color:     color,
				Title:     notif.Title,
				Text:      notif.Message,
				Fallback:  fmt.Sprintf("%s: %s", notif.Title, notif.Message),
				Fields:    fields,
				Footer:    "SOC Dashboard",
				Timestamp: notif.Timestamp.Unix(),
			},
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.Slack.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	s.logger.Info("slack notification sent",
		"type", notif.Type,
		"title", notif.Title)

	return nil
}

// severityToColor converts severity to Slack color
func (s *Service) severityToColor(severity models.AlertSeverity) string {
	switch severity {
	case models.SeverityCritical:
		return "#FF0000"
	case models.SeverityHigh:
		return "#FFA500"
	case models.SeverityMedium:
		return "#FFFF00"
	default:
		return "#36A64F"
	}
}

// CriticalAlert sends an immediate notification for a critical alert.
func (s *Service) CriticalAlert(ctx context.Context, alert *models.Alert) error {
	data := map[string]interface{}{
		"alert_id":   alert.ID.String(),
		"source":     alert.Source,
		"severity":   string(alert.Severity),
		"risk_score": alert.RiskScore,
	}
	if alert.AssignedTo != nil {
		data["assigned_to"] = *alert.AssignedTo
	}

	notif := &Notification{
		Type:      NotifyCriticalAlert,
		Title:     "CRITICAL Security Alert",
		Message:   fmt.Sprintf("%s: %s", alert.Title, alert.Description),
		Severity:  models.SeverityCritical,
		Data:      data,
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}

// NewAlert sends a notification for a newly ingested alert.
func (s *Service) NewAlert(ctx context.Context, alert *models.Alert) error {
	notif := &Notification{
		Type:     NotifyNewAlert,
		Title:    fmt.Sprintf("New %s Alert", alert.Severity),
		Message:  alert.Title,
		Severity: alert.Severity,
		Data: map[string]interface{}{
			"alert_id":   alert.ID.String(),
			"source":     alert.Source,
			"severity":   string(alert.Severity),
			"risk_score": alert.RiskScore,
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}
