// Package pipeline orchestrates the store, the AI enricher and the
// real-time fan-out for every mutating dashboard flow. Validation happens
// before any side effect; enrichment failures never abort a request; store
// failures are terminal with no compensation of earlier steps.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/opshield/socboard/internal/ai"
	"github.com/opshield/socboard/internal/models"
	"github.com/opshield/socboard/internal/ws"
)

var ErrNotFound = errors.New("not found")

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates all invalid fields of one request. It is
// returned before any side effect has happened.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Store is the slice of the persistent store the pipelines depend on.
type Store interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
	GetAlerts(ctx context.Context, limit int) ([]models.Alert, error)
	UpdateAlertStatus(ctx context.Context, id uuid.UUID, status models.AlertStatus) (*models.Alert, error)
	AssignAlert(ctx context.Context, id uuid.UUID, userID string) (*models.Alert, error)
	CreateInvestigation(ctx context.Context, investigation *models.Investigation) error
	LinkAlertToInvestigation(ctx context.Context, investigationID, alertID uuid.UUID) error
	CreateComment(ctx context.Context, comment *models.Comment) error
	CreateActivity(ctx context.Context, activity *models.Activity) error
	CreateChatMessage(ctx context.Context, message *models.ChatMessage) error
	GetChatMessages(ctx context.Context, userID string, limit int) ([]models.ChatMessage, error)
	GetDashboardMetrics(ctx context.Context) (*models.DashboardMetrics, error)
}

// Enricher is the AI boundary; implementations never return errors and
// degrade to documented fallbacks instead (see the ai package).
type Enricher interface {
	AnalyzeAlert(ctx context.Context, input ai.AlertInput) ai.AlertAnalysis
	ChatResponse(ctx context.Context, message, chatContext string) string
	SummarizeAlerts(ctx context.Context, alerts []models.Alert) string
}

// Broadcaster pushes an event to all connected dashboard clients,
// fire-and-forget.
type Broadcaster interface {
	Broadcast(event ws.Event)
}

// Notifier receives created alerts for out-of-band notification. The
// implementation applies its own severity gating; critical alerts take
// the dedicated escalation path.
type Notifier interface {
	NewAlert(ctx context.Context, alert *models.Alert) error
	CriticalAlert(ctx context.Context, alert *models.Alert) error
}

type Pipeline struct {
	store    Store
	enricher Enricher
	hub      Broadcaster
	notifier Notifier
	logger   *slog.Logger
}

func New(store Store, enricher Enricher, hub Broadcaster, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    store,
		enricher: enricher,
		hub:      hub,
		logger:   logger,
	}
}

// SetNotifier wires an optional out-of-band notifier for created alerts.
func (p *Pipeline) SetNotifier(n Notifier) {
	p.notifier = n
}

type CreateAlertInput struct {
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Severity    models.AlertSeverity `json:"severity"`
	Source      string               `json:"source"`
	SourceUser  string               `json:"sourceUser"`
	Tags        []string             `json:"tags"`
	Metadata    models.JSONB         `json:"metadata"`
}

func (in CreateAlertInput) validate() error {
	var fields []FieldError
	if strings.TrimSpace(in.Title) == "" {
		fields = append(fields, FieldError{Field: "title", Message: "title is required"})
	}
	if strings.TrimSpace(in.Description) == "" {
		fields = append(fields, FieldError{Field: "description", Message: "description is required"})
	}
	if strings.TrimSpace(in.Source) == "" {
		fields = append(fields, FieldError{Field: "source", Message: "source is required"})
	}
	if !models.ValidSeverity(in.Severity) {
		fields = append(fields, FieldError{Field: "severity", Message: "severity must be one of critical, high, medium, low, info"})
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// CreateAlert runs the full ingestion flow: validate, enrich (best
// effort), persist, log activity, broadcast. The risk score is clamped to
// [0,100] no matter what the enricher produced.
func (p *Pipeline) CreateAlert(ctx context.Context, actorID string, in CreateAlertInput) (*models.Alert, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	analysis := p.enricher.AnalyzeAlert(ctx, ai.AlertInput{
		Title:       in.Title,
		Description: in.Description,
		Source:      in.Source,
		SourceUser:  in.SourceUser,
		Severity:    in.Severity,
	})

	alert := &models.Alert{
		Title:       in.Title,
		Description: in.Description,
		Severity:    in.Severity,
		Status:      models.AlertStatusOpen,
		Source:      in.Source,
		SourceUser:  in.SourceUser,
		Tags:        mergeTags(in.Tags, analysis.MitreMapping),
		Metadata:    in.Metadata,
		AISummary:   analysis.Summary,
		RiskScore:   clampRiskScore(analysis.RiskScore),
	}

	if err := p.store.CreateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("creating alert: %w", err)
	}

	if err := p.logActivity(ctx, actorID, "created_alert", "alert", alert.ID.String(),
		models.JSONB{"severity": string(alert.Severity)}); err != nil {
		return nil, err
	}

	p.hub.Broadcast(ws.Event{Type: ws.EventNewAlert, Data: alert})

	if p.notifier != nil {
		notify := p.notifier.NewAlert
		if alert.Severity == models.SeverityCritical {
			notify = p.notifier.CriticalAlert
		}
		if err := notify(ctx, alert); err != nil {
			p.logger.Error("alert notification failed", "alert_id", alert.ID, "error", err)
		}
	}

	return alert, nil
}

func (p *Pipeline) UpdateAlertStatus(ctx context.Context, actorID string, id uuid.UUID, status models.AlertStatus) (*models.Alert, error) {
	if !models.ValidAlertStatus(status) {
		return nil, &ValidationError{Fields: []FieldError{
			{Field: "status", Message: "status must be one of open, investigating, resolved, false_positive"},
		}}
	}

	alert, err := p.store.UpdateAlertStatus(ctx, id, status)
	if err != nil {
		return nil, fmt.Errorf("updating alert status: %w", err)
	}
	if alert == nil {
		return nil, ErrNotFound
	}

	if err := p.logActivity(ctx, actorID, "updated_alert_status", "alert", alert.ID.String(),
		models.JSONB{"newStatus": string(status)}); err != nil {
		return nil, err
	}

	p.hub.Broadcast(ws.Event{Type: ws.EventAlertUpdated, Data: alert})

	return alert, nil
}

func (p *Pipeline) AssignAlert(ctx context.Context, actorID string, id uuid.UUID, userID string) (*models.Alert, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &ValidationError{Fields: []FieldError{
			{Field: "userId", Message: "userId is required"},
		}}
	}

	alert, err := p.store.AssignAlert(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("assigning alert: %w", err)
	}
	if alert == nil {
		return nil, ErrNotFound
	}

	if err := p.logActivity(ctx, actorID, "assigned_alert", "alert", alert.ID.String(),
		models.JSONB{"assignedTo": userID}); err != nil {
		return nil, err
	}

	p.hub.Broadcast(ws.Event{Type: ws.EventAlertUpdated, Data: alert})

	return alert, nil
}

type CreateInvestigationInput struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Priority    string      `json:"priority"`
	AssignedTo  *string     `json:"assignedTo"`
	AlertIDs    []uuid.UUID `json:"alertIds"`
}

func (p *Pipeline) CreateInvestigation(ctx context.Context, actorID string, in CreateInvestigationInput) (*models.Investigation, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, &ValidationError{Fields: []FieldError{
			{Field: "title", Message: "title is required"},
		}}
	}

	investigation := &models.Investigation{
		Title:       in.Title,
		Description: in.Description,
		Status:      models.InvestigationStatusOpen,
		Priority:    in.Priority,
		AssignedTo:  in.AssignedTo,
		CreatedBy:   actorID,
	}

	if err := p.store.CreateInvestigation(ctx, investigation); err != nil {
		return nil, fmt.Errorf("creating investigation: %w", err)
	}

	for _, alertID := range in.AlertIDs {
		if err := p.store.LinkAlertToInvestigation(ctx, investigation.ID, alertID); err != nil {
			return nil, fmt.Errorf("linking alert %s: %w", alertID, err)
		}
	}

	if err := p.logActivity(ctx, actorID, "created_investigation", "investigation", investigation.ID.String(),
		models.JSONB{"priority": investigation.Priority}); err != nil {
		return nil, err
	}

	p.hub.Broadcast(ws.Event{Type: ws.EventNewInvestigation, Data: investigation})

	return investigation, nil
}

type CreateCommentInput struct {
	Content    string `json:"content"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
}

// CreateComment persists a comment against an (entityType, entityId) pair.
// The target's existence is not checked, matching the polymorphic schema.
func (p *Pipeline) CreateComment(ctx context.Context, actorID string, in CreateCommentInput) (*models.Comment, error) {
	var fields []FieldError
	if strings.TrimSpace(in.Content) == "" {
		fields = append(fields, FieldError{Field: "content", Message: "content is required"})
	}
	if strings.TrimSpace(in.EntityType) == "" {
		fields = append(fields, FieldError{Field: "entityType", Message: "entityType is required"})
	}
	if strings.TrimSpace(in.EntityID) == "" {
		fields = append(fields, FieldError{Field: "entityId", Message: "entityId is required"})
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	comment := &models.Comment{
		Content:    in.Content,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		AuthorID:   actorID,
	}

	if err := p.store.CreateComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("creating comment: %w", err)
	}

	if err := p.logActivity(ctx, actorID, "commented", in.EntityType, in.EntityID, models.JSONB{}); err != nil {
		return nil, err
	}

	p.hub.Broadcast(ws.Event{Type: ws.EventNewComment, Data: comment})

	return comment, nil
}

// ChatTurn persists the analyst's message, asks the AI for a reply,
// persists the reply as a second row and broadcasts both. One turn always
// yields exactly two rows and one broadcast.
func (p *Pipeline) ChatTurn(ctx context.Context, userID, message string) (*models.ChatMessage, *models.ChatMessage, error) {
	if strings.TrimSpace(message) == "" {
		return nil, nil, &ValidationError{Fields: []FieldError{
			{Field: "message", Message: "message is required"},
		}}
	}

	userMessage := &models.ChatMessage{
		UserID:   userID,
		Message:  message,
		IsFromAI: false,
	}
	if err := p.store.CreateChatMessage(ctx, userMessage); err != nil {
		return nil, nil, fmt.Errorf("saving user message: %w", err)
	}

	response := p.enricher.ChatResponse(ctx, message, "")

	aiMessage := &models.ChatMessage{
		UserID:   userID,
		Message:  response,
		Response: response,
		IsFromAI: true,
	}
	if err := p.store.CreateChatMessage(ctx, aiMessage); err != nil {
		return nil, nil, fmt.Errorf("saving AI message: %w", err)
	}

	p.hub.Broadcast(ws.Event{Type: ws.EventNewChatMessages, Data: map[string]interface{}{
		"userMessage": userMessage,
		"aiMessage":   aiMessage,
	}})

	return userMessage, aiMessage, nil
}

// ChatHistory returns the user's messages in chronological order.
func (p *Pipeline) ChatHistory(ctx context.Context, userID string, limit int) ([]models.ChatMessage, error) {
	messages, err := p.store.GetChatMessages(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching chat messages: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// SummarizeRecentAlerts feeds the 10 most recent alerts to the AI for a
// threat-landscape summary.
func (p *Pipeline) SummarizeRecentAlerts(ctx context.Context) (string, error) {
	alerts, err := p.store.GetAlerts(ctx, 10)
	if err != nil {
		return "", fmt.Errorf("fetching alerts: %w", err)
	}
	return p.enricher.SummarizeAlerts(ctx, alerts), nil
}

func (p *Pipeline) Metrics(ctx context.Context) (*models.DashboardMetrics, error) {
	return p.store.GetDashboardMetrics(ctx)
}

func (p *Pipeline) logActivity(ctx context.Context, actorID, action, entityType, entityID string, metadata models.JSONB) error {
	activity := &models.Activity{
		UserID:     actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
	}
	if err := p.store.CreateActivity(ctx, activity); err != nil {
		return fmt.Errorf("logging activity %q: %w", action, err)
	}
	return nil
}

// mergeTags unions caller-supplied tags with AI technique mappings,
// preserving order and dropping duplicates.
func mergeTags(tags, mapping []string) models.StringArray {
	seen := make(map[string]bool, len(tags)+len(mapping))
	merged := make(models.StringArray, 0, len(tags)+len(mapping))
	for _, t := range append(append([]string{}, tags...), mapping...) {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		merged = append(merged, t)
	}
	return merged
}

func clampRiskScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
