package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/opshield/socboard/internal/ai"
	"github.com/opshield/socboard/internal/models"
	"github.com/opshield/socboard/internal/ws"
)

type fakeStore struct {
	mu sync.Mutex

	alerts         []*models.Alert
	activities     []*models.Activity
	investigations []*models.Investigation
	links          [][2]uuid.UUID
	comments       []*models.Comment
	chatMessages   []*models.ChatMessage

	updateResult *models.Alert
	createErr    error
}

func (f *fakeStore) CreateAlert(ctx context.Context, alert *models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeStore) GetAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Alert, 0, len(f.alerts))
	for _, a := range f.alerts {
		out = append(out, *a)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) UpdateAlertStatus(ctx context.Context, id uuid.UUID, status models.AlertStatus) (*models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateResult != nil {
		f.updateResult.Status = status
	}
	return f.updateResult, nil
}

func (f *fakeStore) AssignAlert(ctx context.Context, id uuid.UUID, userID string) (*models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateResult != nil {
		f.updateResult.AssignedTo = &userID
	}
	return f.updateResult, nil
}

func (f *fakeStore) CreateInvestigation(ctx context.Context, investigation *models.Investigation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if investigation.ID == uuid.Nil {
		investigation.ID = uuid.New()
	}
	f.investigations = append(f.investigations, investigation)
	return nil
}

func (f *fakeStore) LinkAlertToInvestigation(ctx context.Context, investigationID, alertID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, [2]uuid.UUID{investigationID, alertID})
	return nil
}

func (f *fakeStore) CreateComment(ctx context.Context, comment *models.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if comment.ID == uuid.Nil {
		comment.ID = uuid.New()
	}
	f.comments = append(f.comments, comment)
	return nil
}

func (f *fakeStore) CreateActivity(ctx context.Context, activity *models.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = append(f.activities, activity)
	return nil
}

func (f *fakeStore) CreateChatMessage(ctx context.Context, message *models.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	f.chatMessages = append(f.chatMessages, message)
	return nil
}

func (f *fakeStore) GetChatMessages(ctx context.Context, userID string, limit int) ([]models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ChatMessage, 0, len(f.chatMessages))
	// Newest first, mirroring the real store.
	for i := len(f.chatMessages) - 1; i >= 0; i-- {
		if f.chatMessages[i].UserID == userID {
			out = append(out, *f.chatMessages[i])
		}
	}
	return out, nil
}

func (f *fakeStore) GetDashboardMetrics(ctx context.Context) (*models.DashboardMetrics, error) {
	return &models.DashboardMetrics{}, nil
}

type fakeEnricher struct {
	analysis ai.AlertAnalysis
	chat     string
	summary  string
}

func (f *fakeEnricher) AnalyzeAlert(ctx context.Context, input ai.AlertInput) ai.AlertAnalysis {
	return f.analysis
}

func (f *fakeEnricher) ChatResponse(ctx context.Context, message, chatContext string) string {
	return f.chat
}

func (f *fakeEnricher) SummarizeAlerts(ctx context.Context, alerts []models.Alert) string {
	return f.summary
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []ws.Event
}

func (f *fakeBroadcaster) Broadcast(event ws.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func newTestPipeline(st *fakeStore, enricher *fakeEnricher) (*Pipeline, *fakeBroadcaster) {
	hub := &fakeBroadcaster{}
	return New(st, enricher, hub, nil), hub
}

func TestCreateAlert_EnrichesAndBroadcasts(t *testing.T) {
	st := &fakeStore{}
	enricher := &fakeEnricher{analysis: ai.AlertAnalysis{
		Summary:      "Download cradle detected",
		RiskScore:    85,
		MitreMapping: []string{"T1059", "T1105"},
	}}
	p, hub := newTestPipeline(st, enricher)

	alert, err := p.CreateAlert(context.Background(), "analyst-1", CreateAlertInput{
		Title:       "Suspicious PowerShell Execution",
		Description: "Encoded command",
		Severity:    models.SeverityHigh,
		Source:      "DESKTOP-ABC123",
		Tags:        []string{"custom", "T1059"},
	})
	if err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}

	if alert.AISummary != "Download cradle detected" {
		t.Errorf("expected AI summary on alert, got %q", alert.AISummary)
	}
	if alert.RiskScore != 85 {
		t.Errorf("expected risk score 85, got %d", alert.RiskScore)
	}
	if alert.Status != models.AlertStatusOpen {
		t.Errorf("expected status open, got %s", alert.Status)
	}

	// Tag union keeps caller order and dedupes AI technique IDs.
	want := []string{"custom", "T1059", "T1105"}
	if len(alert.Tags) != len(want) {
		t.Fatalf("expected tags %v, got %v", want, alert.Tags)
	}
	for i, tag := range want {
		if alert.Tags[i] != tag {
			t.Errorf("expected tag %q at %d, got %q", tag, i, alert.Tags[i])
		}
	}

	if len(st.activities) != 1 || st.activities[0].Action != "created_alert" {
		t.Errorf("expected one created_alert activity, got %+v", st.activities)
	}
	if len(hub.events) != 1 || hub.events[0].Type != ws.EventNewAlert {
		t.Errorf("expected one new_alert broadcast, got %+v", hub.events)
	}
}

func TestCreateAlert_ClampsEnricherRiskScore(t *testing.T) {
	tests := []struct {
		name     string
		score    int
		expected int
	}{
		{"above range", 250, 100},
		{"below range", -5, 0},
		{"zero preserved", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeStore{}
			p, _ := newTestPipeline(st, &fakeEnricher{analysis: ai.AlertAnalysis{RiskScore: tt.score}})

			alert, err := p.CreateAlert(context.Background(), "u", CreateAlertInput{
				Title: "t", Description: "d", Source: "s", Severity: models.SeverityLow,
			})
			if err != nil {
				t.Fatalf("CreateAlert failed: %v", err)
			}
			if alert.RiskScore != tt.expected {
				t.Errorf("expected risk score %d, got %d", tt.expected, alert.RiskScore)
			}
		})
	}
}

func TestCreateAlert_ValidationBlocksSideEffects(t *testing.T) {
	st := &fakeStore{}
	p, hub := newTestPipeline(st, &fakeEnricher{})

	_, err := p.CreateAlert(context.Background(), "u", CreateAlertInput{
		Severity: "weird",
	})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Fields) != 4 {
		t.Errorf("expected 4 field errors, got %d: %+v", len(verr.Fields), verr.Fields)
	}
	if len(st.alerts) != 0 || len(st.activities) != 0 || len(hub.events) != 0 {
		t.Error("validation failure must not produce side effects")
	}
}

func TestCreateAlert_FallbackAnalysisStillPersists(t *testing.T) {
	st := &fakeStore{}
	enricher := &fakeEnricher{analysis: ai.AlertAnalysis{
		Summary:            ai.FallbackSummary,
		RiskScore:          ai.FallbackRiskScore,
		RecommendedActions: ai.FallbackActions(),
		MitreMapping:       []string{},
	}}
	p, hub := newTestPipeline(st, enricher)

	alert, err := p.CreateAlert(context.Background(), "u", CreateAlertInput{
		Title: "t", Description: "d", Source: "s", Severity: models.SeverityMedium,
	})
	if err != nil {
		t.Fatalf("expected alert creation to succeed despite AI fallback: %v", err)
	}
	if alert.AISummary != ai.FallbackSummary {
		t.Errorf("expected fallback summary persisted, got %q", alert.AISummary)
	}
	if alert.RiskScore != ai.FallbackRiskScore {
		t.Errorf("expected fallback risk score, got %d", alert.RiskScore)
	}
	if len(hub.events) != 1 {
		t.Errorf("expected broadcast even with fallback analysis, got %d events", len(hub.events))
	}
}

type fakeNotifier struct {
	critical []*models.Alert
	created  []*models.Alert
	err      error
}

func (f *fakeNotifier) NewAlert(ctx context.Context, alert *models.Alert) error {
	f.created = append(f.created, alert)
	return f.err
}

func (f *fakeNotifier) CriticalAlert(ctx context.Context, alert *models.Alert) error {
	f.critical = append(f.critical, alert)
	return f.err
}

func TestCreateAlert_NotifiesBySeverity(t *testing.T) {
	st := &fakeStore{}
	p, _ := newTestPipeline(st, &fakeEnricher{})
	notifier := &fakeNotifier{}
	p.SetNotifier(notifier)

	_, err := p.CreateAlert(context.Background(), "u", CreateAlertInput{
		Title: "t", Description: "d", Source: "s", Severity: models.SeverityCritical,
	})
	if err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}
	if len(notifier.critical) != 1 {
		t.Fatalf("expected critical notification, got %d", len(notifier.critical))
	}
	if len(notifier.created) != 0 {
		t.Errorf("critical alerts take the escalation path only, got %d new-alert calls", len(notifier.created))
	}

	// Non-critical alerts go through the regular notification path.
	if _, err := p.CreateAlert(context.Background(), "u", CreateAlertInput{
		Title: "t2", Description: "d", Source: "s", Severity: models.SeverityHigh,
	}); err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}
	if len(notifier.created) != 1 {
		t.Errorf("expected new-alert notification for high severity, got %d", len(notifier.created))
	}
	if len(notifier.critical) != 1 {
		t.Errorf("expected no extra critical notification, got %d", len(notifier.critical))
	}

	// Notification failures never fail the request.
	notifier.err = errors.New("webhook down")
	if _, err := p.CreateAlert(context.Background(), "u", CreateAlertInput{
		Title: "t3", Description: "d", Source: "s", Severity: models.SeverityCritical,
	}); err != nil {
		t.Errorf("notification error must not fail alert creation: %v", err)
	}
}

func TestCreateAlert_ConcurrentCreates(t *testing.T) {
	st := &fakeStore{}
	p, hub := newTestPipeline(st, &fakeEnricher{})

	const n = 50
	errs := make(chan error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := p.CreateAlert(context.Background(), "analyst-1", CreateAlertInput{
				Title:       fmt.Sprintf("alert %d", i),
				Description: "d",
				Source:      "s",
				Severity:    models.SeverityMedium,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("CreateAlert failed: %v", err)
		}
	}

	if len(st.alerts) != n {
		t.Errorf("expected %d persisted alerts, got %d", n, len(st.alerts))
	}
	created := 0
	for _, a := range st.activities {
		if a.Action == "created_alert" {
			created++
		}
	}
	if created != n {
		t.Errorf("expected %d created_alert activities, got %d", n, created)
	}
	broadcasts := 0
	for _, e := range hub.events {
		if e.Type == ws.EventNewAlert {
			broadcasts++
		}
	}
	if broadcasts != n {
		t.Errorf("expected %d new_alert broadcasts, got %d", n, broadcasts)
	}
}

func TestUpdateAlertStatus(t *testing.T) {
	existing := &models.Alert{ID: uuid.New(), Status: models.AlertStatusOpen}
	st := &fakeStore{updateResult: existing}
	p, hub := newTestPipeline(st, &fakeEnricher{})

	alert, err := p.UpdateAlertStatus(context.Background(), "u", existing.ID, models.AlertStatusResolved)
	if err != nil {
		t.Fatalf("UpdateAlertStatus failed: %v", err)
	}
	if alert.Status != models.AlertStatusResolved {
		t.Errorf("expected resolved, got %s", alert.Status)
	}
	if len(st.activities) != 1 || st.activities[0].Action != "updated_alert_status" {
		t.Errorf("expected updated_alert_status activity, got %+v", st.activities)
	}
	if len(hub.events) != 1 || hub.events[0].Type != ws.EventAlertUpdated {
		t.Errorf("expected alert_updated broadcast, got %+v", hub.events)
	}
}

func TestUpdateAlertStatus_InvalidStatus(t *testing.T) {
	st := &fakeStore{updateResult: &models.Alert{ID: uuid.New()}}
	p, hub := newTestPipeline(st, &fakeEnricher{})

	_, err := p.UpdateAlertStatus(context.Background(), "u", uuid.New(), "bogus")

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(st.activities) != 0 || len(hub.events) != 0 {
		t.Error("invalid status must not produce side effects")
	}
}

func TestUpdateAlertStatus_NotFound(t *testing.T) {
	st := &fakeStore{updateResult: nil}
	p, _ := newTestPipeline(st, &fakeEnricher{})

	_, err := p.UpdateAlertStatus(context.Background(), "u", uuid.New(), models.AlertStatusResolved)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignAlert(t *testing.T) {
	existing := &models.Alert{ID: uuid.New()}
	st := &fakeStore{updateResult: existing}
	p, hub := newTestPipeline(st, &fakeEnricher{})

	alert, err := p.AssignAlert(context.Background(), "manager-1", existing.ID, "analyst-2")
	if err != nil {
		t.Fatalf("AssignAlert failed: %v", err)
	}
	if alert.AssignedTo == nil || *alert.AssignedTo != "analyst-2" {
		t.Errorf("expected assignment to analyst-2, got %v", alert.AssignedTo)
	}
	if len(hub.events) != 1 || hub.events[0].Type != ws.EventAlertUpdated {
		t.Errorf("expected alert_updated broadcast, got %+v", hub.events)
	}

	if _, err := p.AssignAlert(context.Background(), "manager-1", existing.ID, "  "); err == nil {
		t.Error("expected validation error for blank userId")
	}
}

func TestCreateInvestigation_LinksAlerts(t *testing.T) {
	st := &fakeStore{}
	p, hub := newTestPipeline(st, &fakeEnricher{})

	alertA, alertB := uuid.New(), uuid.New()
	investigation, err := p.CreateInvestigation(context.Background(), "analyst-1", CreateInvestigationInput{
		Title:    "APT Campaign",
		Priority: models.PriorityCritical,
		AlertIDs: []uuid.UUID{alertA, alertB},
	})
	if err != nil {
		t.Fatalf("CreateInvestigation failed: %v", err)
	}

	if investigation.CreatedBy != "analyst-1" {
		t.Errorf("expected creator analyst-1, got %s", investigation.CreatedBy)
	}
	if investigation.Status != models.InvestigationStatusOpen {
		t.Errorf("expected status open, got %s", investigation.Status)
	}
	if len(st.links) != 2 {
		t.Errorf("expected 2 alert links, got %d", len(st.links))
	}
	if len(hub.events) != 1 || hub.events[0].Type != ws.EventNewInvestigation {
		t.Errorf("expected new_investigation broadcast, got %+v", hub.events)
	}

	if _, err := p.CreateInvestigation(context.Background(), "analyst-1", CreateInvestigationInput{}); err == nil {
		t.Error("expected validation error for missing title")
	}
}

func TestCreateComment(t *testing.T) {
	st := &fakeStore{}
	p, hub := newTestPipeline(st, &fakeEnricher{})

	comment, err := p.CreateComment(context.Background(), "analyst-1", CreateCommentInput{
		Content:    "Host isolated.",
		EntityType: "alert",
		EntityID:   uuid.New().String(),
	})
	if err != nil {
		t.Fatalf("CreateComment failed: %v", err)
	}
	if comment.AuthorID != "analyst-1" {
		t.Errorf("expected author analyst-1, got %s", comment.AuthorID)
	}
	if len(st.activities) != 1 || st.activities[0].Action != "commented" {
		t.Errorf("expected commented activity, got %+v", st.activities)
	}
	if len(hub.events) != 1 || hub.events[0].Type != ws.EventNewComment {
		t.Errorf("expected new_comment broadcast, got %+v", hub.events)
	}

	_, err = p.CreateComment(context.Background(), "analyst-1", CreateCommentInput{})
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) != 3 {
		t.Errorf("expected 3 field errors, got %v", err)
	}
}

func TestChatTurn_TwoRowsOneBroadcast(t *testing.T) {
	st := &fakeStore{}
	p, hub := newTestPipeline(st, &fakeEnricher{chat: "pong"})

	userMsg, aiMsg, err := p.ChatTurn(context.Background(), "analyst-1", "ping")
	if err != nil {
		t.Fatalf("ChatTurn failed: %v", err)
	}

	if userMsg.Message != "ping" || userMsg.IsFromAI {
		t.Errorf("unexpected user message: %+v", userMsg)
	}
	if aiMsg.Message != "pong" || aiMsg.Response != "pong" || !aiMsg.IsFromAI {
		t.Errorf("unexpected AI message: %+v", aiMsg)
	}
	if len(st.chatMessages) != 2 {
		t.Errorf("expected exactly 2 persisted rows, got %d", len(st.chatMessages))
	}
	if len(hub.events) != 1 || hub.events[0].Type != ws.EventNewChatMessages {
		t.Errorf("expected one new_chat_messages broadcast, got %+v", hub.events)
	}

	if _, _, err := p.ChatTurn(context.Background(), "analyst-1", "   "); err == nil {
		t.Error("expected validation error for blank message")
	}
}

func TestChatHistory_Chronological(t *testing.T) {
	st := &fakeStore{}
	p, _ := newTestPipeline(st, &fakeEnricher{chat: "r"})

	for _, msg := range []string{"first", "second", "third"} {
		if _, _, err := p.ChatTurn(context.Background(), "u", msg); err != nil {
			t.Fatalf("ChatTurn failed: %v", err)
		}
	}

	history, err := p.ChatHistory(context.Background(), "u", 0)
	if err != nil {
		t.Fatalf("ChatHistory failed: %v", err)
	}
	if len(history) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(history))
	}
	if history[0].Message != "first" {
		t.Errorf("expected chronological order, first message was %q", history[0].Message)
	}
	if history[len(history)-1].Message != "r" || !history[len(history)-1].IsFromAI {
		t.Errorf("expected final message to be the last AI reply, got %+v", history[len(history)-1])
	}
}

func TestMergeTags(t *testing.T) {
	tests := []struct {
		name    string
		tags    []string
		mapping []string
		want    []string
	}{
		{"union dedupes", []string{"a", "b"}, []string{"b", "c"}, []string{"a", "b", "c"}},
		{"drops empties", []string{"", "a"}, []string{""}, []string{"a"}},
		{"both nil", nil, nil, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeTags(tt.tags, tt.mapping)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}
