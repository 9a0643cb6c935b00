package ai

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/opshield/socboard/internal/models"
)

// stubAPI returns a canned response or error for every completion call.
type stubAPI struct {
	content string
	err     error
	calls   int
	lastReq openai.ChatCompletionRequest
}

func (s *stubAPI) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}

func newTestEnricher(stub *stubAPI) *Enricher {
	return &Enricher{
		client: stub,
		model:  openai.GPT4o,
		logger: slog.Default(),
	}
}

func TestAnalyzeAlert_ParsesResponse(t *testing.T) {
	stub := &stubAPI{content: `{
		"summary": "Encoded PowerShell download cradle",
		"riskScore": 85,
		"recommendedActions": ["Isolate host", "Capture memory"],
		"mitreMapping": ["T1059.001", "T1105"],
		"threatIntelligence": "Consistent with commodity loader activity"
	}`}
	e := newTestEnricher(stub)

	analysis := e.AnalyzeAlert(context.Background(), AlertInput{
		Title:       "Suspicious PowerShell Execution",
		Description: "Encoded command line",
		Source:      "DESKTOP-ABC123",
		Severity:    models.SeverityCritical,
	})

	if analysis.Summary != "Encoded PowerShell download cradle" {
		t.Errorf("unexpected summary: %q", analysis.Summary)
	}
	if analysis.RiskScore != 85 {
		t.Errorf("expected risk score 85, got %d", analysis.RiskScore)
	}
	if len(analysis.RecommendedActions) != 2 {
		t.Errorf("expected 2 actions, got %v", analysis.RecommendedActions)
	}
	if len(analysis.MitreMapping) != 2 || analysis.MitreMapping[0] != "T1059.001" {
		t.Errorf("unexpected mitre mapping: %v", analysis.MitreMapping)
	}
}

func TestAnalyzeAlert_ClampsRiskScore(t *testing.T) {
	tests := []struct {
		name     string
		response string
		expected int
	}{
		{"above range", `{"summary": "s", "riskScore": 250}`, 100},
		{"below range", `{"summary": "s", "riskScore": -10}`, 0},
		{"zero kept", `{"summary": "s", "riskScore": 0}`, 0},
		{"numeric string", `{"summary": "s", "riskScore": "72"}`, 72},
		{"missing", `{"summary": "s"}`, FallbackRiskScore},
		{"junk", `{"summary": "s", "riskScore": "very high"}`, FallbackRiskScore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnricher(&stubAPI{content: tt.response})
			analysis := e.AnalyzeAlert(context.Background(), AlertInput{Title: "t"})
			if analysis.RiskScore != tt.expected {
				t.Errorf("expected risk score %d, got %d", tt.expected, analysis.RiskScore)
			}
		})
	}
}

func TestAnalyzeAlert_ProviderErrorFallsBack(t *testing.T) {
	e := newTestEnricher(&stubAPI{err: errors.New("rate limited")})

	analysis := e.AnalyzeAlert(context.Background(), AlertInput{Title: "t"})

	if analysis.Summary != FallbackSummary {
		t.Errorf("expected fallback summary, got %q", analysis.Summary)
	}
	if analysis.RiskScore != FallbackRiskScore {
		t.Errorf("expected fallback risk score, got %d", analysis.RiskScore)
	}
	if len(analysis.RecommendedActions) != len(FallbackActions()) {
		t.Errorf("expected fallback actions, got %v", analysis.RecommendedActions)
	}
	if analysis.MitreMapping == nil || len(analysis.MitreMapping) != 0 {
		t.Errorf("expected empty mitre mapping, got %v", analysis.MitreMapping)
	}
}

func TestAnalyzeAlert_MalformedJSONFallsBack(t *testing.T) {
	e := newTestEnricher(&stubAPI{content: "I cannot answer in JSON, sorry."})

	analysis := e.AnalyzeAlert(context.Background(), AlertInput{Title: "t"})

	if analysis.Summary != FallbackSummary {
		t.Errorf("expected fallback summary, got %q", analysis.Summary)
	}
}

func TestAnalyzeAlert_PartialResponseUsesDefaults(t *testing.T) {
	e := newTestEnricher(&stubAPI{content: `{"riskScore": 40}`})

	analysis := e.AnalyzeAlert(context.Background(), AlertInput{Title: "t"})

	if analysis.Summary != defaultSummary {
		t.Errorf("expected default summary, got %q", analysis.Summary)
	}
	if analysis.RiskScore != 40 {
		t.Errorf("expected risk score 40, got %d", analysis.RiskScore)
	}
	if len(analysis.RecommendedActions) != len(defaultActions()) {
		t.Errorf("expected default actions, got %v", analysis.RecommendedActions)
	}
}

func TestChatResponse(t *testing.T) {
	stub := &stubAPI{content: "Check the proxy logs for that domain."}
	e := newTestEnricher(stub)

	got := e.ChatResponse(context.Background(), "How do I triage this?", "")
	if got != "Check the proxy logs for that domain." {
		t.Errorf("unexpected response: %q", got)
	}
	if stub.lastReq.MaxTokens != 500 {
		t.Errorf("expected max tokens 500, got %d", stub.lastReq.MaxTokens)
	}
}

func TestChatResponse_ErrorFallsBack(t *testing.T) {
	e := newTestEnricher(&stubAPI{err: errors.New("timeout")})

	if got := e.ChatResponse(context.Background(), "hello", ""); got != FallbackChatResponse {
		t.Errorf("expected fallback chat response, got %q", got)
	}
}

func TestChatResponse_EmptyChoice(t *testing.T) {
	e := newTestEnricher(&stubAPI{content: ""})

	if got := e.ChatResponse(context.Background(), "hello", ""); got != emptyChatResponse {
		t.Errorf("expected empty-choice response, got %q", got)
	}
}

func TestSummarizeAlerts_CapsAtTen(t *testing.T) {
	stub := &stubAPI{content: "Threat level elevated."}
	e := newTestEnricher(stub)

	alerts := make([]models.Alert, 15)
	for i := range alerts {
		alerts[i] = models.Alert{
			Title:    "Alert",
			Severity: models.SeverityLow,
			Source:   "sensor",
		}
	}

	got := e.SummarizeAlerts(context.Background(), alerts)
	if got != "Threat level elevated." {
		t.Errorf("unexpected summary: %q", got)
	}

	prompt := stub.lastReq.Messages[len(stub.lastReq.Messages)-1].Content
	count := 0
	for _, line := range splitLines(prompt) {
		if len(line) > 0 && line[0] == '-' {
			count++
		}
	}
	if count != maxSummarizedAlerts {
		t.Errorf("expected %d alert lines in prompt, got %d", maxSummarizedAlerts, count)
	}
}

func TestSummarizeAlerts_ErrorFallsBack(t *testing.T) {
	e := newTestEnricher(&stubAPI{err: errors.New("boom")})

	got := e.SummarizeAlerts(context.Background(), []models.Alert{{Title: "a"}})
	if got != FallbackAlertSummary {
		t.Errorf("expected fallback summary, got %q", got)
	}
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return append(lines, s[start:])
}
