// Package ai wraps the OpenAI chat-completions API behind a total,
// never-failing contract: every call degrades to a documented fallback
// value instead of returning an error. The provider is untrusted for both
// availability and format compliance.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/opshield/socboard/internal/models"
)

// AlertAnalysis is the structured enrichment result for one alert.
type AlertAnalysis struct {
	Summary            string   `json:"summary"`
	RiskScore          int      `json:"riskScore"`
	RecommendedActions []string `json:"recommendedActions"`
	MitreMapping       []string `json:"mitreMapping"`
	ThreatIntelligence string   `json:"threatIntelligence,omitempty"`
}

// AlertInput carries the raw alert fields submitted for analysis.
type AlertInput struct {
	Title       string
	Description string
	Source      string
	SourceUser  string
	Severity    models.AlertSeverity
}

// Fallback values returned when the provider call fails or its output is
// unusable. Callers depend on these exact strings.
const (
	FallbackSummary      = "AI analysis temporarily unavailable. Manual review required."
	FallbackRiskScore    = 50
	FallbackChatResponse = "I'm experiencing technical difficulties. Please try your question again or contact your system administrator."
	FallbackAlertSummary = "Unable to generate alert summary. Please review alerts manually."

	defaultSummary      = "Alert requires further investigation"
	emptyChatResponse   = "I'm having trouble processing your request right now. Please try again."
	emptyAlertSummary   = "Alert summary unavailable at this time."
	maxSummarizedAlerts = 10
)

// FallbackActions is the recommended-actions list of the fallback analysis.
func FallbackActions() []string {
	return []string{"Manually review alert details", "Check system logs", "Escalate if necessary"}
}

func defaultActions() []string {
	return []string{"Review alert details", "Check for related incidents"}
}

// completionAPI is the slice of the OpenAI client the enricher uses;
// *openai.Client satisfies it.
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Enricher struct {
	client completionAPI
	model  string
	logger *slog.Logger
}

type Config struct {
	APIKey         string
	Model          string
	RequestTimeout time.Duration
}

func NewEnricher(cfg Config, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}

	return &Enricher{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger,
	}
}

// AnalyzeAlert requests a structured risk analysis for the alert. It never
// returns an error: provider failures and malformed responses produce the
// fixed fallback analysis, and the risk score is always clamped to [0,100].
func (e *Enricher) AnalyzeAlert(ctx context.Context, input AlertInput) AlertAnalysis {
	sourceUser := input.SourceUser
	if sourceUser == "" {
		sourceUser = "N/A"
	}

	prompt := fmt.Sprintf(`You are a cybersecurity expert analyzing a security alert. Please analyze the following alert and provide a structured response in JSON format.

Alert Details:
- Title: %s
- Description: %s
- Source: %s
- User: %s
- Severity: %s

Please respond with a JSON object containing:
- summary: A concise professional summary of the alert
- riskScore: A risk score from 0-100
- recommendedActions: An array of 2-3 specific recommended actions
- mitreMapping: An array of relevant MITRE ATT&CK technique IDs (e.g., ["T1059", "T1105"])
- threatIntelligence: Brief context about the threat type or actor group if applicable`,
		input.Title, input.Description, input.Source, sourceUser, input.Severity)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a senior cybersecurity analyst specializing in threat detection and incident response. Provide accurate, actionable analysis.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
	})
	if err != nil {
		e.logger.Error("alert analysis failed", "error", err)
		return fallbackAnalysis()
	}

	content := firstChoice(resp)
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		e.logger.Error("alert analysis returned malformed JSON", "error", err)
		return fallbackAnalysis()
	}

	return AlertAnalysis{
		Summary:            stringField(raw, "summary", defaultSummary),
		RiskScore:          clampRiskScore(numberField(raw, "riskScore", FallbackRiskScore)),
		RecommendedActions: stringSliceField(raw, "recommendedActions", defaultActions()),
		MitreMapping:       stringSliceField(raw, "mitreMapping", []string{}),
		ThreatIntelligence: stringField(raw, "threatIntelligence", ""),
	}
}

// ChatResponse answers a free-form analyst question. Failures yield a fixed
// apology string rather than an error.
func (e *Enricher) ChatResponse(ctx context.Context, message, chatContext string) string {
	systemPrompt := `You are an AI assistant specialized in cybersecurity operations for a Security Operations Center (SOC). You help analysts with:
- Alert analysis and triage
- Threat intelligence queries
- Investigation guidance
- MITRE ATT&CK framework mapping
- Incident response procedures

Provide helpful, accurate, and actionable responses. Keep responses concise but informative.`
	if chatContext != "" {
		systemPrompt += "\n\nCurrent context: " + chatContext
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
		Temperature: 0.7,
		MaxTokens:   500,
	})
	if err != nil {
		e.logger.Error("chat completion failed", "error", err)
		return FallbackChatResponse
	}

	if content := firstChoice(resp); content != "" {
		return content
	}
	return emptyChatResponse
}

// SummarizeAlerts produces a threat-landscape summary over at most the 10
// most recent alerts given. Failures yield a fixed notice string.
func (e *Enricher) SummarizeAlerts(ctx context.Context, alerts []models.Alert) string {
	if len(alerts) > maxSummarizedAlerts {
		alerts = alerts[:maxSummarizedAlerts]
	}

	lines := make([]string, 0, len(alerts))
	for _, alert := range alerts {
		lines = append(lines, fmt.Sprintf("- %s: %s (%s)",
			strings.ToUpper(string(alert.Severity)), alert.Title, alert.Source))
	}

	prompt := fmt.Sprintf(`Analyze these recent security alerts and provide a brief summary of the current threat landscape and key concerns:

%s

Provide a concise summary highlighting:
1. Overall threat level
2. Most concerning patterns
3. Recommended focus areas for the SOC team`, strings.Join(lines, "\n"))

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a cybersecurity analyst providing situational awareness summaries for SOC leadership.",
			},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.5,
		MaxTokens:   300,
	})
	if err != nil {
		e.logger.Error("alert summarization failed", "error", err)
		return FallbackAlertSummary
	}

	if content := firstChoice(resp); content != "" {
		return content
	}
	return emptyAlertSummary
}

func fallbackAnalysis() AlertAnalysis {
	return AlertAnalysis{
		Summary:            FallbackSummary,
		RiskScore:          FallbackRiskScore,
		RecommendedActions: FallbackActions(),
		MitreMapping:       []string{},
	}
}

func firstChoice(resp openai.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
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

func stringField(raw map[string]interface{}, key, fallback string) string {
	if v, ok := raw[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// numberField tolerates numeric strings and non-numeric junk; anything
// unusable becomes the fallback.
func numberField(raw map[string]interface{}, key string, fallback int) int {
	switch v := raw[key].(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return int(n)
		}
	}
	return fallback
}

func stringSliceField(raw map[string]interface{}, key string, fallback []string) []string {
	items, ok := raw[key].([]interface{})
	if !ok {
		return fallback
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
