package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/opshield/socboard/internal/models"
)

type ReportType string

const (
	ReportTypeAlerts         ReportType = "alerts"
	ReportTypeInvestigations ReportType = "investigations"
	ReportTypeExecutive      ReportType = "executive"
)

type ReportFormat string

const (
	FormatCSV ReportFormat = "csv"
	FormatPDF ReportFormat = "pdf"
)

type ReportRequest struct {
	Type        ReportType
	Format      ReportFormat
	Title       string
	RequestedBy string
	Severities  []string
	Statuses    []string
	Limit       int
}

type Report struct {
	Type        ReportType
	Format      ReportFormat
	Title       string
	GeneratedAt time.Time
	GeneratedBy string
	Data        []byte
	Filename    string
	MimeType    string
}

// Stats aggregates the alert posture numbers that drive the executive
// report.
type Stats struct {
	TotalAlerts         int
	CriticalAlerts      int
	HighAlerts          int
	MediumAlerts        int
	LowAlerts           int
	OpenAlerts          int
	InvestigatingAlerts int
	ResolvedAlerts      int
	FalsePositives      int
	OpenInvestigations  int
	FalsePositiveRate   float64
}

type DataProvider interface {
	GetAlerts(ctx context.Context, limit int) ([]models.Alert, error)
	GetInvestigations(ctx context.Context, limit int) ([]models.Investigation, error)
	GetStats(ctx context.Context) (*Stats, error)
}

// Summarizer produces the AI threat-landscape paragraph for the
// executive report. It is optional; reports render without it.
type Summarizer interface {
	SummarizeAlerts(ctx context.Context, alerts []models.Alert) string
}

type Generator struct {
	provider   DataProvider
	summarizer Summarizer
}

func NewGenerator(provider DataProvider) *Generator {
	return &Generator{provider: provider}
}

// SetSummarizer wires the optional AI summary into executive reports.
func (g *Generator) SetSummarizer(s Summarizer) {
	g.summarizer = s
}

func (g *Generator) Generate(ctx context.Context, req *ReportRequest) (*Report, error) {
	switch req.Type {
	case ReportTypeAlerts:
		return g.generateAlertsReport(ctx, req)
	case ReportTypeInvestigations:
		return g.generateInvestigationsReport(ctx, req)
	case ReportTypeExecutive:
		return g.generateExecutiveReport(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported report type: %s", req.Type)
	}
}

func (g *Generator) generateAlertsReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 1000
	}
	alerts, err := g.provider.GetAlerts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch alerts: %w", err)
	}
	alerts = filterAlerts(alerts, req.Severities, req.Statuses)

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.alertsToCSV(alerts)
		filename = fmt.Sprintf("alerts_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.alertsToPDF(alerts, req.Title)
		filename = fmt.Sprintf("alerts_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		GeneratedBy: req.RequestedBy,
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func filterAlerts(alerts []models.Alert, severities, statuses []string) []models.Alert {
	if len(severities) == 0 && len(statuses) == 0 {
		return alerts
	}
	sevSet := toSet(severities)
	statusSet := toSet(statuses)

	filtered := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if len(sevSet) > 0 && !sevSet[string(a.Severity)] {
			continue
		}
		if len(statusSet) > 0 && !statusSet[string(a.Status)] {
			continue
		}
		filtered = append(filtered, a)
	}
	return filtered
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func (g *Generator) alertsToCSV(alerts []models.Alert) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"ID", "Title", "Severity", "Status", "Source", "Risk Score",
		"Assigned To", "Created At", "Updated At",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, a := range alerts {
		assignedTo := ""
		if a.AssignedTo != nil {
			assignedTo = *a.AssignedTo
		}
		row := []string{
			a.ID.String(),
			a.Title,
			string(a.Severity),
			string(a.Status),
			a.Source,
			fmt.Sprintf("%d", a.RiskScore),
			assignedTo,
			a.CreatedAt.Format(time.RFC3339),
			a.UpdatedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) alertsToPDF(alerts []models.Alert, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Summary")
	counts := map[models.AlertSeverity]int{}
	for _, a := range alerts {
		counts[a.Severity]++
	}
	pdf.AddSummaryTable([]Metric{
		{Label: "Critical", Value: counts[models.SeverityCritical]},
		{Label: "High", Value: counts[models.SeverityHigh]},
		{Label: "Medium", Value: counts[models.SeverityMedium]},
		{Label: "Low", Value: counts[models.SeverityLow]},
		{Label: "Info", Value: counts[models.SeverityInfo]},
	})

	pdf.AddSection("Alert Detail")
	headers := []string{"ID", "Title", "Severity", "Status", "Risk"}
	rows := make([][]string, len(alerts))
	for i, a := range alerts {
		idShort := a.ID.String()
		if len(idShort) > 8 {
			idShort = idShort[:8] + "..."
		}
		rows[i] = []string{
			idShort,
			truncate(a.Title, 40),
			string(a.Severity),
			string(a.Status),
			fmt.Sprintf("%d", a.RiskScore),
		}
	}
	pdf.AddTable(headers, rows)

	return pdf.Output()
}

func (g *Generator) generateInvestigationsReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 1000
	}
	investigations, err := g.provider.GetInvestigations(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch investigations: %w", err)
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.investigationsToCSV(investigations)
		filename = fmt.Sprintf("investigations_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.investigationsToPDF(investigations, req.Title)
		filename = fmt.Sprintf("investigations_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		GeneratedBy: req.RequestedBy,
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) investigationsToCSV(investigations []models.Investigation) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"ID", "Title", "Status", "Priority", "Assigned To", "Created By", "Created At"}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, inv := range investigations {
		assignedTo := ""
		if inv.AssignedTo != nil {
			assignedTo = *inv.AssignedTo
		}
		row := []string{
			inv.ID.String(),
			inv.Title,
			inv.Status,
			inv.Priority,
			assignedTo,
			inv.CreatedBy,
			inv.CreatedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) investigationsToPDF(investigations []models.Investigation, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Open Investigations")
	headers := []string{"Title", "Status", "Priority", "Created By"}
	rows := make([][]string, len(investigations))
	for i, inv := range investigations {
		rows[i] = []string{
			truncate(inv.Title, 40),
			inv.Status,
			inv.Priority,
			inv.CreatedBy,
		}
	}
	pdf.AddTable(headers, rows)

	return pdf.Output()
}

func (g *Generator) generateExecutiveReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	stats, err := g.provider.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stats: %w", err)
	}

	var landscape string
	if g.summarizer != nil {
		alerts, err := g.provider.GetAlerts(ctx, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch alerts: %w", err)
		}
		landscape = g.summarizer.SummarizeAlerts(ctx, alerts)
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.executiveToCSV(stats)
		filename = fmt.Sprintf("executive_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.executiveToPDF(stats, landscape, req.Title)
		filename = fmt.Sprintf("executive_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		GeneratedBy: req.RequestedBy,
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) executiveToCSV(stats *Stats) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	_ = w.Write([]string{"Executive Summary Report"})
	_ = w.Write([]string{"Generated", time.Now().Format(time.RFC1123)})
	_ = w.Write([]string{""})

	_ = w.Write([]string{"Metric", "Value"})
	_ = w.Write([]string{"Total Alerts", fmt.Sprintf("%d", stats.TotalAlerts)})
	_ = w.Write([]string{"Critical Alerts", fmt.Sprintf("%d", stats.CriticalAlerts)})
	_ = w.Write([]string{"High Alerts", fmt.Sprintf("%d", stats.HighAlerts)})
	_ = w.Write([]string{"Open Alerts", fmt.Sprintf("%d", stats.OpenAlerts)})
	_ = w.Write([]string{"Resolved Alerts", fmt.Sprintf("%d", stats.ResolvedAlerts)})
	_ = w.Write([]string{"False Positives", fmt.Sprintf("%d", stats.FalsePositives)})
	_ = w.Write([]string{"False Positive Rate", fmt.Sprintf("%.2f%%", stats.FalsePositiveRate)})
	_ = w.Write([]string{"Open Investigations", fmt.Sprintf("%d", stats.OpenInvestigations)})

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) executiveToPDF(stats *Stats, landscape, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Executive Summary")
	pdf.AddParagraph(fmt.Sprintf("Report generated on %s", time.Now().Format(time.RFC1123)))

	if landscape != "" {
		pdf.AddSection("Threat Landscape")
		pdf.AddParagraph(landscape)
	}

	pdf.AddSection("Key Metrics")
	pdf.AddSummaryTable([]Metric{
		{Label: "Total Alerts", Value: stats.TotalAlerts},
		{Label: "Open Alerts", Value: stats.OpenAlerts},
		{Label: "Resolved Alerts", Value: stats.ResolvedAlerts},
		{Label: "False Positives", Value: stats.FalsePositives},
		{Label: "Open Investigations", Value: stats.OpenInvestigations},
	})

	pdf.AddSection("Alerts by Severity")
	pdf.AddChart("", []Metric{
		{Label: "Critical", Value: stats.CriticalAlerts},
		{Label: "High", Value: stats.HighAlerts},
		{Label: "Medium", Value: stats.MediumAlerts},
		{Label: "Low", Value: stats.LowAlerts},
	})

	return pdf.Output()
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
