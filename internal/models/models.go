package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// StringArray is an alias for pq.StringArray to handle PostgreSQL arrays
type StringArray = pq.StringArray

type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityHigh     AlertSeverity = "high"
	SeverityMedium   AlertSeverity = "medium"
	SeverityLow      AlertSeverity = "low"
	SeverityInfo     AlertSeverity = "info"
)

// ValidSeverity reports whether s is one of the known alert severities.
func ValidSeverity(s AlertSeverity) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

type AlertStatus string

const (
	AlertStatusOpen          AlertStatus = "open"
	AlertStatusInvestigating AlertStatus = "investigating"
	AlertStatusResolved      AlertStatus = "resolved"
	AlertStatusFalsePositive AlertStatus = "false_positive"
)

// ValidAlertStatus reports whether s is one of the known alert statuses.
func ValidAlertStatus(s AlertStatus) bool {
	switch s {
	case AlertStatusOpen, AlertStatusInvestigating, AlertStatusResolved, AlertStatusFalsePositive:
		return true
	}
	return false
}

// Investigation status and priority are free-form strings at the store
// layer; these constants cover the values the dashboard produces.
const (
	InvestigationStatusOpen       = "open"
	InvestigationStatusInProgress = "in_progress"
	InvestigationStatusResolved   = "resolved"
	InvestigationStatusClosed     = "closed"
)

const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

type Role string

const (
	RoleTier1   Role = "tier1"
	RoleTier2   Role = "tier2"
	RoleTier3   Role = "tier3"
	RoleManager Role = "manager"
)

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

type User struct {
	ID              string    `json:"id" db:"id"`
	Email           string    `json:"email" db:"email"`
	FirstName       string    `json:"firstName" db:"first_name"`
	LastName        string    `json:"lastName" db:"last_name"`
	ProfileImageURL string    `json:"profileImageUrl,omitempty" db:"profile_image_url"`
	Role            Role      `json:"role" db:"role"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
}

type Alert struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	Title       string        `json:"title" db:"title"`
	Description string        `json:"description" db:"description"`
	Severity    AlertSeverity `json:"severity" db:"severity"`
	Status      AlertStatus   `json:"status" db:"status"`
	Source      string        `json:"source" db:"source"`
	SourceUser  string        `json:"sourceUser,omitempty" db:"source_user"`
	Tags        StringArray   `json:"tags" db:"tags"`
	Metadata    JSONB         `json:"metadata" db:"metadata"`
	AssignedTo  *string       `json:"assignedTo,omitempty" db:"assigned_to"`
	AISummary   string        `json:"aiSummary,omitempty" db:"ai_summary"`
	RiskScore   int           `json:"riskScore" db:"risk_score"`
	CreatedAt   time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time     `json:"updatedAt" db:"updated_at"`
}

type Investigation struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description,omitempty" db:"description"`
	Status      string    `json:"status" db:"status"`
	Priority    string    `json:"priority" db:"priority"`
	AssignedTo  *string   `json:"assignedTo,omitempty" db:"assigned_to"`
	CreatedBy   string    `json:"createdBy" db:"created_by"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// InvestigationAlert links an alert into an investigation.
type InvestigationAlert struct {
	ID              uuid.UUID `json:"id" db:"id"`
	InvestigationID uuid.UUID `json:"investigationId" db:"investigation_id"`
	AlertID         uuid.UUID `json:"alertId" db:"alert_id"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}

// Comment attaches to an entity by (entityType, entityId); no foreign key
// is enforced against the target entity.
type Comment struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Content    string    `json:"content" db:"content"`
	EntityType string    `json:"entityType" db:"entity_type"`
	EntityID   string    `json:"entityId" db:"entity_id"`
	AuthorID   string    `json:"authorId" db:"author_id"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}

// Activity is an append-only audit log row; it is never updated or deleted.
type Activity struct {
	ID         uuid.UUID `json:"id" db:"id"`
	UserID     string    `json:"userId" db:"user_id"`
	Action     string    `json:"action" db:"action"`
	EntityType string    `json:"entityType" db:"entity_type"`
	EntityID   string    `json:"entityId" db:"entity_id"`
	Metadata   JSONB     `json:"metadata" db:"metadata"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// ChatMessage is one turn half of an analyst/AI conversation. A user turn
// and the AI reply are two separate rows sharing the same userId.
type ChatMessage struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	Message   string    `json:"message" db:"message"`
	Response  string    `json:"response,omitempty" db:"response"`
	IsFromAI  bool      `json:"isFromAI" db:"is_from_ai"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// DashboardMetrics is the on-demand aggregate for the KPI cards. AvgMTTD
// and AvgMTTR are placeholder constants; the schema captures no
// detection/response timestamp pair to derive them from.
type DashboardMetrics struct {
	ActiveAlerts      int     `json:"activeAlerts"`
	CriticalAlerts    int     `json:"criticalAlerts"`
	AvgMTTD           float64 `json:"avgMTTD"`
	AvgMTTR           float64 `json:"avgMTTR"`
	FalsePositiveRate float64 `json:"falsePositiveRate"`
}
