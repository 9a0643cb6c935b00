package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/opshield/socboard/internal/models"
)

func (s *Store) GetInvestigations(ctx context.Context, limit int) ([]models.Investigation, error) {
	if limit <= 0 {
		limit = 20
	}
	var investigations []models.Investigation
	query := `SELECT * FROM investigations ORDER BY updated_at DESC LIMIT $1`
	err := s.db.SelectContext(ctx, &investigations, query, limit)
	return investigations, err
}

func (s *Store) GetInvestigation(ctx context.Context, id uuid.UUID) (*models.Investigation, error) {
	var investigation models.Investigation
	query := `SELECT * FROM investigations WHERE id = $1`
	err := s.db.GetContext(ctx, &investigation, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &investigation, err
}

func (s *Store) CreateInvestigation(ctx context.Context, investigation *models.Investigation) error {
	query := `
		INSERT INTO investigations (
			id, title, description, status, priority, assigned_to, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if investigation.ID == uuid.Nil {
		investigation.ID = uuid.New()
	}
	if investigation.Status == "" {
		investigation.Status = models.InvestigationStatusOpen
	}
	if investigation.Priority == "" {
		investigation.Priority = models.PriorityMedium
	}
	now := time.Now()
	investigation.CreatedAt = now
	investigation.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		investigation.ID, investigation.Title, investigation.Description,
		investigation.Status, investigation.Priority, investigation.AssignedTo,
		investigation.CreatedBy, investigation.CreatedAt, investigation.UpdatedAt,
	)
	return err
}

func (s *Store) UpdateInvestigation(ctx context.Context, id uuid.UUID, status, priority string, assignedTo *string) (*models.Investigation, error) {
	var investigation models.Investigation
	query := `
		UPDATE investigations
		SET status = COALESCE(NULLIF($1, ''), status),
		    priority = COALESCE(NULLIF($2, ''), priority),
		    assigned_to = COALESCE($3, assigned_to),
		    updated_at = $4
		WHERE id = $5
		RETURNING *
	`
	err := s.db.GetContext(ctx, &investigation, query, status, priority, assignedTo, time.Now(), id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &investigation, err
}

// LinkAlertToInvestigation records the many-to-many association in the
// join table. Linking the same pair twice is a no-op.
func (s *Store) LinkAlertToInvestigation(ctx context.Context, investigationID, alertID uuid.UUID) error {
	query := `
		INSERT INTO investigation_alerts (id, investigation_id, alert_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (investigation_id, alert_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, uuid.New(), investigationID, alertID, time.Now())
	return err
}

func (s *Store) GetComments(ctx context.Context, entityType, entityID string) ([]models.Comment, error) {
	var comments []models.Comment
	query := `
		SELECT * FROM comments
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
	`
	err := s.db.SelectContext(ctx, &comments, query, entityType, entityID)
	return comments, err
}

func (s *Store) CreateComment(ctx context.Context, comment *models.Comment) error {
	query := `
		INSERT INTO comments (id, content, entity_type, entity_id, author_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if comment.ID == uuid.Nil {
		comment.ID = uuid.New()
	}
	now := time.Now()
	comment.CreatedAt = now
	comment.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		comment.ID, comment.Content, comment.EntityType, comment.EntityID,
		comment.AuthorID, comment.CreatedAt, comment.UpdatedAt,
	)
	return err
}

func (s *Store) GetRecentActivities(ctx context.Context, limit int) ([]models.Activity, error) {
	if limit <= 0 {
		limit = 20
	}
	var activities []models.Activity
	query := `SELECT * FROM activities ORDER BY created_at DESC LIMIT $1`
	err := s.db.SelectContext(ctx, &activities, query, limit)
	return activities, err
}

func (s *Store) CreateActivity(ctx context.Context, activity *models.Activity) error {
	query := `
		INSERT INTO activities (id, user_id, action, entity_type, entity_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if activity.ID == uuid.Nil {
		activity.ID = uuid.New()
	}
	if activity.Metadata == nil {
		activity.Metadata = models.JSONB{}
	}
	activity.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, query,
		activity.ID, activity.UserID, activity.Action,
		activity.EntityType, activity.EntityID, activity.Metadata, activity.CreatedAt,
	)
	return err
}

// GetChatMessages returns the user's history newest first; callers reverse
// it when they need chronological order.
func (s *Store) GetChatMessages(ctx context.Context, userID string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	var messages []models.ChatMessage
	query := `
		SELECT * FROM chat_messages
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	err := s.db.SelectContext(ctx, &messages, query, userID, limit)
	return messages, err
}

func (s *Store) CreateChatMessage(ctx context.Context, message *models.ChatMessage) error {
	query := `
		INSERT INTO chat_messages (id, user_id, message, response, is_from_ai, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	message.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, query,
		message.ID, message.UserID, message.Message,
		message.Response, message.IsFromAI, message.CreatedAt,
	)
	return err
}
