package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opshield/socboard/internal/auth"
	"github.com/opshield/socboard/internal/models"
	"github.com/opshield/socboard/internal/pipeline"
	"github.com/opshield/socboard/internal/reports"
)

// respondPipelineError maps the pipeline's error taxonomy onto HTTP
// statuses. Anything unrecognized is a 500.
func respondPipelineError(w http.ResponseWriter, err error) {
	var verr *pipeline.ValidationError
	if errors.As(err, &verr) {
		respondValidationError(w, verr)
		return
	}
	if errors.Is(err, pipeline.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "Resource not found")
		return
	}
	respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

func queryLimit(r *http.Request, fallback int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if limit, err := strconv.Atoi(l); err == nil && limit > 0 {
			return limit
		}
	}
	return fallback
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "email and password are required")
		return
	}

	tokens, err := s.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}

	respondJSON(w, http.StatusOK, tokens)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	tokens, err := s.authService.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired refresh token")
		return
	}

	respondJSON(w, http.StatusOK, tokens)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		// No specific token supplied: revoke every session for the user.
		if err := s.authService.LogoutAll(r.Context(), claims.UserID); err != nil {
			respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
		return
	}

	if err := s.authService.Logout(r.Context(), claims.UserID, req.RefreshToken); err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) getCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	user, err := s.store.GetUser(r.Context(), claims.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if user == nil {
		respondError(w, http.StatusNotFound, "not_found", "User not found")
		return
	}

	respondJSON(w, http.StatusOK, user)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, users)
}

func (s *Server) getDashboardMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.pipeline.Metrics(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, metrics)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.GetAlerts(r.Context(), queryLimit(r, 50))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, alerts)
}

func (s *Server) getAlert(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "alertID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid alert ID")
		return
	}

	alert, err := s.store.GetAlert(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if alert == nil {
		respondError(w, http.StatusNotFound, "not_found", "Alert not found")
		return
	}

	respondJSON(w, http.StatusOK, alert)
}

func (s *Server) createAlert(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetUserFromContext(r.Context())

	var in pipeline.CreateAlertInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	alert, err := s.pipeline.CreateAlert(r.Context(), claims.UserID, in)
	if err != nil {
		respondPipelineError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, alert)
}

type updateAlertStatusRequest struct {
	Status models.AlertStatus `json:"status"`
}

func (s *Server) updateAlertStatus(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetUserFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "alertID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid alert ID")
		return
	}

	var req updateAlertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	alert, err := s.pipeline.UpdateAlertStatus(r.Context(), claims.UserID, id, req.Status)
	if err != nil {
		respondPipelineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, alert)
}

type assignAlertRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) assignAlert(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetUserFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "alertID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid alert ID")
		return
	}

	var req assignAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	alert, err := s.pipeline.AssignAlert(r.Context(), claims.UserID, id, req.UserID)
	if err != nil {
		respondPipelineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, alert)
}

func (s *Server) listInvestigations(w http.ResponseWriter, r *http.Request) {
	investigations, err := s.store.GetInvestigations(r.Context(), queryLimit(r, 20))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, investigations)
}

func (s *Server) getInvestigation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "investigationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid investigation ID")
		return
	}

	investigation, err := s.store.GetInvestigation(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if investigation == nil {
		respondError(w, http.StatusNotFound, "not_found", "Investigation not found")
		return
	}

	respondJSON(w, http.StatusOK, investigation)
}

func (s *Server) createInvestigation(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetUserFromContext(r.Context())

	var in pipeline.CreateInvestigationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	investigation, err := s.pipeline.CreateInvestigation(r.Context(), claims.UserID, in)
	if err != nil {
		respondPipelineError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, investigation)
}

type updateInvestigationRequest struct {
	Status     string  `json:"status"`
	Priority   string  `json:"priority"`
	AssignedTo *string `json:"assignedTo"`
}

func (s *Server) updateInvestigation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "investigationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid investigation ID")
		return
	}

	var req updateInvestigationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	investigation, err := s.store.UpdateInvestigation(r.Context(), id, req.Status, req.Priority, req.AssignedTo)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if investigation == nil {
		respondError(w, http.StatusNotFound, "not_found", "Investigation not found")
		return
	}

	respondJSON(w, http.StatusOK, investigation)
}

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entityType")
	entityID := r.URL.Query().Get("entityId")
	if entityType == "" || entityID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "entityType and entityId are required")
		return
	}

	comments, err := s.store.GetComments(r.Context(), entityType, entityID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, comments)
}

func (s *Server) createComment(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetUserFromContext(r.Context())

	var in pipeline.CreateCommentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	comment, err := s.pipeline.CreateComment(r.Context(), claims.UserID, in)
	if err != nil {
		respondPipelineError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, comment)
}

func (s *Server) listActivities(w http.ResponseWriter, r *http.Request) {
	activities, err := s.store.GetRecentActivities(r.Context(), queryLimit(r, 20))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, activities)
}

func (s *Server) getChatHistory(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetUserFromContext(r.Context())

	messages, err := s.pipeline.ChatHistory(r.Context(), claims.UserID, queryLimit(r, 50))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, messages)
}

type chatMessageRequest struct {
	Message string `json:"message"`
}

func (s *Server) postChatMessage(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetUserFromContext(r.Context())

	var req chatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	userMessage, aiMessage, err := s.pipeline.ChatTurn(r.Context(), claims.UserID, req.Message)
	if err != nil {
		respondPipelineError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"userMessage": userMessage,
		"aiMessage":   aiMessage,
	})
}

func (s *Server) summarizeAlerts(w http.ResponseWriter, r *http.Request) {
	summary, err := s.pipeline.SummarizeRecentAlerts(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

type generateReportRequest struct {
	Type       reports.ReportType   `json:"type"`
	Format     reports.ReportFormat `json:"format"`
	Title      string               `json:"title"`
	Severities []string             `json:"severities"`
	Statuses   []string             `json:"statuses"`
	Limit      int                  `json:"limit"`
}

func (s *Server) generateReport(w http.ResponseWriter, r *http.Request) {
	var req generateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Type == "" {
		req.Type = reports.ReportTypeExecutive
	}
	if req.Format == "" {
		req.Format = reports.FormatPDF
	}
	if req.Title == "" {
		req.Title = "Security Operations Report"
	}

	requestedBy := ""
	if claims, ok := auth.GetUserFromContext(r.Context()); ok {
		requestedBy = claims.Email
	}

	report, err := s.reportGenerator.Generate(r.Context(), &reports.ReportRequest{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		RequestedBy: requestedBy,
		Severities:  req.Severities,
		Statuses:    req.Statuses,
		Limit:       req.Limit,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, "report_error", err.Error())
		return
	}

	w.Header().Set("Content-Type", report.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report.Data)
}
