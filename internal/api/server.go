package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opshield/socboard/internal/ai"
	"github.com/opshield/socboard/internal/auth"
	"github.com/opshield/socboard/internal/config"
	"github.com/opshield/socboard/internal/models"
	"github.com/opshield/socboard/internal/notifications"
	"github.com/opshield/socboard/internal/pipeline"
	"github.com/opshield/socboard/internal/reports"
	"github.com/opshield/socboard/internal/store"
	"github.com/opshield/socboard/internal/ws"
)

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	store  *store.Store
	http   *http.Server
	logger *slog.Logger

	authService *auth.Service
	userStore   auth.UserStore

	hub       *ws.Hub
	wsHandler *ws.Handler
	bridge    *ws.Bridge

	enricher *ai.Enricher
	pipeline *pipeline.Pipeline

	reportGenerator     *reports.Generator
	notificationService *notifications.Service
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	if err := st.EnsureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		store:  st,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.userStore = auth.NewPostgresUserStore(st.DB())
	s.authService = auth.NewService(auth.Config{
		JWTSecret:          cfg.Auth.JWTSecret,
		AccessTokenExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.Auth.RefreshTokenExpiry,
	}, s.userStore)

	s.hub = ws.NewHub(s.logger)
	s.wsHandler = ws.NewHandler(s.hub, ws.Options{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		SendBufferSize:  cfg.WebSocket.SendBufferSize,
		PongWait:        cfg.WebSocket.PongWait,
		WriteWait:       cfg.WebSocket.WriteWait,
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
	}, s.logger)

	if cfg.Redis.Enabled() {
		s.bridge = ws.NewBridge(ws.BridgeConfig{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}, s.hub, s.logger)
	}

	s.enricher = ai.NewEnricher(ai.Config{
		APIKey:         cfg.AI.APIKey,
		Model:          cfg.AI.Model,
		RequestTimeout: cfg.AI.RequestTimeout,
	}, s.logger)

	s.pipeline = pipeline.New(st, s.enricher, s.hub, s.logger)

	s.notificationService = notifications.NewService(notifications.Config{
		Slack: notifications.SlackConfig{
			WebhookURL:  cfg.Notifications.Slack.WebhookURL,
			Channel:     cfg.Notifications.Slack.Channel,
			Username:    "SOC Board",
			IconEmoji:   ":rotating_light:",
			Enabled:     cfg.Notifications.Slack.Enabled,
			MinSeverity: models.SeverityCritical,
		},
	}, s.logger)
	if cfg.Notifications.Slack.Enabled {
		s.pipeline.SetNotifier(s.notificationService)
	}

	s.reportGenerator = reports.NewGenerator(&reportDataProvider{store: st})
	s.reportGenerator.SetSummarizer(s.enricher)

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.corsMiddleware())
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	allowOrigin := s.cfg.Server.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
		s.logger.Warn("CORS Allow-Origin set to '*' - configure server.cors_allow_origin in production")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)
	s.router.Method("GET", "/metrics", promhttp.Handler())

	// The upgrade happens before any JSON middleware; clients identify
	// themselves with an in-band auth message after connecting.
	s.router.Get("/ws", s.wsHandler.ServeHTTP)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Post("/auth/refresh", s.refresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)

			r.Post("/auth/logout", s.logout)
			r.Get("/auth/user", s.getCurrentUser)

			r.Get("/users", s.listUsers)

			r.Get("/dashboard/metrics", s.getDashboardMetrics)

			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", s.listAlerts)
				r.Post("/", s.createAlert)
				r.Get("/{alertID}", s.getAlert)
				r.Patch("/{alertID}/status", s.updateAlertStatus)
				r.Patch("/{alertID}/assign", s.assignAlert)
			})

			r.Route("/investigations", func(r chi.Router) {
				r.Get("/", s.listInvestigations)
				r.Post("/", s.createInvestigation)
				r.Get("/{investigationID}", s.getInvestigation)
				r.Patch("/{investigationID}", s.updateInvestigation)
			})

			r.Route("/comments", func(r chi.Router) {
				r.Get("/", s.listComments)
				r.Post("/", s.createComment)
			})

			r.Get("/activities", s.listActivities)

			r.Route("/chat", func(r chi.Router) {
				r.Get("/messages", s.getChatHistory)
				r.Post("/messages", s.postChatMessage)
			})

			r.Post("/ai/summarize-alerts", s.summarizeAlerts)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleTier3))
				r.Post("/reports/generate", s.generateReport)
			})
		})
	})
}

// Run starts the hub, the optional Redis bridge and the HTTP listener,
// then blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run()

	if s.bridge != nil {
		if err := s.bridge.Start(ctx); err != nil {
			s.logger.Error("failed to start redis event bridge", "error", err)
		}
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if s.bridge != nil {
			if err := s.bridge.Stop(); err != nil {
				s.logger.Error("failed to stop redis event bridge", "error", err)
			}
		}
		s.hub.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) Close() error {
	return s.store.Close()
}

// reportDataProvider feeds the report generator from the store.
type reportDataProvider struct {
	store *store.Store
}

func (p *reportDataProvider) GetAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	return p.store.GetAlerts(ctx, limit)
}

func (p *reportDataProvider) GetInvestigations(ctx context.Context, limit int) ([]models.Investigation, error) {
	return p.store.GetInvestigations(ctx, limit)
}

func (p *reportDataProvider) GetStats(ctx context.Context) (*reports.Stats, error) {
	metrics, err := p.store.GetDashboardMetrics(ctx)
	if err != nil {
		return nil, err
	}

	stats := &reports.Stats{
		OpenAlerts:        metrics.ActiveAlerts,
		FalsePositiveRate: metrics.FalsePositiveRate,
	}

	alerts, err := p.store.GetAlerts(ctx, 1000)
	if err != nil {
		return nil, err
	}
	stats.TotalAlerts = len(alerts)
	for _, a := range alerts {
		switch a.Severity {
		case models.SeverityCritical:
			stats.CriticalAlerts++
		case models.SeverityHigh:
			stats.HighAlerts++
		case models.SeverityMedium:
			stats.MediumAlerts++
		case models.SeverityLow:
			stats.LowAlerts++
		}
		switch a.Status {
		case models.AlertStatusInvestigating:
			stats.InvestigatingAlerts++
		case models.AlertStatusResolved:
			stats.ResolvedAlerts++
		case models.AlertStatusFalsePositive:
			stats.FalsePositives++
		}
	}

	investigations, err := p.store.GetInvestigations(ctx, 1000)
	if err != nil {
		return nil, err
	}
	for _, inv := range investigations {
		if inv.Status == models.InvestigationStatusOpen {
			stats.OpenInvestigations++
		}
	}

	return stats, nil
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Fields  []pipeline.FieldError `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

func respondValidationError(w http.ResponseWriter, verr *pipeline.ValidationError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    "validation_error",
			Message: verr.Error(),
			Fields:  verr.Fields,
		},
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db_unavailable", "Database not available")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
