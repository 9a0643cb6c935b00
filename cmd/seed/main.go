// Command seed loads a demo data set: one system user, a handful of
// representative alerts and an open investigation. It is idempotent for
// the user but inserts fresh alert rows on every run.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/opshield/socboard/internal/auth"
	"github.com/opshield/socboard/internal/config"
	"github.com/opshield/socboard/internal/models"
	"github.com/opshield/socboard/internal/store"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()

	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	if err := seed(ctx, st, logger); err != nil {
		logger.Error("seeding failed", "error", err)
		os.Exit(1)
	}

	logger.Info("database seeded")
}

func seed(ctx context.Context, st *store.Store, logger *slog.Logger) error {
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		password = "changeme"
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	userStore := auth.NewPostgresUserStore(st.DB())
	systemUser := &models.User{
		ID:        "system",
		Email:     "system@soc-portal.local",
		FirstName: "System",
		LastName:  "Administrator",
		Role:      models.RoleManager,
	}
	if err := userStore.UpsertUser(ctx, systemUser, hash); err != nil {
		return err
	}

	sampleAlerts := []models.Alert{
		{
			Title:       "Suspicious PowerShell Execution",
			Description: "PowerShell script executed with encoded command line parameters on workstation DESKTOP-ABC123. Command attempted to download files from external domain.",
			Severity:    models.SeverityCritical,
			Source:      "DESKTOP-ABC123",
			SourceUser:  "john.doe@company.com",
			Tags:        models.StringArray{"T1059.001", "PowerShell", "Malware"},
		},
		{
			Title:       "Multiple Failed Login Attempts",
			Description: "User account 'admin' experienced 15 failed login attempts from IP address 192.168.1.100 within 5 minutes.",
			Severity:    models.SeverityHigh,
			Source:      "Domain Controller",
			SourceUser:  "admin@company.com",
			Tags:        models.StringArray{"T1110", "Brute Force", "Authentication"},
		},
		{
			Title:       "Unusual Network Traffic",
			Description: "Workstation LAPTOP-XYZ789 initiated outbound connections to suspicious IP 185.220.101.42 on port 443.",
			Severity:    models.SeverityMedium,
			Source:      "LAPTOP-XYZ789",
			SourceUser:  "jane.smith@company.com",
			Tags:        models.StringArray{"T1071", "C2", "Network"},
		},
		{
			Title:       "Privilege Escalation Attempt",
			Description: "Service account 'svc_backup' attempted to access administrative shares without proper authorization.",
			Severity:    models.SeverityHigh,
			Source:      "File Server FS01",
			SourceUser:  "svc_backup@company.com",
			Tags:        models.StringArray{"T1078", "Privilege Escalation", "Lateral Movement"},
		},
		{
			Title:       "Suspicious File Download",
			Description: "User downloaded executable file 'invoice.exe' from suspicious domain 'temp-files-share[.]net'.",
			Severity:    models.SeverityMedium,
			Source:      "Web Proxy",
			SourceUser:  "bob.wilson@company.com",
			Tags:        models.StringArray{"T1566", "Phishing", "Malware"},
		},
		{
			Title:       "Unauthorized USB Device",
			Description: "Unknown USB storage device connected to workstation WORKSTATION-DEF456. Device not in approved hardware list.",
			Severity:    models.SeverityLow,
			Source:      "WORKSTATION-DEF456",
			SourceUser:  "alice.johnson@company.com",
			Tags:        models.StringArray{"T1091", "USB", "Data Exfiltration"},
		},
	}

	for i := range sampleAlerts {
		if err := st.CreateAlert(ctx, &sampleAlerts[i]); err != nil {
			return err
		}
	}
	logger.Info("created sample alerts", "count", len(sampleAlerts))

	investigation := &models.Investigation{
		Title:       "APT Group Investigation - PowerShell Campaign",
		Description: "Investigating coordinated PowerShell attacks across multiple workstations. Potential APT group activity detected.",
		Priority:    models.PriorityCritical,
		CreatedBy:   systemUser.ID,
	}
	if err := st.CreateInvestigation(ctx, investigation); err != nil {
		return err
	}
	logger.Info("created sample investigation", "id", investigation.ID)

	return nil
}
