// Package pipeline drives a full ingestion run: collect resources from
// the API, rebuild the event set, fuse it with the mail stream, compute
// alerts and KPIs, and publish snapshots.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gestor/internal/acessorias"
	"gestor/internal/alerts"
	"gestor/internal/config"
	"gestor/internal/domain"
	"gestor/internal/repo"
)

// APIClient is the slice of the Acessórias client the pipeline uses.
type APIClient interface {
	ListProcessesPage(ctx context.Context, q acessorias.ProcessQuery) ([]acessorias.Record, error)
	ListDeliveriesPage(ctx context.Context, q acessorias.DeliveryQuery) ([]acessorias.Record, error)
	DeliveriesByCNPJPage(ctx context.Context, cnpj string, q acessorias.DeliveryQuery) ([]acessorias.Record, error)
	ListCompaniesPage(ctx context.Context, page, perPage int) ([]acessorias.Record, error)
}

// ErrAlreadyRunning is returned when a run is triggered while another
// is in progress. The second trigger is rejected, not queued.
var ErrAlreadyRunning = errors.New("ingestion run already in progress")

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Client    APIClient
	Config    *config.Config
	Workspace string
	Logger    *slog.Logger
	Now       func() time.Time

	mu sync.Mutex
}

func New(db *sql.DB, client APIClient, cfg *config.Config, workspace string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Client:    client,
		Config:    cfg,
		Workspace: workspace,
		Logger:    logger.With("component", "pipeline"),
		Now:       time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ResourceResult is one collector's outcome inside a run.
type ResourceResult struct {
	Resource string `json:"resource"`
	Rows     int    `json:"rows"`
	Upserted int    `json:"upserted"`
	Skipped  int    `json:"skipped"`
	Err      string `json:"error,omitempty"`
}

// RunReport summarizes a full ingestion run.
type RunReport struct {
	RunID       string           `json:"run_id"`
	StartedAt   string           `json:"started_at"`
	FinishedAt  string           `json:"finished_at"`
	Resources   []ResourceResult `json:"resources"`
	Events      int              `json:"events"`
	Divergences int              `json:"divergences"`
	Alerts      domain.Alerts    `json:"alerts"`
}

// Run executes the full pipeline under the single-flight guard.
// Collector failures are isolated: a failed resource is reported and
// the run continues with the rest.
func (e *Engine) Run(ctx context.Context) (RunReport, error) {
	if !e.mu.TryLock() {
		return RunReport{}, ErrAlreadyRunning
	}
	defer e.mu.Unlock()

	report := RunReport{
		RunID:     uuid.NewString(),
		StartedAt: e.now().UTC().Format(time.RFC3339),
	}
	e.Logger.Info("run started", "run_id", report.RunID)

	collectors := []struct {
		name string
		fn   func(context.Context, bool) (ResourceResult, error)
	}{
		{"processes", e.SyncProcesses},
		{"deliveries", e.SyncDeliveries},
		{"companies", func(ctx context.Context, _ bool) (ResourceResult, error) { return e.SyncCompanies(ctx) }},
	}
	for _, c := range collectors {
		res, err := c.fn(ctx, false)
		if err != nil {
			res.Resource = c.name
			res.Err = err.Error()
			e.logResourceFailure(c.name, err)
		}
		report.Resources = append(report.Resources, res)
	}

	recon, err := e.Reconcile(ctx, report.RunID)
	if err != nil {
		e.Logger.Error("reconcile failed", "run_id", report.RunID, "error", err)
		report.FinishedAt = e.now().UTC().Format(time.RFC3339)
		return report, err
	}
	report.Events = len(recon.Events)
	report.Divergences = len(recon.Divergences)
	report.Alerts = recon.Alerts
	report.FinishedAt = e.now().UTC().Format(time.RFC3339)

	e.Logger.Info("run finished",
		"run_id", report.RunID,
		"events", report.Events,
		"divergences", report.Divergences)
	return report, nil
}

func (e *Engine) logResourceFailure(resource string, err error) {
	attrs := []any{"resource", resource, "error", err}
	var exhausted *acessorias.ExhaustedRetriesError
	if errors.As(err, &exhausted) {
		attrs = append(attrs,
			"attempts", exhausted.Attempts,
			"last_status", exhausted.LastStatus,
			"body_excerpt", exhausted.BodyExcerpt)
	}
	e.Logger.Error("resource sync failed", attrs...)
}

func (e *Engine) alertConfig() alerts.Config {
	return alerts.Config{
		ReinfDay:       e.Config.Deadlines.ReinfDay,
		EFDContribDay:  e.Config.Deadlines.EFDContribDay,
		RiskWindowDays: e.Config.Deadlines.RiskWindowDays,
	}
}
