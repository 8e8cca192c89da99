package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gestor/internal/acessorias"
	"gestor/internal/alerts"
	"gestor/internal/config"
	"gestor/internal/db"
	"gestor/internal/domain"
	"gestor/internal/migrate"
	"gestor/internal/pipeline"
)

var rootCmd = &cobra.Command{
	Use:   "gestor",
	Short: "Gestor ingestion CLI",
	Long: `Gestor syncs processes, deliveries and companies from the Acessórias API,
fuses them with mail-derived events and publishes alert/KPI snapshots.
The workspace holds a .gestor sqlite database, an optional gestor.yml
config, an optional rules.json step-classification table, and a data/
directory with the published snapshots.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GESTOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("verbose", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(fuseCmd())
	rootCmd.AddCommand(alertsCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(stateCmd())
}

func syncCmd() *cobra.Command {
	sync := &cobra.Command{Use: "sync", Short: "Sync one resource from the API"}
	sync.AddCommand(syncProcessesCmd())
	sync.AddCommand(syncDeliveriesCmd())
	sync.AddCommand(syncCompaniesCmd())
	return sync
}

func syncProcessesCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "processes",
		Short: "Sync processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAPIEngine(cmd.Context(), func(ctx context.Context, e *pipeline.Engine) error {
				res, err := e.SyncProcesses(ctx, full)
				if err != nil {
					return err
				}
				return printResource(res)
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "ignore the incremental watermark")
	return cmd
}

func syncDeliveriesCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "Sync deliveries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAPIEngine(cmd.Context(), func(ctx context.Context, e *pipeline.Engine) error {
				res, err := e.SyncDeliveries(ctx, full)
				if err != nil {
					return err
				}
				return printResource(res)
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "force the per-company backfill")
	return cmd
}

func syncCompaniesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "companies",
		Short: "Sync companies and their obligation counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAPIEngine(cmd.Context(), func(ctx context.Context, e *pipeline.Engine) error {
				res, err := e.SyncCompanies(ctx)
				if err != nil {
					return err
				}
				return printResource(res)
			})
		},
	}
	return cmd
}

func eventsCmd() *cobra.Command {
	events := &cobra.Command{Use: "events", Short: "Inspect derived events"}
	events.AddCommand(eventsBuildCmd())
	events.AddCommand(eventsListCmd())
	return events
}

func eventsBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Derive the API event stream from stored entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *pipeline.Engine) error {
				apiEvents, _, err := e.BuildEvents(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(apiEvents)
				}
				fmt.Printf("derived %d events\n", len(apiEvents))
				return nil
			})
		},
	}
	return cmd
}

func eventsListCmd() *cobra.Command {
	var categoria string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the stored fused events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *pipeline.Engine) error {
				stored, err := e.Repo.ListEvents(ctx, categoria)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stored)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Source", "Categoria", "Empresa", "Subtipo", "Status", "Competencia", "Prazo"})
				for _, ke := range stored {
					ev := ke.Event
					tw.AppendRow(table.Row{ev.Source, ev.Categoria, ev.Empresa, ev.Subtipo, ev.Status, ev.Competencia, ev.Prazo})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&categoria, "categoria", "", "filter by categoria")
	return cmd
}

func fuseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fuse",
		Short: "Rebuild events, fuse with the mail stream and publish snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *pipeline.Engine) error {
				result, err := e.Reconcile(ctx, newRunID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{
						"events":      len(result.Events),
						"divergences": len(result.Divergences),
					})
				}
				fmt.Printf("fused %d events, %d divergences\n", len(result.Events), len(result.Divergences))
				return nil
			})
		},
	}
	return cmd
}

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Compute alerts from the stored event set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *pipeline.Engine) error {
				stored, err := e.Repo.ListEvents(ctx, "")
				if err != nil {
					return err
				}
				events := make([]domain.Event, 0, len(stored))
				for _, ke := range stored {
					events = append(events, ke.Event)
				}
				cfg := alerts.Config{
					ReinfDay:       e.Config.Deadlines.ReinfDay,
					EFDContribDay:  e.Config.Deadlines.EFDContribDay,
					RiskWindowDays: e.Config.Deadlines.RiskWindowDays,
				}
				result := alerts.Compute(events, cfg, time.Now())
				if viper.GetBool("json") {
					return printJSON(result)
				}
				renderAlerts(result)
				return nil
			})
		},
	}
	return cmd
}

func renderAlerts(a domain.Alerts) {
	warn := color.New(color.FgYellow, color.Bold)
	crit := color.New(color.FgRed, color.Bold)

	sections := []struct {
		title   *color.Color
		label   string
		entries []domain.AlertEntry
	}{
		{warn, "REINF EM RISCO", a.ReinfEmRisco},
		{warn, "EFD-CONTRIB EM RISCO", a.EFDContribEmRisco},
		{crit, "PASSOS BLOQUEANTES", a.Bloqueantes},
	}
	for _, s := range sections {
		s.title.Printf("%s (%d)\n", s.label, len(s.entries))
		if len(s.entries) == 0 {
			continue
		}
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Proc", "Empresa", "Competencia", "Prazo", "Status", "Responsavel"})
		for _, entry := range s.entries {
			tw.AppendRow(table.Row{entry.ProcID, entry.Empresa, entry.Competencia, entry.Prazo, entry.Status, entry.Responsavel})
		}
		tw.Render()
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Full pipeline run: sync, fuse, alerts, snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAPIEngine(cmd.Context(), func(ctx context.Context, e *pipeline.Engine) error {
				report, err := e.Run(ctx)
				if errors.Is(err, pipeline.ErrAlreadyRunning) {
					return fmt.Errorf("a run is already in progress")
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				renderRunReport(report)
				return nil
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stored row counts and sync cursors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *pipeline.Engine) error {
				counts, err := e.Repo.Counts(ctx)
				if err != nil {
					return err
				}
				states, err := e.Repo.ListSyncStates(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"counts": counts, "sync_state": states})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Table", "Rows"})
				for _, name := range []string{"companies", "processes", "deliveries", "events", "divergences"} {
					tw.AppendRow(table.Row{name, counts[name]})
				}
				tw.Render()
				renderSyncStates(states)
				return nil
			})
		},
	}
	return cmd
}

func stateCmd() *cobra.Command {
	state := &cobra.Command{Use: "state", Short: "Manage sync cursors"}
	state.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show sync cursors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *pipeline.Engine) error {
				states, err := e.Repo.ListSyncStates(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(states)
				}
				renderSyncStates(states)
				return nil
			})
		},
	})
	state.AddCommand(&cobra.Command{
		Use:   "reset <endpoint>",
		Short: "Clear a sync cursor, forcing the next sync into full mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *pipeline.Engine) error {
				return e.Repo.ResetSyncState(ctx, args[0])
			})
		},
	})
	return state
}

// --- helpers ---

func newRunID() string {
	return uuid.NewString()
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openEngine(ctx context.Context, client pipeline.APIClient) (*pipeline.Engine, func(), error) {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	e := pipeline.New(conn, client, cfg, workspace, newLogger())
	return e, func() { conn.Close() }, nil
}

// withEngine opens the workspace without an API client, for commands
// that only read or derive from stored data.
func withEngine(ctx context.Context, fn func(context.Context, *pipeline.Engine) error) error {
	e, closeDB, err := openEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer closeDB()
	return fn(ctx, e)
}

// withAPIEngine additionally builds the Acessórias client from config
// and the token env var.
func withAPIEngine(ctx context.Context, fn func(context.Context, *pipeline.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	client, err := acessorias.New(acessorias.Options{
		BaseURL:    cfg.API.BaseURL,
		Token:      os.Getenv(cfg.API.TokenEnv),
		RateBudget: cfg.API.RateBudget,
		HTTPClient: &http.Client{Timeout: time.Duration(cfg.API.ReadTimeout) * time.Second},
		Logger:     newLogger().With("component", "acessorias"),
	})
	if err != nil {
		return err
	}
	e, closeDB, err := openEngine(ctx, client)
	if err != nil {
		return err
	}
	defer closeDB()
	return fn(ctx, e)
}

func printResource(res pipeline.ResourceResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	renderResources(res)
	return nil
}

func renderResources(results ...pipeline.ResourceResult) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Resource", "Rows", "Upserted", "Skipped", "Error"})
	for _, res := range results {
		tw.AppendRow(table.Row{res.Resource, res.Rows, res.Upserted, res.Skipped, res.Err})
	}
	tw.Render()
}

func renderRunReport(report pipeline.RunReport) {
	fmt.Printf("run %s (%s .. %s)\n", report.RunID, report.StartedAt, report.FinishedAt)
	renderResources(report.Resources...)
	fmt.Printf("events: %d  divergences: %d\n", report.Events, report.Divergences)
	renderAlerts(report.Alerts)
}

func renderSyncStates(states []domain.SyncState) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Endpoint", "Last Sync", "Last Page", "Updated"})
	for _, st := range states {
		last := ""
		if st.LastSyncDH != nil {
			last = st.LastSyncDH.Format(time.RFC3339)
		}
		page := ""
		if st.LastPage != nil {
			page = fmt.Sprint(*st.LastPage)
		}
		tw.AppendRow(table.Row{st.Endpoint, last, page, st.UpdatedAt})
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
