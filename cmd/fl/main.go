package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flowline/internal/config"
	"flowline/internal/db"
	"flowline/internal/migrate"
	"flowline/internal/server"
	"flowline/internal/signal"
	"flowline/internal/snapshot"
	"flowline/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Flowline CLI",
	Long: `Flowline turns a studio's raw operational data into a handful of honest signals.
Core concepts:
- Snapshot: the entity file (snapshot.yml) with team, jobs, deliverables, tasks and time entries.
- Classification: each deliverable gets risk flags (overdue, effort over, timeline over, low confidence) and reason chips.
- Overrides: human corrections layered on top of the snapshot - moved due dates, confidence calls, reviews, change orders.
- Review: acknowledging a deliverable's risk pins its current state; any drift voids the acknowledgement.
- Forecast: known vs unknown demand over the horizon against roster capacity; unknown is never pretended to be zero.
- Flow score: five signal tones blended into one number, with overrides so a single severe signal can't hide.`,
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
	viper.SetEnvPrefix("FLOWLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("snapshot", "", "snapshot file (overrides config)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("today", "", "reference date YYYY-MM-DD (defaults to the clock)")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("snapshot", rootCmd.PersistentFlags().Lookup("snapshot"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("today", rootCmd.PersistentFlags().Lookup("today"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(forecastCmd())
	rootCmd.AddCommand(riskCmd())
	rootCmd.AddCommand(flowCmd())
	rootCmd.AddCommand(deliverableCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default flowline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show the full dashboard",
		Long:  "Classification, capacity forecast, jobs at risk and the flow score in one pass.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e signal.Engine, snap snapshot.Snapshot) error {
				today, err := e.Today(viper.GetString("today"))
				if err != nil {
					return err
				}
				dash, err := e.BuildDashboard(ctx, snap, today)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(dash)
				}
				fmt.Printf("Flow: %s (%d%%) - %s\n", dash.Flow.State, dash.Flow.ScorePct, dash.Flow.Message)
				fmt.Printf("Driver: %s\n", dash.Flow.DriverLabel)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Signal", "Tone"})
				tw.AppendRow(table.Row{"Momentum", dash.Tones.Momentum})
				tw.AppendRow(table.Row{"Jobs", dash.Tones.Jobs})
				tw.AppendRow(table.Row{"Capacity", dash.Tones.Capacity})
				tw.AppendRow(table.Row{"Deadlines", dash.Tones.Deadlines})
				tw.AppendRow(table.Row{"Sales", dash.Tones.Sales})
				tw.Render()
				fmt.Printf("Jobs at risk: %d (%d fully reviewed, %d need attention)\n",
					dash.RiskSummary.Total, dash.RiskSummary.FullyReviewed, dash.RiskSummary.NeedsAttention)
				atRisk := 0
				for _, d := range dash.Deliverables {
					if d.AtRisk {
						atRisk++
					}
				}
				fmt.Printf("Deliverables at risk: %d of %d\n", atRisk, len(dash.Deliverables))
				if len(dash.ClearedReviews) > 0 {
					fmt.Printf("Stale reviews cleared: %s\n", strings.Join(dash.ClearedReviews, ", "))
				}
				return nil
			})
		},
	}
}

func forecastCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Show the capacity forecast",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e signal.Engine, snap snapshot.Snapshot) error {
				today, err := e.Today(viper.GetString("today"))
				if err != nil {
					return err
				}
				fc, err := e.Forecast(ctx, snap, today, days)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(fc)
				}
				fmt.Printf("Horizon: %s to %s (%d days)\n", fc.From, fc.To, fc.HorizonDays)
				fmt.Printf("Capacity: %.0fh  Known demand: %.0fh  Pressure: %s (%s)\n",
					fc.CapacityHours, fc.KnownDemandHours, pctLabel(fc.PressurePct), fc.State)
				if fc.UnknownTasks > 0 {
					fmt.Printf("Unknown tasks: %d (%d unassigned) - demand not included above\n",
						fc.UnknownTasks, fc.UnknownUnassigned)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Member", "Capacity", "Known", "Unknown", "Util", "State"})
				for _, m := range fc.Members {
					tw.AppendRow(table.Row{m.Name, m.CapacityHours, m.KnownHours, len(m.UnknownTasks), pctLabel(m.UtilizationPct), m.State})
				}
				tw.Render()
				if len(fc.Services) > 0 {
					tw = table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Service", "Known hours", "Share"})
					for _, s := range fc.Services {
						tw.AppendRow(table.Row{s.Name, s.KnownHours, fmt.Sprintf("%d%%", s.SharePct)})
					}
					tw.Render()
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "horizon days (defaults to config)")
	return cmd
}

func riskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "risk",
		Short: "Show jobs at risk",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e signal.Engine, snap snapshot.Snapshot) error {
				today, err := e.Today(viper.GetString("today"))
				if err != nil {
					return err
				}
				jobs, summary, err := e.JobsAtRisk(ctx, snap, today)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"jobs": jobs, "summary": summary})
				}
				if len(jobs) == 0 {
					fmt.Println("No jobs at risk.")
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Job", "Client", "Sev", "Deliverables", "Reviewed", "Next pain", "Drivers"})
				for _, j := range jobs {
					chips := make([]string, 0, len(j.DriverChips))
					for _, c := range j.DriverChips {
						chips = append(chips, c.Label)
					}
					tw.AppendRow(table.Row{
						j.JobName, j.Client, j.Severity, len(j.Deliverables),
						fmt.Sprintf("%d/%d", j.ReviewedCount, j.ReviewedCount+j.UnreviewedCount),
						j.NextPainDate, strings.Join(chips, ", "),
					})
				}
				tw.Render()
				fmt.Printf("%d at risk, %d fully reviewed, %d need attention\n",
					summary.Total, summary.FullyReviewed, summary.NeedsAttention)
				return nil
			})
		},
	}
}

func flowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flow",
		Short: "Show the composite flow score",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e signal.Engine, snap snapshot.Snapshot) error {
				today, err := e.Today(viper.GetString("today"))
				if err != nil {
					return err
				}
				dash, err := e.BuildDashboard(ctx, snap, today)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(dash.Flow)
				}
				fmt.Printf("%s (%d%%)\n%s\nDriver: %s\n",
					dash.Flow.State, dash.Flow.ScorePct, dash.Flow.Message, dash.Flow.DriverLabel)
				return nil
			})
		},
	}
}

func deliverableCmd() *cobra.Command {
	del := &cobra.Command{Use: "deliverable", Short: "Inspect and override deliverables"}
	del.AddCommand(deliverableListCmd())
	del.AddCommand(deliverableClassifyCmd())
	del.AddCommand(deliverableMoveDueCmd())
	del.AddCommand(deliverableConfidenceCmd())
	del.AddCommand(deliverableReviewCmd())
	del.AddCommand(deliverableChangeOrderCmd())
	return del
}

func deliverableListCmd() *cobra.Command {
	var atRisk bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List classified deliverables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e signal.Engine, snap snapshot.Snapshot) error {
				today, err := e.Today(viper.GetString("today"))
				if err != nil {
					return err
				}
				classified, err := e.Classified(ctx, snap, today)
				if err != nil {
					return err
				}
				if atRisk {
					kept := classified[:0]
					for _, c := range classified {
						if c.AtRisk {
							kept = append(kept, c)
						}
					}
					classified = kept
				}
				if viper.GetBool("json") {
					return printJSON(classified)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Job", "Due", "Status", "Reasons", "Reviewed"})
				for _, c := range classified {
					reasons := make([]string, 0, len(c.Reasons))
					for _, r := range c.Reasons {
						reasons = append(reasons, r.Label)
					}
					reviewed := ""
					if c.Reviewed != nil {
						reviewed = c.Reviewed.By
					}
					tw.AppendRow(table.Row{c.ID, c.Name, c.JobName, c.Due, c.Status, strings.Join(reasons, ", "), reviewed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&atRisk, "at-risk", false, "only at-risk deliverables")
	return cmd
}

func deliverableClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <deliverable-id>",
		Short: "Show one deliverable's full classification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e signal.Engine, snap snapshot.Snapshot) error {
				today, err := e.Today(viper.GetString("today"))
				if err != nil {
					return err
				}
				classified, err := e.Classified(ctx, snap, today)
				if err != nil {
					return err
				}
				for _, c := range classified {
					if c.ID == args[0] {
						return printJSONOrIndent(c)
					}
				}
				return fmt.Errorf("deliverable %s not in snapshot", args[0])
			})
		},
	}
}

func deliverableMoveDueCmd() *cobra.Command {
	var due string
	cmd := &cobra.Command{
		Use:   "move-due <deliverable-id>",
		Short: "Override a due date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e signal.Engine, snap snapshot.Snapshot) error {
				rec, err := e.MoveDue(ctx, snap, args[0], due, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrIndent(rec)
			})
		},
	}
	cmd.Flags().StringVar(&due, "due", "", "new due date YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("due")
	return cmd
}

func deliverableConfidenceCmd() *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   "confidence <deliverable-id>",
		Short: "Set progress confidence (high, medium, low; empty clears)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e signal.Engine, snap snapshot.Snapshot) error {
				rec, err := e.SetConfidence(ctx, args[0], level)
				if err != nil {
					return err
				}
				return printJSONOrIndent(rec)
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "confidence level")
	return cmd
}

func deliverableReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review <deliverable-id>",
		Short: "Acknowledge a deliverable's current risk state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e signal.Engine, snap snapshot.Snapshot) error {
				today, err := e.Today(viper.GetString("today"))
				if err != nil {
					return err
				}
				rec, err := e.MarkReviewed(ctx, snap, args[0], viper.GetString("actor-id"), today)
				if err != nil {
					return err
				}
				return printJSONOrIndent(rec)
			})
		},
	}
}

func deliverableChangeOrderCmd() *cobra.Command {
	var note string
	var hours float64
	cmd := &cobra.Command{
		Use:   "change-order <deliverable-id>",
		Short: "Record a change order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e signal.Engine, snap snapshot.Snapshot) error {
				rec, err := e.AddChangeOrder(ctx, args[0], note, hours, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrIndent(rec)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "what changed")
	cmd.Flags().Float64Var(&hours, "hours", 0, "hours added")
	_ = cmd.MarkFlagRequired("note")
	return cmd
}

func snapshotCmd() *cobra.Command {
	snapCmd := &cobra.Command{Use: "snapshot", Short: "Work with the entity snapshot"}
	snapCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the snapshot for referential problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, path, err := loadSnapshot()
			if err != nil {
				return err
			}
			warns := snap.Warnings()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"path": path, "ok": len(warns) == 0, "warnings": warns})
			}
			if len(warns) == 0 {
				fmt.Printf("%s: ok\n", path)
				return nil
			}
			fmt.Printf("%s: %d warning(s)\n", path, len(warns))
			for _, w := range warns {
				fmt.Println("  -", w)
			}
			return nil
		},
	})
	return snapCmd
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrIndent(cfg)
		},
	})
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate flowline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfgCmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := signal.New(cfg, store.Store{DB: conn})
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("FLOWLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("FLOWLINE_JWT_SECRET is required for bearer auth")
			}
			snapPath := snapshotPath(cfg)
			handler, err := server.New(server.Config{
				Engine: e,
				Snapshots: func(context.Context) (snapshot.Snapshot, error) {
					return snapshot.FromFile(snapPath)
				},
				BasePath: basePath,
				Auth:     authCfg,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Flowline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, signal.Engine, snapshot.Snapshot) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	snap, _, err := loadSnapshot()
	if err != nil {
		return err
	}
	e := signal.New(cfg, store.Store{DB: conn})
	return fn(ctx, e, snap)
}

func loadSnapshot() (snapshot.Snapshot, string, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return snapshot.Snapshot{}, "", err
	}
	path := snapshotPath(cfg)
	snap, err := snapshot.FromFile(path)
	if err != nil {
		return snapshot.Snapshot{}, path, err
	}
	return snap, path, nil
}

func snapshotPath(cfg *config.Config) string {
	if p := viper.GetString("snapshot"); p != "" {
		return p
	}
	p := cfg.Snapshot.Path
	if p == "" {
		p = "snapshot.yml"
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(viper.GetString("workspace"), p)
	}
	return p
}

func printJSONOrIndent(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func pctLabel(p *int) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d%%", *p)
}
