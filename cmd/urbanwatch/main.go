package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mp21695/urbanwatch/internal/config"
	"github.com/mp21695/urbanwatch/internal/db"
	"github.com/mp21695/urbanwatch/internal/domain"
	"github.com/mp21695/urbanwatch/internal/engine"
	"github.com/mp21695/urbanwatch/internal/migrate"
	"github.com/mp21695/urbanwatch/internal/monitor"
	"github.com/mp21695/urbanwatch/internal/repo"
	"github.com/mp21695/urbanwatch/internal/report"
	"github.com/mp21695/urbanwatch/internal/server"
	"github.com/mp21695/urbanwatch/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "urbanwatch",
	Short: "UrbanWatch CLI",
	Long: `UrbanWatch tracks civic complaints through a resolution workflow and
publishes public disclosure articles when complaints breach their
service-level deadline.
- Complaints: citizen reports with a category, area, and location; each
  carries a deadline in hours from its category.
- Stages: submitted -> verified -> assigned -> in_progress -> resolved.
- Breach: a pending complaint older than its deadline.
- Articles: one automatic disclosure per breaching area and category,
  published by the monitor ('urbanwatch monitor' or 'urbanwatch scan').
- Event log: diary of changes, view with 'urbanwatch log tail'.`,
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
	viper.SetEnvPrefix("URBANWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(complaintCmd())
	rootCmd.AddCommand(articleCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Registry summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountComplaintsByStatus(ctx)
				if err != nil {
					return err
				}
				complaints, err := e.Repo.ListComplaints(ctx)
				if err != nil {
					return err
				}
				articles, err := e.Repo.ListArticles(ctx)
				if err != nil {
					return err
				}
				now := e.Now()
				breaching := 0
				for _, c := range complaints {
					if workflow.IsBreaching(c, now) {
						breaching++
					}
				}
				out := map[string]any{
					"complaints": counts,
					"breaching":  breaching,
					"articles":   len(articles),
					"database":   db.Path(viper.GetString("workspace")),
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("complaints: %d pending, %d resolved\n", counts[workflow.StatusPending], counts[workflow.StatusResolved])
				fmt.Printf("breaching:  %d\n", breaching)
				fmt.Printf("articles:   %d\n", len(articles))
				fmt.Printf("database:   %s\n", db.Path(viper.GetString("workspace")))
				return nil
			})
		},
	}
	return cmd
}

func complaintCmd() *cobra.Command {
	c := &cobra.Command{Use: "complaint", Short: "Manage complaints"}
	c.AddCommand(complaintSubmitCmd())
	c.AddCommand(complaintListCmd())
	c.AddCommand(complaintShowCmd())
	c.AddCommand(complaintTrackCmd())
	c.AddCommand(complaintAdvanceCmd())
	c.AddCommand(complaintUpdateCmd())
	return c
}

func complaintSubmitCmd() *cobra.Command {
	var opts engine.SubmitOptions
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a complaint",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.SubmitComplaint(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.IssueType, "type", "other", "issue category")
	cmd.Flags().StringVar(&opts.Location, "location", "", "street or landmark")
	cmd.Flags().StringVar(&opts.Area, "area", "", "service area")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Contact, "contact", "", "contact details")
	cmd.Flags().IntVar(&opts.SLAHours, "sla-hours", 0, "deadline override in hours")
	_ = cmd.MarkFlagRequired("location")
	_ = cmd.MarkFlagRequired("area")
	return cmd
}

func complaintListCmd() *cobra.Command {
	var status, area string
	var breaching bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List complaints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListComplaints(ctx)
				if err != nil {
					return err
				}
				now := e.Now()
				filtered := items[:0]
				for _, c := range items {
					if status != "" && c.Status != status {
						continue
					}
					if area != "" && c.Area != area {
						continue
					}
					if breaching && !workflow.IsBreaching(c, now) {
						continue
					}
					filtered = append(filtered, c)
				}
				if viper.GetBool("json") {
					return printJSON(filtered)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Area", "Stage", "Status", "SLA", "Breaching"})
				for _, c := range filtered {
					tw.AppendRow(table.Row{
						c.ID,
						c.IssueType,
						c.Area,
						workflow.CurrentStage(c),
						c.Status,
						fmt.Sprintf("%dh", c.SLAHours),
						workflow.IsBreaching(c, now),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&area, "area", "", "area filter")
	cmd.Flags().BoolVar(&breaching, "breaching", false, "only breaching complaints")
	return cmd
}

func complaintShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a complaint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				c, err := r.GetComplaint(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func complaintTrackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track <id>",
		Short: "Track a complaint by case id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.TrackComplaint(ctx, args[0])
				if err != nil {
					return err
				}
				if c == nil {
					fmt.Printf("no complaint found for %s\n", args[0])
					return nil
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				now := e.Now()
				fmt.Printf("%s  %s in %s\n", c.ID, workflow.IssueLabel(c.IssueType), c.Area)
				fmt.Printf("status: %s  stage: %s  completion: %.0f%%  breaching: %t\n",
					c.Status, workflow.CurrentStage(*c), workflow.CompletionRatio(*c)*100, workflow.IsBreaching(*c, now))
				for _, p := range c.Progress {
					fmt.Printf("  %s  %s", p.Timestamp, p.Stage)
					if p.Note != "" {
						fmt.Printf("  (%s)", p.Note)
					}
					fmt.Println()
				}
				return nil
			})
		},
	}
	return cmd
}

func complaintAdvanceCmd() *cobra.Command {
	var stage, note string
	var strict bool
	cmd := &cobra.Command{
		Use:   "advance <id>",
		Short: "Advance a complaint to a stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AdvanceComplaint(ctx, engine.AdvanceOptions{
					ID:      args[0],
					Stage:   stage,
					Note:    note,
					ActorID: viper.GetString("actor-id"),
					Strict:  strict,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "target stage")
	cmd.Flags().StringVar(&note, "note", "", "progress note")
	cmd.Flags().BoolVar(&strict, "strict", false, "enforce forward-only stage order")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func complaintUpdateCmd() *cobra.Command {
	var location, description, contact string
	var slaHours int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Correct complaint details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				var u repo.ComplaintUpdates
				if cmd.Flags().Changed("location") {
					u.Location = &location
				}
				if cmd.Flags().Changed("description") {
					u.Description = &description
				}
				if cmd.Flags().Changed("contact") {
					u.Contact = &contact
				}
				if cmd.Flags().Changed("sla-hours") {
					u.SLAHours = &slaHours
				}
				if err := r.UpdateComplaint(ctx, args[0], u); err != nil {
					return err
				}
				c, err := r.GetComplaint(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "street or landmark")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&contact, "contact", "", "contact details")
	cmd.Flags().IntVar(&slaHours, "sla-hours", 0, "deadline override in hours")
	return cmd
}

func articleCmd() *cobra.Command {
	a := &cobra.Command{Use: "article", Short: "Disclosure articles"}
	a.AddCommand(articleListCmd())
	return a
}

func articleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List published articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListArticles(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Published", "Area", "Type", "Breaches", "Title"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.PublishedAt, a.Area, a.IssueType, a.BreachCount, a.Title})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func stageCmd() *cobra.Command {
	s := &cobra.Command{Use: "stage", Short: "Workflow stages"}
	s.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List workflow stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool("json") {
				return printJSON(workflow.Stages)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Title", "Description"})
			for _, st := range workflow.Stages {
				tw.AppendRow(table.Row{st.ID, st.Title, st.Description})
			}
			tw.Render()
			return nil
		},
	})
	return s
}

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one breach scan and publish due articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m := monitor.New(e.DB, report.FromConfig(e.Config))
				rep, err := m.RunCycle(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	return cmd
}

func monitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the breach monitor until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sched, err := newScheduler(e)
				if err != nil {
					return err
				}
				if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server and breach monitor",
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
			e := engine.New(conn, cfg)
			if cfg.Registry.SeedOnEmpty {
				if _, err := e.SeedIfEmpty(cmd.Context(), "system"); err != nil {
					return err
				}
			}
			sched, err := newScheduler(e)
			if err != nil {
				return err
			}
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("URBANWATCH_JWT_SECRET"),
				AllowLegacyActorHeader: os.Getenv("URBANWATCH_ALLOW_ACTOR_HEADER") != "",
			}
			handler, err := server.New(server.Config{
				Engine:    e,
				Scheduler: sched,
				BasePath:  basePath,
				Auth:      authCfg,
			})
			if err != nil {
				return err
			}
			go sched.Run(cmd.Context())
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving UrbanWatch API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
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

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a demonstration complaint when the registry is empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.SeedIfEmpty(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if c == nil {
					fmt.Println("registry not empty, nothing seeded")
					return nil
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: viper.GetString("actor-id"),
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Printf("api key created (shown once): %s\n", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	c.AddCommand(configShowCmd())
	c.AddCommand(configInitCmd())
	c.AddCommand(configValidateCmd())
	return c
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Check a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if len(args) == 1 {
				_, err = config.FromFile(args[0])
			} else {
				_, err = config.Load(viper.GetString("workspace"))
			}
			if err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

// --- helpers ---

func newScheduler(e engine.Engine) (*monitor.Scheduler, error) {
	interval, err := e.Config.MonitorInterval()
	if err != nil {
		return nil, err
	}
	delay, err := e.Config.MonitorInitialDelay()
	if err != nil {
		return nil, err
	}
	return &monitor.Scheduler{
		Monitor:      monitor.New(e.DB, report.FromConfig(e.Config)),
		Interval:     interval,
		InitialDelay: delay,
	}, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
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
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
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
