package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"plazos/internal/app"
	"plazos/internal/config"
	"plazos/internal/db"
	"plazos/internal/deadline"
	"plazos/internal/domain"
	"plazos/internal/engine"
	"plazos/internal/migrate"
	"plazos/internal/repo"
	"plazos/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "plazos",
	Short: "Legal deadline calculator and agenda",
	Long: `plazos computes procedural deadlines from a start date, a ruleset and the
holiday calendar of a country, records them on an agenda and fires alerts
before they expire.

- Rulesets are looked up by country, matter and act, most specific first
  (PE.civil.acto.apelacion, PE.civil, PE.default, global.default).
- Business counting skips weekends and holidays; a deadline landing on a
  non-business day is carried to the next business day.
- Recording the same deadline twice updates one record. Muted or canceled
  records are never revived.
- The scheduler sends at most one alert per record and threshold.`,
	SilenceUsage: true,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	workspace := viper.GetString("workspace")
	_ = godotenv.Load(filepath.Join(workspace, ".env"))
	viper.SetEnvPrefix("PLAZOS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("owner", "local-user", "owner identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("owner", rootCmd.PersistentFlags().Lookup("owner"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(computeCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(rulesetsCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(schedulerCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var jwtSecret string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create plazos.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", path)
			} else if err != nil {
				return err
			} else {
				fmt.Println("keeping existing", path)
			}
			if jwtSecret != "" {
				if err := setEnvValue(filepath.Join(workspace, ".env"), "PLAZOS_JWT_SECRET", jwtSecret); err != nil {
					return err
				}
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				v, err := migrate.Version(ctx, r.DB)
				if err != nil {
					return err
				}
				fmt.Printf("database %s at schema version %d\n", db.Path(workspace), v)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&jwtSecret, "jwt-secret", "", "store an API signing secret in .env")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect plazos.yml"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			out, err := yaml.Marshal(c)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	var file string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate plazos.yml or another config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(path); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Println("config ok:", path)
			return nil
		},
	}
	validate.Flags().StringVar(&file, "file", "", "config file to check (default: workspace plazos.yml)")
	cfg.AddCommand(validate)
	return cfg
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				v, err := migrate.Version(ctx, r.DB)
				if err != nil {
					return err
				}
				latest, err := migrate.Latest()
				if err != nil {
					return err
				}
				fmt.Printf("schema version %d (latest available %d)\n", v, latest)
				return nil
			})
		},
	}
}

func computeCmd() *cobra.Command {
	var in deadline.Input
	var quantity float64
	var carry, schedule bool
	var agenda engine.AgendaOptions
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute a deadline, optionally recording it on the agenda",
		Example: `  plazos compute --start 2025-07-25 --country PE --domain civil --act apelacion
  plazos compute --start 2025-06-02 --quantity 5 --holiday 2025-06-06 --schedule --case-ref EXP-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("quantity") {
				in.Quantity = &quantity
			}
			if cmd.Flags().Changed("carry") {
				in.Carry = &carry
			}
			if noHolidays, _ := cmd.Flags().GetBool("no-holidays"); noHolidays {
				in.HolidayOverride = []string{}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req := engine.ComputeRequest{Input: in}
				if schedule {
					agenda.OwnerID = viper.GetString("owner")
					req.Agenda = &agenda
				}
				resp, err := a.Engine.ComputeAndSchedule(ctx, req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(resp)
				}
				printComputation(resp.Computation)
				switch {
				case resp.AgendaError != "":
					fmt.Println("agenda: not recorded:", resp.AgendaError)
				case resp.Agenda != nil && resp.Agenda.Skipped:
					fmt.Printf("agenda: skipped (%s) %s\n", resp.Agenda.Reason, resp.Agenda.Event.ID)
				case resp.Agenda != nil && resp.Agenda.Created:
					fmt.Println("agenda: created", resp.Agenda.Event.ID)
				case resp.Agenda != nil:
					fmt.Println("agenda: updated", resp.Agenda.Event.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Start, "start", "", "start date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&in.Country, "country", "", "country code")
	cmd.Flags().StringVar(&in.Domain, "domain", "", "matter (civil, laboral, penal...)")
	cmd.Flags().StringVar(&in.Act, "act", "", "procedural act")
	cmd.Flags().Float64Var(&quantity, "quantity", 0, "number of days")
	cmd.Flags().StringVar(&in.Type, "type", "", "business or calendar")
	cmd.Flags().StringSliceVar(&in.HolidayOverride, "holiday", nil, "holiday dates replacing the calendar data")
	cmd.Flags().Bool("no-holidays", false, "count with an empty holiday list")
	cmd.Flags().BoolVar(&carry, "carry", true, "carry a non-business end day forward")
	cmd.Flags().StringVar(&in.TZ, "tz", "", "display timezone")
	cmd.Flags().BoolVar(&schedule, "schedule", false, "record the deadline on the agenda")
	cmd.Flags().StringVar(&agenda.CaseRef, "case-ref", "", "case reference")
	cmd.Flags().StringVar(&agenda.Title, "title", "", "agenda title")
	cmd.Flags().StringVar(&agenda.Notes, "notes", "", "agenda notes")
	cmd.Flags().StringVar(&agenda.Priority, "priority", "", "agenda priority")
	cmd.Flags().StringSliceVar(&agenda.Tags, "tag", nil, "agenda tags")
	cmd.Flags().IntSliceVar(&agenda.MinutesBefore, "minutes-before", nil, "alert thresholds in minutes")
	cmd.Flags().StringVar(&agenda.NotifyTo, "notify-to", "", "notification destination")
	return cmd
}

func printComputation(c deadline.Computation) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"Start", c.StartISO},
		{"End", c.EndISO},
		{"Ruleset", c.RulesetID},
		{"Count", fmt.Sprintf("%d %s (%s)", c.Quantity, c.Type, c.StartRule)},
		{"Workweek", c.Workweek},
		{"Carry", fmt.Sprintf("%v (%d days)", c.Trail.CarryApplied, c.Trail.CarryDays)},
		{"TZ", c.TZ},
		{"Candidates", strings.Join(c.Trail.Candidates, " > ")},
	})
	for _, y := range c.Trail.HolidayYears {
		src := "calendar"
		if y.Override {
			src = "override"
		}
		tw.AppendRow(table.Row{"Holidays", fmt.Sprintf("%d: %d days (%s)", y.Year, y.Size, src)})
	}
	tw.Render()
}

func eventsCmd() *cobra.Command {
	ev := &cobra.Command{Use: "events", Short: "Manage agenda records"}
	ev.AddCommand(eventsListCmd())
	ev.AddCommand(eventsCreateCmd())
	ev.AddCommand(eventShowCmd())
	ev.AddCommand(eventsHistoryCmd())
	ev.AddCommand(eventActionCmd("mute", "Stop alerts and upsert revival", func(ctx context.Context, e engine.Engine, owner, id string) (domain.Event, error) {
		return e.MuteEvent(ctx, owner, id, true)
	}))
	ev.AddCommand(eventActionCmd("unmute", "Resume alerts", func(ctx context.Context, e engine.Engine, owner, id string) (domain.Event, error) {
		return e.MuteEvent(ctx, owner, id, false)
	}))
	ev.AddCommand(eventActionCmd("cancel", "Cancel a record", func(ctx context.Context, e engine.Engine, owner, id string) (domain.Event, error) {
		return e.CancelEvent(ctx, owner, id)
	}))
	ev.AddCommand(eventActionCmd("done", "Mark a record done", func(ctx context.Context, e engine.Engine, owner, id string) (domain.Event, error) {
		return e.CompleteEvent(ctx, owner, id)
	}))
	ev.AddCommand(eventsRescheduleCmd())
	return ev
}

func eventsListCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agenda records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListEvents(ctx, viper.GetString("owner"), f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Due", "Title", "Status", "Case", "Alerts", "Sent"})
				for _, e := range items {
					caseRef := ""
					if e.CaseRef != nil {
						caseRef = *e.CaseRef
					}
					status := e.Status
					if e.Muted {
						status += " (muted)"
					}
					tw.AppendRow(table.Row{e.ID, e.DueLocalDay, e.Title, status, caseRef, hoursList(e.Alerts), hoursList(e.Alerted)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Source, "source", "", "plazo or agenda")
	cmd.Flags().StringVar(&f.CaseRef, "case-ref", "", "case reference")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func eventsCreateCmd() *cobra.Command {
	var opts engine.EventCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a manual agenda record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts.OwnerID = viper.GetString("owner")
				ev, err := a.Engine.CreateEvent(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.When, "when", "", "due date or RFC 3339 instant")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "tags")
	cmd.Flags().StringVar(&opts.CaseRef, "case-ref", "", "case reference")
	cmd.Flags().StringVar(&opts.TZ, "tz", "", "display timezone")
	cmd.Flags().IntSliceVar(&opts.MinutesBefore, "minutes-before", nil, "alert thresholds in minutes")
	cmd.Flags().StringVar(&opts.NotifyTo, "notify-to", "", "notification destination")
	return cmd
}

func eventShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an agenda record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ev, err := a.Engine.GetEvent(ctx, viper.GetString("owner"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
}

func eventsHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show the audit trail of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.History(ctx, viper.GetString("owner"), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Payload"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.TS, it.Type, it.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
}

type eventAction func(ctx context.Context, e engine.Engine, owner, id string) (domain.Event, error)

func eventActionCmd(use, short string, fn eventAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ev, err := fn(ctx, a.Engine, viper.GetString("owner"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
}

func eventsRescheduleCmd() *cobra.Command {
	var when string
	cmd := &cobra.Command{
		Use:   "reschedule <id>",
		Short: "Move the due instant and reset alerts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ev, err := a.Engine.RescheduleEvent(ctx, viper.GetString("owner"), args[0], when)
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().StringVar(&when, "when", "", "new due date or RFC 3339 instant")
	_ = cmd.MarkFlagRequired("when")
	return cmd
}

func rulesetsCmd() *cobra.Command {
	rs := &cobra.Command{Use: "rulesets", Short: "Inspect the ruleset registry"}
	rs.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registry keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			calc, err := app.NewCalculator(cfg, viper.GetString("workspace"), zap.NewNop())
			if err != nil {
				return err
			}
			keys := calc.Resolver.Registry().Keys()
			if viper.GetBool("json") {
				return printJSON(keys)
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	})
	var country, matter, act string
	resolve := &cobra.Command{
		Use:   "resolve",
		Short: "Show which ruleset applies and why",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			calc, err := app.NewCalculator(cfg, viper.GetString("workspace"), zap.NewNop())
			if err != nil {
				return err
			}
			res := calc.Resolver.Resolve(country, matter, act)
			if viper.GetBool("json") {
				return printJSON(res)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			c := res.Config
			quantity := "-"
			if c.Quantity != nil {
				quantity = fmt.Sprint(*c.Quantity)
			}
			tw.AppendRows([]table.Row{
				{"Ruleset", res.RulesetID},
				{"Trail", strings.Join(res.Trail, "\n")},
				{"Type", c.TypeDefault},
				{"Quantity", quantity},
				{"Start rule", c.StartRule},
				{"Carry", c.CarryIfInhabil},
				{"Workweek", c.WorkweekName()},
				{"TZ", c.TZDefault},
				{"Alerts (min)", fmt.Sprint(c.AgendaTemplate.MinutesBefore)},
			})
			tw.Render()
			return nil
		},
	}
	resolve.Flags().StringVar(&country, "country", "", "country code")
	resolve.Flags().StringVar(&matter, "domain", "", "matter")
	resolve.Flags().StringVar(&act, "act", "", "procedural act")
	rs.AddCommand(resolve)
	return rs
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one alert sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Scheduler.RunSweepOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func schedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the alert scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				err := a.Scheduler.Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowOwnerHeader bool
	var sweepOwners []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				authCfg := server.AuthConfig{
					JWTSecret:        viper.GetString("jwt_secret"),
					AllowOwnerHeader: allowOwnerHeader,
					SweepOwners:      sweepOwners,
					Logger:           zap.NewStdLog(a.Logger.Named("auth")),
				}
				if authCfg.JWTSecret == "" && !allowOwnerHeader {
					return fmt.Errorf("PLAZOS_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:    a.Engine,
					Scheduler: a.Scheduler,
					Gatherer:  a.Metrics,
					BasePath:  basePath,
					Auth:      authCfg,
				})
				if err != nil {
					return err
				}
				if a.Config.Scheduler.Enabled {
					go func() {
						if err := a.Scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
							a.Logger.Error("scheduler exited", zap.Error(err))
						}
					}()
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving plazos API",
					zap.String("addr", addr),
					zap.String("base_path", basePath),
					zap.Bool("scheduler", a.Config.Scheduler.Enabled))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowOwnerHeader, "allow-owner-header", false, "accept X-Owner-Id without a token")
	cmd.Flags().StringSliceVar(&sweepOwners, "sweep-owner", nil, "token subjects allowed to trigger sweeps (default: any bearer token)")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.MigrateContext(ctx, conn); err != nil {
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

func hoursList(hours []int) string {
	parts := make([]string, 0, len(hours))
	for _, h := range hours {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	return strings.Join(parts, ",")
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
