package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/masail/internal"
	"github.com/starford/masail/internal/apperr"
	"github.com/starford/masail/internal/models"
	"github.com/starford/masail/internal/orchestrator"
	"github.com/starford/masail/internal/render"
	"github.com/starford/masail/internal/session"
	pkgconfig "github.com/starford/masail/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if u := cmd.String("api-url"); u != "" {
		cfg.API.BaseURL = u
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	if cmd.Bool("debug") {
		cfg.App.LogLevel = slog.LevelDebug
	}
	return cfg, nil
}

// withApp builds the application for a one-shot command, settles the
// persisted session and closes everything afterwards. Logs go to stderr so
// stdout carries only command output.
func withApp(fn func(ctx context.Context, cmd *cli.Command, app *internal.App) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if !cmd.Bool("debug") {
			cfg.App.LogLevel = slog.LevelWarn
		}
		app, err := internal.New(
			internal.WithConfig(cfg),
			internal.WithLogOutput(os.Stderr),
			internal.WithVersion(version),
		)
		if err != nil {
			return err
		}
		defer app.Close()

		app.Session.CheckSession(ctx)
		return fn(ctx, cmd, app)
	}
}

func parseIDs(values []string) ([]int, error) {
	ids := make([]int, 0, len(values))
	for _, v := range values {
		id, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", v, apperr.ErrInvalidInput)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", v, apperr.ErrInvalidInput)
	}
	return &t, nil
}

func idArg(cmd *cli.Command) (int, error) {
	if cmd.Args().Len() != 1 {
		return 0, fmt.Errorf("exactly one document id is required: %w", apperr.ErrInvalidInput)
	}
	ids, err := parseIDs(cmd.Args().Slice())
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

func login(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	creds := models.Credentials{Username: cmd.String("username"), Password: cmd.String("password")}
	if err := app.Session.Login(ctx, creds); err != nil {
		return err
	}
	render.Session(os.Stdout, app.Session.Snapshot())
	return nil
}

func logout(_ context.Context, _ *cli.Command, app *internal.App) error {
	if err := app.Session.Logout(); err != nil {
		if errors.Is(err, session.ErrTokenRetained) {
			render.Warning(os.Stderr, "Logged out, but the stored token at %s could not be removed; "+
				"it will be used again on the next run", app.Config.Storage.Path)
		}
		return err
	}
	render.Success(os.Stdout, "Logged out")
	return nil
}

func whoami(_ context.Context, _ *cli.Command, app *internal.App) error {
	render.Session(os.Stdout, app.Session.Snapshot())
	return nil
}

func search(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	madhabs, err := parseIDs(cmd.StringSlice("madhab"))
	if err != nil {
		return err
	}
	categories, err := parseIDs(cmd.StringSlice("category"))
	if err != nil {
		return err
	}
	from, err := parseDate(cmd.String("from"))
	if err != nil {
		return err
	}
	to, err := parseDate(cmd.String("to"))
	if err != nil {
		return err
	}

	s := app.Views.Search
	s.SetQuery(cmd.Args().First())
	s.SetMadhabs(madhabs...)
	s.SetCategories(categories...)
	s.SetDateRange(from, to)
	st, err := s.Submit(ctx)
	if err != nil {
		return err
	}
	render.Search(os.Stdout, st)
	return nil
}

func show(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	id, err := idArg(cmd)
	if err != nil {
		return err
	}
	doc, err := app.Views.Document.Load(ctx, id)
	if err != nil {
		return err
	}
	render.Document(os.Stdout, doc)
	return nil
}

func madhabs(ctx context.Context, _ *cli.Command, app *internal.App) error {
	f, err := app.Views.Search.LoadFacets(ctx)
	if err != nil {
		return err
	}
	render.Facets(os.Stdout, f.Madhabs)
	return nil
}

func categories(ctx context.Context, _ *cli.Command, app *internal.App) error {
	f, err := app.Views.Search.LoadFacets(ctx)
	if err != nil {
		return err
	}
	render.Facets(os.Stdout, f.Categories)
	return nil
}

// requireLogin mirrors the front-end gate: admin commands need a session.
func requireLogin(app *internal.App) error {
	if !app.Session.Snapshot().IsAuthenticated {
		return fmt.Errorf("not logged in, run 'masail login' first: %w", apperr.ErrUnauthenticated)
	}
	return nil
}

func stats(ctx context.Context, _ *cli.Command, app *internal.App) error {
	if err := requireLogin(app); err != nil {
		return err
	}
	st, err := app.Views.Dashboard.Load(ctx)
	if err != nil {
		return err
	}
	render.Dashboard(os.Stdout, st)
	return nil
}

func pending(ctx context.Context, _ *cli.Command, app *internal.App) error {
	if err := requireLogin(app); err != nil {
		return err
	}
	st, err := app.Views.Approval.Fetch(ctx)
	if err != nil {
		return err
	}
	render.Pending(os.Stdout, st)
	return nil
}

func decide(approved bool) func(context.Context, *cli.Command, *internal.App) error {
	return func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
		if err := requireLogin(app); err != nil {
			return err
		}
		id, err := idArg(cmd)
		if err != nil {
			return err
		}
		if _, err := app.Views.Approval.Decide(ctx, id, approved); err != nil {
			return err
		}
		verb := "Rejected"
		if approved {
			verb = "Approved"
		}
		render.Success(os.Stdout, "%s document %d", verb, id)
		return nil
	}
}

func upload(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	if err := requireLogin(app); err != nil {
		return err
	}
	path := cmd.Args().First()
	up := app.Views.Upload
	if path != "" {
		if _, err := up.Select(path); err != nil {
			return err
		}
	}
	name := path
	if sel := up.State().Selection; sel != nil {
		name = sel.Name
	}
	if _, err := up.Submit(ctx, func(pct int) { render.Progress(os.Stdout, name, pct) }); err != nil {
		return err
	}
	render.Success(os.Stdout, "Uploaded %s, pending approval", name)
	return nil
}

func watchDir(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	dir := cmd.Args().First()
	if dir == "" {
		dir = app.Config.Upload.WatchDir
	}
	if dir == "" {
		return fmt.Errorf("a directory to watch is required: %w", apperr.ErrInvalidInput)
	}
	if err := requireLogin(app); err != nil {
		return err
	}
	events := app.Events.Subscribe()
	defer app.Events.Unsubscribe(events)
	go func() {
		for msg := range events {
			_, _ = os.Stdout.Write(msg)
		}
	}()
	return app.Watch(ctx, dir)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if dir := cmd.String("watch"); dir != "" {
		cfg.Upload.WatchDir = dir
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app, err := internal.New(
		internal.WithConfig(cfg),
		internal.WithLogOutput(os.Stderr),
		internal.WithVersion(version),
	)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.ServeMCP(ctx)
}

func main() {
	cmd := &cli.Command{
		Name:    "masail",
		Usage:   "Search and moderate the Bahtsul Masail archive",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (optional)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "api-url",
				Usage: "Backend base URL (overrides config and " + internal.EnvAPIURL + ")",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Log in as an administrator",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Sources: cli.EnvVars("MASAIL_USERNAME")},
					&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Sources: cli.EnvVars("MASAIL_PASSWORD")},
				},
				Action: withApp(login),
			},
			{Name: "logout", Usage: "Forget the stored session", Action: withApp(logout)},
			{Name: "whoami", Usage: "Show the current session", Action: withApp(whoami)},
			{
				Name:      "search",
				Usage:     "Search documents",
				ArgsUsage: "[query]",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "madhab", Aliases: []string{"m"}, Usage: "Madhab id (repeatable)"},
					&cli.StringSliceFlag{Name: "category", Aliases: []string{"k"}, Usage: "Category id (repeatable)"},
					&cli.StringFlag{Name: "from", Usage: "Earliest publication date (YYYY-MM-DD)"},
					&cli.StringFlag{Name: "to", Usage: "Latest publication date (YYYY-MM-DD)"},
				},
				Action: withApp(search),
			},
			{Name: "show", Usage: "Show a document", ArgsUsage: "<id>", Action: withApp(show)},
			{Name: "madhabs", Usage: "List madhabs", Action: withApp(madhabs)},
			{Name: "categories", Usage: "List categories", Action: withApp(categories)},
			{Name: "stats", Usage: "Show admin dashboard statistics", Action: withApp(stats)},
			{Name: "pending", Usage: "List documents awaiting approval", Action: withApp(pending)},
			{Name: "approve", Usage: "Approve a pending document", ArgsUsage: "<id>", Action: withApp(decide(true))},
			{Name: "reject", Usage: "Reject a pending document", ArgsUsage: "<id>", Action: withApp(decide(false))},
			{Name: "upload", Usage: "Upload a PDF document", ArgsUsage: "<file>", Action: withApp(upload)},
			{Name: "watch", Usage: "Upload PDFs dropped into a directory", ArgsUsage: "[dir]", Action: withApp(watchDir)},
			{
				Name:  "serve",
				Usage: "Run the local front-end server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "watch", Usage: "Also watch this directory for uploads"},
				},
				Action: serve,
			},
			{Name: "mcp", Usage: "Serve MCP tools on stdio", Action: serveMCP},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		var ve *orchestrator.ViewError
		if errors.As(err, &ve) {
			render.Error(os.Stderr, err)
		} else {
			slog.Error("application error", slog.String("error", err.Error()))
		}
		os.Exit(1)
	}
}
