package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	pgxzerolog "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/labstack/echo/v4"
	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/telescope"
	"github.com/peterbourgon/telescope/telconfig"
	"github.com/peterbourgon/telescope/telecho"
	"github.com/peterbourgon/telescope/telhttp"
	"github.com/peterbourgon/telescope/telpgx"
	"github.com/peterbourgon/telescope/telslog"
	"github.com/peterbourgon/telescope/telsql"
	"github.com/peterbourgon/telescope/telzerolog"
	_ "modernc.org/sqlite"
)

type serveConfig struct {
	*rootConfig

	listenAddr  string
	configFile  string
	sqliteDSN   string
	postgresDSN string
	upstream    string
}

func (cfg *serveConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "listen-addr" /* */, Value: ffval.NewValueDefault(&cfg.listenAddr, "localhost:8080") /*               */, Usage: "HTTP listen address"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'c', LongName: "config" /*      */, Value: ffval.NewValue(&cfg.configFile) /*                                     */, Usage: "telescope config file (YAML)", Placeholder: "FILE"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "sqlite" /*      */, Value: ffval.NewValueDefault(&cfg.sqliteDSN, "file:demo?mode=memory&cache=shared") /* */, Usage: "SQLite DSN for the demo notes table", Placeholder: "DSN"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "postgres" /*    */, Value: ffval.NewValue(&cfg.postgresDSN) /*                                    */, Usage: "if set, Postgres DSN for the /postgres demo endpoint", Placeholder: "DSN"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "upstream" /*    */, Value: ffval.NewValueDefault(&cfg.upstream, "https://example.com") /*          */, Usage: "URL fetched by the /fetch demo endpoint", Placeholder: "URL"})
}

func (cfg *serveConfig) Exec(ctx context.Context, args []string) error {
	telConfig, err := telconfig.Load(cfg.configFile, "TELESCOPE_")
	if err != nil {
		return fmt.Errorf("load telescope config: %w", err)
	}
	telConfig.Logger = cfg.logger.With().Str("component", "telescope").Logger()
	telConfig.IgnorePaths = append(telConfig.IgnorePaths, "/telescope")

	tel := telescope.New(telConfig)

	cfg.logger.Info().
		Bool("enabled", telConfig.Enabled).
		Int("max_entries", telConfig.MaxEntries).
		Strs("ignore_paths", telConfig.IgnorePaths).
		Msg("telescope configured")

	db, err := telsql.OpenDB(tel, "sqlite", cfg.sqliteDSN)
	if err != nil {
		return fmt.Errorf("open SQLite: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		return err
	}

	var pool *pgxpool.Pool
	if cfg.postgresDSN != "" {
		poolConfig, err := pgxpool.ParseConfig(cfg.postgresDSN)
		if err != nil {
			return fmt.Errorf("parse Postgres DSN: %w", err)
		}

		poolConfig.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   pgxzerolog.NewLogger(cfg.logger.With().Str("component", "pgx").Logger()),
			LogLevel: tracelog.LogLevelDebug,
		}
		telpgx.Install(poolConfig.ConnConfig, tel)

		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return fmt.Errorf("connect to Postgres: %w", err)
		}
		defer pool.Close()
	}

	client := &http.Client{Timeout: 10 * time.Second}
	defer telhttp.Instrument(client, tel)()

	app := &demo{
		tel:      tel,
		db:       db,
		pool:     pool,
		client:   client,
		upstream: cfg.upstream,
		slog:     slog.New(telslog.NewHandler(tel, slog.NewTextHandler(cfg.stderr, nil))),
		zlog:     cfg.logger.Hook(telzerolog.NewHook(tel, map[string]any{"component": "demo"})),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(telecho.Middleware(tel))
	app.register(e)

	mux := http.NewServeMux()
	mux.Handle("/telescope/", http.StripPrefix("/telescope", telhttp.NewServer(tel)))
	mux.Handle("/", e)

	ln, err := net.Listen("tcp", cfg.listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	cfg.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")
	cfg.logger.Info().Str("uri", "http://"+ln.Addr().String()+"/telescope/api/stats").Msg("telescope")

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var g run.Group

	{
		g.Add(func() error {
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(ctx)
		})
	}

	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	return g.Run()
}
