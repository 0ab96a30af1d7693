package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/lox/skyscribe/internal/logging"
	"github.com/lox/skyscribe/internal/models"
	"github.com/lox/skyscribe/internal/station"
	"github.com/lox/skyscribe/internal/store"
)

type CLI struct {
	DB        string `help:"Path to SQLite database." env:"SKYSCRIBE_DB" default:"data/skyscribe.db" type:"path"`
	Backend   string `help:"Sample storage backend." env:"SKYSCRIBE_BACKEND" enum:"sqlite,badger" default:"sqlite"`
	BadgerDir string `help:"Badger directory when --backend=badger." env:"SKYSCRIBE_BADGER_DIR" default:"data/badger" type:"path"`
	LogLevel  string `help:"Log level." env:"LOG_LEVEL" default:"info"`
	LogFormat string `help:"Log format." env:"LOG_FORMAT" enum:"json,console" default:"json"`

	Station  int64  `help:"Station id commands act on." short:"s" default:"1"`
	Location string `help:"Location of the default station when it is first created." env:"SKYSCRIBE_LOCATION" default:"Lugano"`

	Serve    ServeCmd    `cmd:"" default:"1" help:"Run the HTTP API and pollers."`
	Import   ImportCmd   `cmd:"" help:"Import a Blynk CSV export into a station."`
	Stats    StatsCmd    `cmd:"" help:"Print statistics of a station's series."`
	Forecast ForecastCmd `cmd:"" help:"Train a forecast model and print its predictions."`
	Migrate  MigrateCmd  `cmd:"" help:"Apply database migrations and exit."`
}

func main() {
	_ = godotenv.Load()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("skyscribe"),
		kong.Description("Weather station series, statistics and forecasts."),
		kong.UsageOnError(),
	)
	logging.Init(logging.Config{Level: cli.LogLevel, Format: cli.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.FatalIfErrorf(kctx.Run(&cli))
}

// env is what every command works against.
type env struct {
	db       *sql.DB
	store    *store.Store
	registry *station.Registry
	closers  []func() error
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			logging.Warn().Err(err).Msg("close")
		}
	}
}

// open connects to the database, migrates it, attaches the sample backend
// and makes sure the default station exists.
func (c *CLI) open() (*env, error) {
	if dir := filepath.Dir(c.DB); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", c.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	e := &env{db: db, closers: []func() error{db.Close}}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		e.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		e.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	e.store = store.New(db)
	if err := e.store.Migrate(); err != nil {
		e.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if c.Backend == "badger" {
		bdb, err := store.OpenBadger(c.BadgerDir)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.closers = append(e.closers, bdb.Close)
		e.store.UseBadger(bdb)
	}

	if err := c.seed(e.store); err != nil {
		e.Close()
		return nil, err
	}

	e.registry = station.NewRegistry(e.store)
	logging.Info().
		Str("db", c.DB).
		Str("backend", e.store.Backend()).
		Msg("database ready")
	return e, nil
}

func (c *CLI) seed(s *store.Store) error {
	stations, err := s.ListStations()
	if err != nil {
		return fmt.Errorf("list stations: %w", err)
	}
	if len(stations) > 0 {
		return nil
	}
	st := models.Station{ID: 1, Location: c.Location, Fields: models.DefaultFields}
	if err := s.UpsertStation(st); err != nil {
		return fmt.Errorf("seed station: %w", err)
	}
	logging.Info().Int64("station", st.ID).Str("location", st.Location).Msg("seeded default station")
	return nil
}
