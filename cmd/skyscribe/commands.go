package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/thejerf/suture/v4"

	"github.com/lox/skyscribe/internal/api"
	"github.com/lox/skyscribe/internal/forecast"
	"github.com/lox/skyscribe/internal/ingest"
	"github.com/lox/skyscribe/internal/logging"
	"github.com/lox/skyscribe/internal/models"
	"github.com/lox/skyscribe/internal/narrative"
	"github.com/lox/skyscribe/internal/station"
)

type ServeCmd struct {
	Port         string        `help:"HTTP listen port." env:"SKYSCRIBE_PORT" default:"8080"`
	PollSource   string        `help:"Blynk export URL or path polled into --station." env:"SKYSCRIBE_POLL_SOURCE"`
	PollInterval time.Duration `help:"Interval between polls." env:"SKYSCRIBE_POLL_INTERVAL" default:"10m"`
	Frequency    string        `help:"Resample frequency of polled exports (m or h)." default:"m"`
	Retention    time.Duration `help:"Delete archived exports older than this on every poll (0 keeps them)." env:"SKYSCRIBE_EXPORT_RETENTION" default:"720h"`

	OpenAIKey   string `help:"API key enabling forecast narratives." env:"OPENAI_API_KEY"`
	OpenAIModel string `help:"Chat model used for narratives." env:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIURL   string `help:"Base URL of an OpenAI-compatible API." env:"OPENAI_BASE_URL"`
}

func (c *ServeCmd) Run(ctx context.Context, cli *CLI) error {
	e, err := cli.open()
	if err != nil {
		return err
	}
	defer e.Close()

	importer := ingest.NewImporter(e.store, ingest.NewFetcher(nil))
	server := api.NewServer(e.store, e.registry, c.Port)
	server.SetImporter(importer)
	server.SetNarrator(narrative.New(narrative.Config{
		APIKey:  c.OpenAIKey,
		Model:   c.OpenAIModel,
		BaseURL: c.OpenAIURL,
	}))

	log := logging.With("supervisor")
	sup := suture.New("skyscribe", suture.Spec{
		EventHook: func(ev suture.Event) {
			log.Warn().Str("event", ev.String()).Msg("supervisor event")
		},
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})
	sup.Add(server)

	if c.PollSource != "" {
		freq, err := ingest.ParseFrequency(c.Frequency)
		if err != nil {
			return err
		}
		poller := ingest.NewPoller(importer, e.registry, cli.Station, c.PollSource,
			ingest.Options{Frequency: freq}, c.PollInterval)
		poller.SetRetention(c.Retention)
		sup.Add(poller)
	}

	logging.Info().Str("port", c.Port).Bool("polling", c.PollSource != "").Msg("starting")
	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logging.Info().Msg("shutdown complete")
	return nil
}

type ImportCmd struct {
	Source    string `arg:"" help:"Path or http(s)/ftp URL of a Blynk CSV export."`
	Frequency string `help:"Resample frequency (m or h)." default:"m"`
	FillGaps  bool   `help:"Emit zero samples for buckets without readings."`
}

func (c *ImportCmd) Run(ctx context.Context, cli *CLI) error {
	freq, err := ingest.ParseFrequency(c.Frequency)
	if err != nil {
		return err
	}
	e, err := cli.open()
	if err != nil {
		return err
	}
	defer e.Close()

	st, err := e.registry.Get(ctx, cli.Station)
	if err != nil {
		return err
	}
	res, err := ingest.NewImporter(e.store, ingest.NewFetcher(nil)).
		Import(ctx, st, c.Source, ingest.Options{Frequency: freq, FillGaps: c.FillGaps})
	if err != nil {
		return err
	}
	return printJSON(res)
}

type StatsCmd struct {
	Kind  string `help:"Statistic (mean, max, min, std). Requires --field."`
	Field string `help:"Field the statistic is computed over."`
	From  string `help:"Range start (YYYY-MM-DD HH:MM:SS)."`
	To    string `help:"Range end (YYYY-MM-DD HH:MM:SS)."`
}

func (c *StatsCmd) Run(ctx context.Context, cli *CLI) error {
	from, to, err := parseRange(c.From, c.To)
	if err != nil {
		return err
	}
	e, err := cli.open()
	if err != nil {
		return err
	}
	defer e.Close()

	st, err := e.registry.Get(ctx, cli.Station)
	if err != nil {
		return err
	}
	if c.Kind == "" && c.Field == "" {
		summaries, err := st.Summaries(ctx, from, to)
		if err != nil {
			return err
		}
		return printJSON(summaries)
	}
	if c.Kind == "" || c.Field == "" {
		return fmt.Errorf("--kind and --field must be given together")
	}
	kind, err := station.ParseStatKind(c.Kind)
	if err != nil {
		return err
	}
	v, err := st.Stat(ctx, kind, c.Field, from, to)
	if err != nil {
		return err
	}
	return printJSON(map[string]float64{"result": v})
}

type ForecastCmd struct {
	Input   []string `help:"Input fields (default: all)." sep:","`
	Output  []string `help:"Output fields (default: all)." sep:","`
	Steps   int      `help:"Input window length (default: station default)."`
	Horizon int      `help:"Forecast horizon (default: station default)."`
	Epochs  int      `help:"Training epochs." default:"20"`
	Batch   int      `help:"Batch size." default:"32"`
}

func (c *ForecastCmd) Run(ctx context.Context, cli *CLI) error {
	e, err := cli.open()
	if err != nil {
		return err
	}
	defer e.Close()

	st, err := e.registry.Get(ctx, cli.Station)
	if err != nil {
		return err
	}
	info, err := st.CreateModel(forecast.Config{
		InputFields:  nilIfEmpty(c.Input),
		OutputFields: nilIfEmpty(c.Output),
		InputSteps:   c.Steps,
		HorizonSteps: c.Horizon,
	})
	if err != nil {
		return err
	}
	defer func() { _ = st.DeleteModel(info.ID) }()

	report, err := st.TrainModel(ctx, info.ID, c.Epochs, c.Batch)
	if err != nil {
		return err
	}
	logging.Info().
		Str("model", info.ID).
		Int("epochs", report.EpochsRun).
		Float64("loss", report.Loss).
		Msg("model trained")

	out, err := st.Predict(ctx, info.ID)
	if err != nil {
		return err
	}
	return printJSON(out)
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(cli *CLI) error {
	e, err := cli.open()
	if err != nil {
		return err
	}
	defer e.Close()

	v, err := e.store.MigrationVersion()
	if err != nil {
		return err
	}
	logging.Info().Int("version", v).Msg("migrations applied")
	return nil
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if from != "" {
		if start, err = models.ParseTimestamp(from); err != nil {
			return start, end, fmt.Errorf("--from: %w", err)
		}
	}
	if to != "" {
		if end, err = models.ParseTimestamp(to); err != nil {
			return start, end, fmt.Errorf("--to: %w", err)
		}
	}
	return start, end, nil
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
