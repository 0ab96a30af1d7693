package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/lox/skyscribe/internal/logging"
	"github.com/lox/skyscribe/internal/station"
)

const DefaultPollInterval = 10 * time.Minute

// Poller re-imports one source into one station on an interval. Exports
// identical to one already archived for the station are skipped.
type Poller struct {
	importer  *Importer
	registry  *station.Registry
	stationID int64
	source    string
	opts      Options
	interval  time.Duration
	retention time.Duration
}

func NewPoller(importer *Importer, registry *station.Registry, stationID int64, source string, opts Options, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		importer:  importer,
		registry:  registry,
		stationID: stationID,
		source:    source,
		opts:      Options{Frequency: opts.Frequency, FillGaps: opts.FillGaps, SkipUnchanged: true},
		interval:  interval,
	}
}

// Serve imports immediately and then on every tick until ctx is done.
// Failed imports are logged and retried on the next tick.
func (p *Poller) Serve(ctx context.Context) error {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Str("poller", p.String()).Msg("ingest: poller shutting down")
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	st, err := p.registry.Get(ctx, p.stationID)
	if err != nil {
		logging.Error().Err(err).Int64("station", p.stationID).Msg("ingest: poll station lookup failed")
		return
	}
	if _, err := p.importer.Import(ctx, st, p.source, p.opts); err != nil {
		logging.Error().Err(err).Int64("station", p.stationID).Str("source", p.source).Msg("ingest: poll failed")
	}
	p.prune()
}

// SetRetention makes every poll delete archived exports fetched more than d
// ago. Zero keeps them forever.
func (p *Poller) SetRetention(d time.Duration) {
	p.retention = d
}

func (p *Poller) prune() {
	if p.retention <= 0 {
		return
	}
	n, err := p.importer.PruneExports(time.Now().Add(-p.retention))
	if err != nil {
		logging.Error().Err(err).Msg("ingest: prune exports failed")
		return
	}
	if n > 0 {
		logging.Info().Int64("pruned", n).Dur("retention", p.retention).Msg("ingest: pruned archived exports")
	}
}

func (p *Poller) String() string {
	return fmt.Sprintf("poller(station=%d)", p.stationID)
}
