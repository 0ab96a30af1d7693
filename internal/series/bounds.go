package series

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lox/skyscribe/internal/models"
)

// Bounds caches the earliest and latest timestamp of a series. It never
// watches the collection: callers refresh it after mutations that can move
// a bound. A refresh against an empty series puts the tracker in the empty
// state instead of failing.
type Bounds struct {
	coll       Collection
	start, end time.Time
	hasStart   bool
	hasEnd     bool
}

func NewBounds(coll Collection) *Bounds {
	return &Bounds{coll: coll}
}

func (b *Bounds) RefreshStart(ctx context.Context) error {
	ts, ok, err := b.edge(ctx, Ascending)
	if err != nil {
		return fmt.Errorf("refresh start: %w", err)
	}
	b.start, b.hasStart = ts, ok
	return nil
}

func (b *Bounds) RefreshEnd(ctx context.Context) error {
	ts, ok, err := b.edge(ctx, Descending)
	if err != nil {
		return fmt.Errorf("refresh end: %w", err)
	}
	b.end, b.hasEnd = ts, ok
	return nil
}

func (b *Bounds) edge(ctx context.Context, order Order) (time.Time, bool, error) {
	s, err := b.coll.FindOne(ctx, Query{
		Fields: []string{models.TimestampField},
		Order:  order,
		Limit:  1,
	})
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return s.Timestamp(), true, nil
}

// Start returns the cached earliest timestamp; ok is false when the series
// is empty or has not been refreshed.
func (b *Bounds) Start() (time.Time, bool) { return b.start, b.hasStart }

func (b *Bounds) End() (time.Time, bool) { return b.end, b.hasEnd }

func (b *Bounds) Empty() bool { return !b.hasStart || !b.hasEnd }
