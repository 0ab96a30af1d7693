package series

import (
	"context"
	"fmt"
	"time"

	"github.com/lox/skyscribe/internal/models"
)

// Repository is the read/write surface over one station's series. It keeps
// the series bounds current across its own mutations; writes made through
// another Repository on the same collection are not observed.
type Repository struct {
	coll   Collection
	bounds *Bounds
}

// NewRepository wraps coll and initialises both bounds.
func NewRepository(ctx context.Context, coll Collection) (*Repository, error) {
	r := &Repository{coll: coll, bounds: NewBounds(coll)}
	if err := r.bounds.RefreshStart(ctx); err != nil {
		return nil, err
	}
	if err := r.bounds.RefreshEnd(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) Start() (time.Time, bool) { return r.bounds.Start() }

func (r *Repository) End() (time.Time, bool) { return r.bounds.End() }

func (r *Repository) Empty() bool { return r.bounds.Empty() }

// Get looks up the sample at ts.
func (r *Repository) Get(ctx context.Context, ts time.Time, fields []string) (models.Sample, error) {
	return r.coll.FindOne(ctx, Query{At: models.TruncateTimestamp(ts), Fields: fields})
}

// GetRange returns the samples in [from, to] in ascending order. A zero
// endpoint defaults to the corresponding series bound. An empty result,
// including from after to, is reported as ErrNotFound.
func (r *Repository) GetRange(ctx context.Context, from, to time.Time, fields []string) ([]models.Sample, error) {
	if r.Empty() {
		return nil, ErrNotFound
	}
	if from.IsZero() {
		from = r.bounds.start
	}
	if to.IsZero() {
		to = r.bounds.end
	}
	q := Query{
		From:   models.TruncateTimestamp(from),
		To:     models.TruncateTimestamp(to),
		Fields: fields,
	}
	if q.From.After(q.To) {
		return nil, ErrNotFound
	}
	return r.find(ctx, q)
}

// GetFiltered returns the samples matching f in ascending order. An empty
// filter is the whole series.
func (r *Repository) GetFiltered(ctx context.Context, f Filter, fields []string) ([]models.Sample, error) {
	if len(f) == 0 {
		return r.GetRange(ctx, time.Time{}, time.Time{}, fields)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return r.find(ctx, Query{Filter: f, Fields: fields})
}

func (r *Repository) find(ctx context.Context, q Query) ([]models.Sample, error) {
	samples, err := r.coll.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrNotFound
	}
	return samples, nil
}

// FieldValues projects one field over [from, to], preserving order.
func (r *Repository) FieldValues(ctx context.Context, field string, from, to time.Time) ([]float64, error) {
	samples, err := r.GetRange(ctx, from, to, []string{field})
	if err != nil {
		return nil, err
	}
	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		v, ok := s.Value(field)
		if !ok {
			return nil, fmt.Errorf("field %s missing at %s: %w", field, s.Timestamp().Format(models.TimeLayout), ErrNotFound)
		}
		values = append(values, v)
	}
	return values, nil
}

// Insert adds s, failing with ErrDuplicate if its timestamp is taken.
func (r *Repository) Insert(ctx context.Context, s models.Sample) error {
	if err := r.coll.InsertOne(ctx, s); err != nil {
		return err
	}
	return r.afterWrite(ctx, s.Timestamp())
}

// UpdateField applies p to the sample at ts. A timestamp patch re-keys the
// sample, so bounds are checked against the new value, and against the old
// one when it was itself a bound.
func (r *Repository) UpdateField(ctx context.Context, ts time.Time, p Patch) error {
	ts = models.TruncateTimestamp(ts)
	matched, err := r.coll.UpdateOne(ctx, ts, p)
	if err != nil {
		return err
	}
	if matched == 0 {
		return ErrNotFound
	}
	if !p.IsRename() {
		return nil
	}
	if err := r.afterRemove(ctx, ts); err != nil {
		return err
	}
	return r.afterWrite(ctx, p.Timestamp)
}

// Replace swaps the stored sample at s.Timestamp() for s. Bounds are
// unaffected.
func (r *Repository) Replace(ctx context.Context, s models.Sample) error {
	matched, err := r.coll.ReplaceOne(ctx, s)
	if err != nil {
		return err
	}
	if matched == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, ts time.Time) error {
	ts = models.TruncateTimestamp(ts)
	deleted, err := r.coll.DeleteOne(ctx, ts)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrNotFound
	}
	return r.afterRemove(ctx, ts)
}

func (r *Repository) afterWrite(ctx context.Context, ts time.Time) error {
	start, hasStart := r.bounds.Start()
	end, hasEnd := r.bounds.End()
	if !hasStart || ts.Before(start) {
		if err := r.bounds.RefreshStart(ctx); err != nil {
			return err
		}
	}
	if !hasEnd || ts.After(end) {
		if err := r.bounds.RefreshEnd(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) afterRemove(ctx context.Context, ts time.Time) error {
	if start, ok := r.bounds.Start(); ok && ts.Equal(start) {
		if err := r.bounds.RefreshStart(ctx); err != nil {
			return err
		}
	}
	if end, ok := r.bounds.End(); ok && ts.Equal(end) {
		if err := r.bounds.RefreshEnd(ctx); err != nil {
			return err
		}
	}
	return nil
}
