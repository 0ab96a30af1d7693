package series

import (
	"context"
	"time"

	"github.com/lox/skyscribe/internal/models"
)

// Collection is one station's ordered, timestamp-keyed sample store.
// Implementations live in the store package.
type Collection interface {
	// FindOne returns the first sample matching q in q.Order, or ErrNotFound.
	FindOne(ctx context.Context, q Query) (models.Sample, error)
	// Find returns every sample matching q in q.Order. An empty result is
	// not an error.
	Find(ctx context.Context, q Query) ([]models.Sample, error)
	// InsertOne fails with ErrDuplicate if the timestamp is taken.
	InsertOne(ctx context.Context, s models.Sample) error
	// UpdateOne applies p to the sample at ts and reports how many samples
	// matched. Renaming onto an existing timestamp fails with ErrDuplicate.
	UpdateOne(ctx context.Context, ts time.Time, p Patch) (int64, error)
	// ReplaceOne swaps the sample keyed by s.Timestamp() for s.
	ReplaceOne(ctx context.Context, s models.Sample) (int64, error)
	DeleteOne(ctx context.Context, ts time.Time) (int64, error)
}
