package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/lox/skyscribe/internal/metrics"
	"github.com/lox/skyscribe/internal/models"
	"github.com/lox/skyscribe/internal/series"
)

const samplesKeyPrefix = "samples:"

// BadgerSeries stores a station's samples in BadgerDB under
// "samples:<station>:" followed by the big-endian, sign-flipped Unix time,
// so key order is timestamp order.
type BadgerSeries struct {
	db     *badger.DB
	prefix []byte
}

var _ series.Collection = (*BadgerSeries)(nil)

// OpenBadger opens a Badger database at path. An empty path keeps the
// database in memory.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return db, nil
}

func NewBadgerSeries(db *badger.DB, stationID int64) *BadgerSeries {
	return &BadgerSeries{
		db:     db,
		prefix: []byte(samplesKeyPrefix + strconv.FormatInt(stationID, 10) + ":"),
	}
}

func (c *BadgerSeries) key(ts time.Time) []byte {
	k := make([]byte, len(c.prefix)+8)
	copy(k, c.prefix)
	binary.BigEndian.PutUint64(k[len(c.prefix):], uint64(ts.Unix())^(1<<63))
	return k
}

func (c *BadgerSeries) timestamp(key []byte) time.Time {
	u := binary.BigEndian.Uint64(key[len(c.prefix):]) ^ (1 << 63)
	return time.Unix(int64(u), 0).UTC()
}

func (c *BadgerSeries) FindOne(ctx context.Context, q series.Query) (models.Sample, error) {
	q.Limit = 1
	samples, err := c.Find(ctx, q)
	if err != nil {
		return models.Sample{}, err
	}
	if len(samples) == 0 {
		return models.Sample{}, series.ErrNotFound
	}
	return samples[0], nil
}

func (c *BadgerSeries) Find(ctx context.Context, q series.Query) ([]models.Sample, error) {
	if err := q.Filter.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	var samples []models.Sample
	err := c.db.View(func(txn *badger.Txn) error {
		if !q.At.IsZero() {
			item, err := txn.Get(c.key(q.At))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			s, err := c.decode(item)
			if err != nil {
				return err
			}
			if q.Match(s) {
				samples = append(samples, s.Project(q.Fields))
			}
			return nil
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = c.prefix
		opts.Reverse = q.Order == series.Descending
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(c.seekKey(q)); it.ValidForPrefix(c.prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			ts := c.timestamp(it.Item().Key())
			if opts.Reverse && !q.From.IsZero() && ts.Before(q.From) {
				break
			}
			if !opts.Reverse && !q.To.IsZero() && ts.After(q.To) {
				break
			}
			s, err := c.decode(it.Item())
			if err != nil {
				return err
			}
			if !q.Match(s) {
				continue
			}
			samples = append(samples, s.Project(q.Fields))
			if q.Limit > 0 && len(samples) >= q.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan samples: %w", err)
	}
	metrics.StoreQueryLatency.WithLabelValues("badger", "find").Observe(time.Since(start).Seconds())
	return samples, nil
}

func (c *BadgerSeries) seekKey(q series.Query) []byte {
	if q.Order == series.Descending {
		if !q.To.IsZero() {
			return c.key(q.To)
		}
		return append(bytes.Clone(c.prefix), bytes.Repeat([]byte{0xff}, 9)...)
	}
	if !q.From.IsZero() {
		return c.key(q.From)
	}
	return c.prefix
}

func (c *BadgerSeries) decode(item *badger.Item) (models.Sample, error) {
	ts := c.timestamp(item.Key())
	var fields map[string]float64
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &fields)
	})
	if err != nil {
		return models.Sample{}, fmt.Errorf("decode sample %s: %w", ts.Format(models.TimeLayout), err)
	}
	return models.NewSample(ts, fields), nil
}

func (c *BadgerSeries) put(txn *badger.Txn, s models.Sample) error {
	data, err := json.Marshal(s.Fields())
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	return txn.Set(c.key(s.Timestamp()), data)
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (c *BadgerSeries) InsertOne(ctx context.Context, s models.Sample) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		found, err := exists(txn, c.key(s.Timestamp()))
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("sample at %s: %w", s.Timestamp().Format(models.TimeLayout), series.ErrDuplicate)
		}
		return c.put(txn, s)
	})
	if err == nil {
		metrics.SamplesWritten.WithLabelValues("insert").Inc()
	}
	return err
}

func (c *BadgerSeries) UpdateOne(ctx context.Context, ts time.Time, p series.Patch) (int64, error) {
	var matched int64
	err := c.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key(ts))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		old, err := c.decode(item)
		if err != nil {
			return err
		}
		updated := p.Apply(old)

		if p.IsRename() && !updated.Timestamp().Equal(ts) {
			found, err := exists(txn, c.key(updated.Timestamp()))
			if err != nil {
				return err
			}
			if found {
				return fmt.Errorf("rename to %s: %w", updated.Timestamp().Format(models.TimeLayout), series.ErrDuplicate)
			}
			if err := txn.Delete(c.key(ts)); err != nil {
				return err
			}
		}
		matched = 1
		return c.put(txn, updated)
	})
	if err != nil {
		return 0, err
	}
	metrics.SamplesWritten.WithLabelValues("update").Inc()
	return matched, nil
}

func (c *BadgerSeries) ReplaceOne(ctx context.Context, s models.Sample) (int64, error) {
	var matched int64
	err := c.db.Update(func(txn *badger.Txn) error {
		found, err := exists(txn, c.key(s.Timestamp()))
		if err != nil || !found {
			return err
		}
		matched = 1
		return c.put(txn, s)
	})
	if err != nil {
		return 0, err
	}
	metrics.SamplesWritten.WithLabelValues("replace").Inc()
	return matched, nil
}

func (c *BadgerSeries) DeleteOne(ctx context.Context, ts time.Time) (int64, error) {
	var deleted int64
	err := c.db.Update(func(txn *badger.Txn) error {
		found, err := exists(txn, c.key(ts))
		if err != nil || !found {
			return err
		}
		deleted = 1
		return txn.Delete(c.key(ts))
	})
	if err != nil {
		return 0, err
	}
	metrics.SamplesWritten.WithLabelValues("delete").Inc()
	return deleted, nil
}
