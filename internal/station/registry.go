package station

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/lox/skyscribe/internal/logging"
	"github.com/lox/skyscribe/internal/models"
	"github.com/lox/skyscribe/internal/series"
)

// Loader reads station metadata and opens sample collections. It is
// satisfied by *store.Store.
type Loader interface {
	GetStation(id int64) (*models.Station, error)
	GetStationByLocation(location string) (*models.Station, error)
	ListStations() ([]models.Station, error)
	Collection(stationID int64) series.Collection
}

// Registry caches live stations by id. A miss loads the station from the
// Loader; Invalidate drops an entry so the next Get reloads it.
type Registry struct {
	loader Loader

	mu       sync.Mutex
	stations map[int64]*Station
}

func NewRegistry(loader Loader) *Registry {
	return &Registry{loader: loader, stations: make(map[int64]*Station)}
}

// Get returns the station with id, loading it on a miss.
func (r *Registry) Get(ctx context.Context, id int64) (*Station, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.stations[id]; ok {
		return st, nil
	}

	info, err := r.loader.GetStation(id)
	if err != nil {
		return nil, fmt.Errorf("load station %d: %w", id, err)
	}
	if info == nil {
		return nil, fmt.Errorf("station %d: %w", id, series.ErrNotFound)
	}

	st, err := Open(ctx, *info, r.loader.Collection(id))
	if err != nil {
		return nil, err
	}
	r.stations[id] = st
	logging.Debug().Int64("station", id).Msg("registry: station loaded")
	return st, nil
}

// Find resolves key as a numeric station id, or else as a location.
func (r *Registry) Find(ctx context.Context, key string) (*Station, error) {
	if id, err := strconv.ParseInt(key, 10, 64); err == nil {
		return r.Get(ctx, id)
	}
	info, err := r.loader.GetStationByLocation(key)
	if err != nil {
		return nil, fmt.Errorf("load station %q: %w", key, err)
	}
	if info == nil {
		return nil, fmt.Errorf("station %q: %w", key, series.ErrNotFound)
	}
	return r.Get(ctx, info.ID)
}

// List returns the metadata of every stored station.
func (r *Registry) List() ([]models.Station, error) {
	return r.loader.ListStations()
}

func (r *Registry) Invalidate(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stations, id)
}

// Len is the number of cached stations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stations)
}
