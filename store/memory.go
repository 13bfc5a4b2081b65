// Package store holds the phone's forecast rows. Rows are dated by day, so a
// query for "now" still finds today's forecast.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mbocsi/wearlink/weather"
)

var ErrNotFound = errors.New("forecast not found")

// MemoryStore keeps forecasts per location, ordered by date.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string][]weather.Forecast
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string][]weather.Forecast)}
}

// Save inserts f, replacing any row with the same location and date.
func (s *MemoryStore) Save(ctx context.Context, f weather.Forecast) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rows[f.Location]
	for i := range rows {
		if rows[i].Date.Equal(f.Date) {
			rows[i] = f
			return nil
		}
	}
	rows = append(rows, f)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	s.rows[f.Location] = rows
	return nil
}

func (s *MemoryStore) QueryLatest(ctx context.Context, location string, notBefore time.Time) (weather.Forecast, bool, error) {
	from := DayStart(notBefore)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.rows[location] {
		if !f.Date.Before(from) {
			return f, true, nil
		}
	}
	return weather.Forecast{}, false, nil
}

// Get returns the row for location on date.
func (s *MemoryStore) Get(ctx context.Context, location string, date time.Time) (weather.Forecast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.rows[location] {
		if f.Date.Equal(date) {
			return f, nil
		}
	}
	return weather.Forecast{}, ErrNotFound
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rows := range s.rows {
		n += len(rows)
	}
	return n
}

// DayStart truncates t to midnight UTC, the date every row is keyed by.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
