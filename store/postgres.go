package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mbocsi/wearlink/weather"
)

// DB is the part of a pgx pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schemaSQL = `CREATE TABLE IF NOT EXISTS weather (
	id               BIGSERIAL PRIMARY KEY,
	location_setting TEXT NOT NULL,
	date             TIMESTAMPTZ NOT NULL,
	weather_id       INTEGER NOT NULL,
	short_desc       TEXT NOT NULL DEFAULT '',
	max_temp         DOUBLE PRECISION NOT NULL,
	min_temp         DOUBLE PRECISION NOT NULL,
	UNIQUE (location_setting, date)
)`

const saveSQL = `INSERT INTO weather (location_setting, date, weather_id, short_desc, max_temp, min_temp)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (location_setting, date) DO UPDATE
SET weather_id = EXCLUDED.weather_id, short_desc = EXCLUDED.short_desc,
    max_temp = EXCLUDED.max_temp, min_temp = EXCLUDED.min_temp`

const latestSQL = `SELECT location_setting, date, weather_id, short_desc, max_temp, min_temp
FROM weather
WHERE location_setting = $1 AND date >= $2
ORDER BY date ASC
LIMIT 1`

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect opens a pool for dsn and checks it is reachable.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create weather table: %w", err)
	}
	return nil
}

// Save upserts f keyed by location and date.
func (s *PostgresStore) Save(ctx context.Context, f weather.Forecast) error {
	_, err := s.db.Exec(ctx, saveSQL, f.Location, f.Date, f.WeatherID, f.ShortDesc, f.MaxTemp, f.MinTemp)
	if err != nil {
		return fmt.Errorf("save forecast %s/%s: %w", f.Location, f.Date.Format(time.DateOnly), err)
	}
	return nil
}

func (s *PostgresStore) QueryLatest(ctx context.Context, location string, notBefore time.Time) (weather.Forecast, bool, error) {
	var f weather.Forecast
	err := s.db.QueryRow(ctx, latestSQL, location, DayStart(notBefore)).
		Scan(&f.Location, &f.Date, &f.WeatherID, &f.ShortDesc, &f.MaxTemp, &f.MinTemp)
	if errors.Is(err, pgx.ErrNoRows) {
		return weather.Forecast{}, false, nil
	}
	if err != nil {
		return weather.Forecast{}, false, fmt.Errorf("query latest forecast: %w", err)
	}
	return f, true, nil
}
