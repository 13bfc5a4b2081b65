package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mbocsi/wearlink/config"
	"github.com/mbocsi/wearlink/link"
	"github.com/mbocsi/wearlink/phone"
	"github.com/mbocsi/wearlink/store"
	"github.com/mbocsi/wearlink/weather"
)

func newPhoneCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "phone",
		Short: "Publish the latest forecast whenever a watch asks for it",
		RunE: func(cmd *cobra.Command, args []string) error {
			newEndpoint, err := endpointFactory(root.cfg.Node, root.cfg.Phone.Name, "phone")
			if err != nil {
				return err
			}
			p, err := newPhoneProcess(cmd.Context(), root.cfg, newEndpoint, link.SystemClock())
			if err != nil {
				return err
			}
			config.Watch(root.viper, p.applyConfig)
			return p.run(cmd.Context())
		},
	}
}

type forecastStore interface {
	phone.ForecastStore
	Save(ctx context.Context, f weather.Forecast) error
}

// liveLocation is the preferred location, replaced on config reload.
type liveLocation struct {
	v atomic.Pointer[string]
}

func newLiveLocation(location string) *liveLocation {
	l := &liveLocation{}
	l.v.Store(&location)
	return l
}

func (l *liveLocation) PreferredLocation() string {
	return *l.v.Load()
}

// Set reports whether the location actually changed.
func (l *liveLocation) Set(location string) bool {
	old := l.v.Swap(&location)
	return weather.NormalizeLocation(*old) != weather.NormalizeLocation(location)
}

type phoneProcess struct {
	cfg        *config.Config
	loop       *link.Loop
	session    *link.Session
	store      forecastStore
	location   *liveLocation
	publisher  *phone.Publisher
	closeStore func()

	stopping atomic.Bool
}

func newPhoneProcess(ctx context.Context, cfg *config.Config, newEndpoint func() link.Endpoint, clock link.Clock) (*phoneProcess, error) {
	st, closeStore, err := newForecastStore(ctx, cfg.Phone.DatabaseURL)
	if err != nil {
		return nil, err
	}

	loop := link.NewLoop(clock)
	if err := seedForecasts(ctx, st, cfg.Phone, loop.Now()); err != nil {
		closeStore()
		return nil, err
	}

	session := link.NewSession(loop, newEndpoint)
	location := newLiveLocation(cfg.Phone.Location)
	return &phoneProcess{
		cfg:      cfg,
		loop:     loop,
		session:  session,
		store:    st,
		location: location,
		publisher: phone.NewPublisher(session, st, location, phone.Options{
			QueueSize:      cfg.Phone.QueueSize,
			ConnectTimeout: cfg.Phone.ConnectTimeout,
		}),
		closeStore: closeStore,
	}, nil
}

// newForecastStore uses Postgres when a database url is configured and an
// in-memory store otherwise.
func newForecastStore(ctx context.Context, dsn string) (forecastStore, func(), error) {
	if dsn == "" {
		return store.NewMemoryStore(), func() {}, nil
	}
	pool, err := store.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	pg := store.NewPostgresStore(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	slog.Info("Reading forecasts from postgres", "host", pool.Config().ConnConfig.Host)
	return pg, pool.Close, nil
}

// seedForecasts saves the configured rows, dated relative to today.
func seedForecasts(ctx context.Context, st forecastStore, cfg config.PhoneConfig, now time.Time) error {
	today := store.DayStart(now)
	for i, seed := range cfg.Forecasts {
		location := seed.Location
		if strings.TrimSpace(location) == "" {
			location = cfg.Location
		}
		f := weather.Forecast{
			Location:  location,
			Date:      today.AddDate(0, 0, seed.DayOffset),
			WeatherID: seed.WeatherID,
			ShortDesc: seed.ShortDesc,
			MaxTemp:   seed.MaxTemp,
			MinTemp:   seed.MinTemp,
		}
		if err := st.Save(ctx, f); err != nil {
			return fmt.Errorf("seed forecast %d: %w", i, err)
		}
	}
	if len(cfg.Forecasts) > 0 {
		slog.Info("Seeded forecasts", "count", len(cfg.Forecasts))
	}
	return nil
}

// applyConfig picks up a new preferred location and republishes for it.
func (p *phoneProcess) applyConfig(cfg *config.Config) {
	if !p.location.Set(cfg.Phone.Location) {
		return
	}
	slog.Info("Preferred location changed", "location", cfg.Phone.Location)
	p.publisher.Request("location changed")
}

// reopen brings the session back after it fails or drops. The relay client
// already retries a dropped connection; this covers what it gives up on.
func (p *phoneProcess) reopen(s link.State) {
	if s != link.Failed && s != link.Disconnected {
		return
	}
	if p.stopping.Load() {
		return
	}
	delay := p.cfg.Node.RetryDelay
	slog.Info("Link lost, reopening", "state", s, "delay", delay)
	p.loop.AfterFunc(delay, func() {
		if !p.stopping.Load() {
			p.session.Open()
		}
	})
}

func (p *phoneProcess) run(ctx context.Context) error {
	defer p.closeStore()

	// The loop outlives ctx so the session can close cleanly on it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := p.loop.Run(loopCtx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := p.publisher.Run(gCtx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	stateListener := p.session.AddStateListener(p.reopen)
	stopListen := p.publisher.Listen()
	p.session.Open()
	slog.Info("Phone ready", "location", p.location.PreferredLocation())

	g.Go(func() error {
		<-gCtx.Done()
		p.stopping.Store(true)
		stopListen()
		p.session.RemoveStateListener(stateListener)
		p.session.Close()
		p.loop.Post(stopLoop)
		return nil
	})

	return g.Wait()
}
