// Package phone answers weather requests from the watch: it reads the latest
// forecast for the preferred location and publishes it as the /weather record.
package phone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbocsi/wearlink/link"
	"github.com/mbocsi/wearlink/proto"
	"github.com/mbocsi/wearlink/weather"
)

var ErrQueueFull = errors.New("fetch queue full")

// ForecastStore returns the first forecast dated at or after notBefore for
// location. ok is false when there is none.
type ForecastStore interface {
	QueryLatest(ctx context.Context, location string, notBefore time.Time) (forecast weather.Forecast, ok bool, err error)
}

type LocationSource interface {
	PreferredLocation() string
}

// StaticLocation is a fixed preferred location.
type StaticLocation string

func (l StaticLocation) PreferredLocation() string { return string(l) }

type Options struct {
	QueueSize int
	// ConnectTimeout bounds the wait for the link before publishing. Zero
	// waits as long as the link takes.
	ConnectTimeout time.Duration
}

// Publisher runs fetch-and-publish jobs one at a time on a background worker.
type Publisher struct {
	session  *link.Session
	store    ForecastStore
	location LocationSource
	opts     Options
	logger   *slog.Logger

	queue chan string
}

func NewPublisher(session *link.Session, store ForecastStore, location LocationSource, opts Options) *Publisher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	return &Publisher{
		session:  session,
		store:    store,
		location: location,
		opts:     opts,
		logger:   slog.Default().With("component", "publisher"),
		queue:    make(chan string, opts.QueueSize),
	}
}

// Request queues a job. It never blocks; a full queue drops the request.
func (p *Publisher) Request(reason string) error {
	select {
	case p.queue <- reason:
		return nil
	default:
		p.logger.Warn("Dropping weather request, queue full", "reason", reason)
		return ErrQueueFull
	}
}

// Run executes queued jobs serially until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case reason := <-p.queue:
			snap, published, err := p.FetchAndPublish(ctx)
			switch {
			case err != nil:
				p.logger.Warn("Failed to publish weather", "reason", reason, "error", err)
			case !published:
				p.logger.Debug("No forecast to publish", "reason", reason)
			default:
				p.logger.Info("Published weather", "reason", reason, "location", snap.Location, "weather_id", snap.ConditionCode)
			}
		}
	}
}

// FetchAndPublish reads the latest forecast and publishes it urgently.
// A store without a matching row is not an error: nothing is published.
func (p *Publisher) FetchAndPublish(ctx context.Context) (weather.Snapshot, bool, error) {
	location := p.location.PreferredLocation()
	now := p.session.Loop().Now()

	forecast, ok, err := p.store.QueryLatest(ctx, location, now)
	if err != nil {
		return weather.Snapshot{}, false, fmt.Errorf("query forecast for %q: %w", location, err)
	}
	if !ok {
		return weather.Snapshot{}, false, nil
	}
	snap := weather.NewSnapshot(forecast.WeatherID, forecast.MaxTemp, forecast.MinTemp, location, now)

	p.session.Open()
	waitCtx := ctx
	if p.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.opts.ConnectTimeout)
		defer cancel()
	}
	if _, err := p.session.AwaitConnected().Await(waitCtx); err != nil {
		return snap, false, fmt.Errorf("wait for link: %w", err)
	}

	if _, err := p.session.PutData(weather.PathWeather, snap.ToDataMap(), true).Await(ctx); err != nil {
		return snap, false, fmt.Errorf("put %s: %w", weather.PathWeather, err)
	}
	return snap, true, nil
}

// Listen queues a job for every /weather-req message until the returned
// function is called.
func (p *Publisher) Listen() (stop func()) {
	id := p.session.AddMessageListener(weather.PathWeatherRequest, func(msg proto.Message) {
		p.logger.Debug("Weather requested", "sender", msg.Sender)
		p.Request("request from " + msg.Sender)
	})
	return func() { p.session.RemoveMessageListener(id) }
}
