package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mbocsi/wearlink/config"
	"github.com/mbocsi/wearlink/link"
	"github.com/mbocsi/wearlink/watch"
)

func newWatchCommand(root *rootOptions) *cobra.Command {
	var clearScreen bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Render the watch face in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			newEndpoint, err := endpointFactory(root.cfg.Node, root.cfg.Watch.Name, "watch")
			if err != nil {
				return err
			}
			display := &terminalDisplay{w: cmd.OutOrStdout(), clear: clearScreen}
			p := newWatchProcess(root.cfg.Watch, newEndpoint, display, link.SystemClock())
			config.Watch(root.viper, p.applyConfig)
			return p.run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&clearScreen, "clear", true, "Clear the terminal before every frame")
	return cmd
}

// terminalDisplay prints frames to a terminal.
type terminalDisplay struct {
	mu    sync.Mutex
	w     io.Writer
	clear bool
}

func (d *terminalDisplay) Show(frame string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.clear {
		io.WriteString(d.w, "\033[H\033[2J")
	}
	io.WriteString(d.w, frame)
	io.WriteString(d.w, "\n")
}

type watchProcess struct {
	loop    *link.Loop
	session *link.Session
	engine  *watch.Engine

	zone    atomic.Pointer[time.Location]
	ambient atomic.Bool
}

func newWatchProcess(cfg config.WatchConfig, newEndpoint func() link.Endpoint, display watch.Display, clock link.Clock) *watchProcess {
	loop := link.NewLoop(clock)
	session := link.NewSession(loop, newEndpoint)
	p := &watchProcess{loop: loop, session: session}

	zone, err := cfg.Zone()
	if err != nil {
		zone = time.Local
	}
	p.zone.Store(zone)
	p.ambient.Store(cfg.Ambient)

	p.engine = watch.NewEngine(session, display, watch.Options{
		Hour24: cfg.Hour24,
		Zone:   p.zone.Load,
	})
	p.engine.Start()
	p.engine.OnPropertiesChanged(cfg.LowBit)
	p.engine.OnAmbientModeChanged(cfg.Ambient)
	return p
}

// applyConfig forwards time zone and ambient edits to the face.
func (p *watchProcess) applyConfig(cfg *config.Config) {
	zone, err := cfg.Watch.Zone()
	if err == nil && zone.String() != p.zone.Load().String() {
		p.zone.Store(zone)
		slog.Info("Watch time zone changed", "zone", zone.String())
		p.engine.OnTimeZoneChanged()
	}
	if p.ambient.Swap(cfg.Watch.Ambient) != cfg.Watch.Ambient {
		p.engine.OnAmbientModeChanged(cfg.Watch.Ambient)
	}
	p.engine.OnPropertiesChanged(cfg.Watch.LowBit)
}

func (p *watchProcess) run(ctx context.Context) error {
	// The loop outlives ctx so the face can hide and disconnect on it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := p.loop.Run(loopCtx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	p.engine.OnVisibilityChanged(true)

	g.Go(func() error {
		<-gCtx.Done()
		p.engine.Stop()
		p.loop.Post(stopLoop)
		return nil
	})

	return g.Wait()
}
