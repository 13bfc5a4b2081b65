package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mbocsi/wearlink/config"
	"github.com/mbocsi/wearlink/server"
)

const shutdownTimeout = 5 * time.Second

func newRelayCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Run the relay that connects phones and watches",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newRelayProcess(cmd.Context(), root.cfg.Relay)
			if err != nil {
				return err
			}
			return p.run(cmd.Context())
		},
	}
}

// relayProcess is a relay with its listeners, ready to run.
type relayProcess struct {
	cfg   config.RelayConfig
	relay *server.Relay
	tcp   *server.TCPTransport
	ws    *server.WSTransport
	http  *http.Server

	closeRecords func() error
}

func newRelayProcess(ctx context.Context, cfg config.RelayConfig) (*relayProcess, error) {
	records, closeRecords, err := newRecordStore(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	relay := server.NewRelay(server.RelayOptions{
		Records:       records,
		BatchInterval: cfg.BatchInterval,
		MCP:           cfg.MCP,
	})

	tcp := server.NewTCPTransport(cfg.TCPAddr)
	tcp.SetName("tcp")
	tcp.SetDescription("Line-delimited JSON over TCP")
	tcp.SetMaxClients(cfg.MaxClients)
	relay.RegisterTransport(tcp)

	ws := server.NewWSTransport(cfg.WSAddr)
	ws.SetName("websocket")
	ws.SetDescription("JSON text frames over WebSocket at /ws")
	ws.SetMaxClients(cfg.MaxClients)
	relay.RegisterTransport(ws)

	return &relayProcess{
		cfg:   cfg,
		relay: relay,
		tcp:   tcp,
		ws:    ws,
		http: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           relay.Coordinator().Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		closeRecords: closeRecords,
	}, nil
}

// newRecordStore keeps records in Redis when an address is configured and in
// memory otherwise.
func newRecordStore(ctx context.Context, cfg config.RedisConfig) (server.RecordStore, func() error, error) {
	if cfg.Addr == "" {
		return server.NewMemoryRecordStore(), func() error { return nil }, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	slog.Info("Storing records in redis", "addr", cfg.Addr, "db", cfg.DB)
	return server.NewRedisRecordStore(rdb), rdb.Close, nil
}

func (p *relayProcess) run(ctx context.Context) error {
	defer func() {
		if err := p.closeRecords(); err != nil {
			slog.Warn("Failed to close record store", "error", err)
		}
	}()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.relay.Start(gCtx)
	})

	g.Go(func() error {
		slog.Info("Starting relay HTTP API", "addr", p.cfg.HTTPAddr)
		if err := p.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http api: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return p.http.Shutdown(shutdownCtx)
	})

	if p.cfg.MDNS {
		g.Go(func() error {
			return p.advertise(gCtx)
		})
	}

	return g.Wait()
}

// advertise announces both transports once they are listening and withdraws
// them on shutdown. Advertising failures are logged, not fatal.
func (p *relayProcess) advertise(ctx context.Context) error {
	var adv server.Advertiser
	defer adv.Shutdown()

	for _, t := range []struct {
		service string
		ready   <-chan struct{}
		addr    func() string
	}{
		{server.ServiceTCP, p.tcp.Ready(), p.tcp.ListenAddr},
		{server.ServiceWS, p.ws.Ready(), p.ws.ListenAddr},
	} {
		select {
		case <-t.ready:
		case <-ctx.Done():
			return nil
		}
		if err := adv.Advertise(t.service, t.addr()); err != nil {
			slog.Warn("Failed to advertise relay", "service", t.service, "error", err)
		}
	}

	<-ctx.Done()
	return nil
}
