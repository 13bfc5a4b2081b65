package server

import (
	"context"
	"testing"
	"time"

	"github.com/mbocsi/wearlink/client"
	"github.com/mbocsi/wearlink/link"
	"github.com/mbocsi/wearlink/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSession(t *testing.T, ctx context.Context, loop *link.Loop, name string, newTransport func() client.Transport, addr string) *link.Session {
	t.Helper()
	s := link.NewSession(loop, func() link.Endpoint {
		return client.NewClient(client.Options{
			Name:         name,
			Role:         name,
			Addr:         addr,
			NewTransport: newTransport,
			RetryDelay:   10 * time.Millisecond,
		})
	})
	s.Open()
	t.Cleanup(s.Close)

	_, err := s.AwaitConnected().Await(ctx)
	require.NoError(t, err, "%s did not connect", name)
	return s
}

func TestRelay_WeatherRoundTripOverTCP(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	coord, tcp := startTCPRelay(t)
	loop := link.NewLoop(nil)
	go loop.Run(ctx)

	tcpTransport := func() client.Transport { return client.NewTCPTransport() }
	phone := openSession(t, ctx, loop, "phone", tcpTransport, tcp.ListenAddr())
	watch := openSession(t, ctx, loop, "watch", tcpTransport, tcp.ListenAddr())

	requests := make(chan proto.Message, 1)
	phone.AddMessageListener("/weather-req", func(msg proto.Message) { requests <- msg })

	events := make(chan []proto.DataEvent, 4)
	_, sub := watch.AddDataListener(func(ev []proto.DataEvent) { events <- ev })
	_, err := sub.Await(ctx)
	require.NoError(t, err)

	// the watch asks every peer for fresh weather
	nodes, err := watch.ConnectedNodes().Await(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "phone", nodes[0].DisplayName)

	_, err = watch.SendMessage(nodes[0].ID, "/weather-req", nil).Await(ctx)
	require.NoError(t, err)

	select {
	case req := <-requests:
		assert.Equal(t, "/weather-req", req.Path)
		assert.NotEmpty(t, req.Sender)
	case <-ctx.Done():
		t.Fatal("Phone never received the weather request")
	}

	_, err = phone.PutData("/weather", weatherData(500, 1), true).Await(ctx)
	require.NoError(t, err)

	select {
	case got := <-events:
		require.Len(t, got, 1)
		assert.Equal(t, proto.DataChanged, got[0].Type)
		assert.Equal(t, "/weather", got[0].Path)
		assert.Equal(t, 500, got[0].Data.GetInt("weather_id"))
	case <-ctx.Done():
		t.Fatal("Watch never received the weather record")
	}

	record, err := coord.Records.Get(ctx, "/weather")
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.GetLong("time"))
}

func TestRelay_WebSocketNodesSeeTCPNodes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	relay := NewRelay(RelayOptions{})
	tcp := NewTCPTransport("127.0.0.1:0")
	ws := NewWSTransport("127.0.0.1:0")
	relay.RegisterTransport(tcp)
	relay.RegisterTransport(ws)
	go relay.Start(ctx)
	<-tcp.Ready()
	<-ws.Ready()

	loop := link.NewLoop(nil)
	go loop.Run(ctx)

	openSession(t, ctx, loop, "phone", func() client.Transport { return client.NewTCPTransport() }, tcp.ListenAddr())
	watch := openSession(t, ctx, loop, "watch", func() client.Transport { return client.NewWebSocketTransport() }, "ws://"+ws.ListenAddr()+"/ws")

	nodes, err := watch.ConnectedNodes().Await(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "phone", nodes[0].DisplayName)
	assert.True(t, nodes[0].Nearby)
	require.Eventually(t, func() bool { return len(watch.Peers()) == 1 }, time.Second, 5*time.Millisecond)
}
