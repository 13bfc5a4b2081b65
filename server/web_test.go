package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeb_HealthNodesRecords(t *testing.T) {
	coord, mt := newTestRelay(t)
	phone := connectNode(t, mt, "phone")
	request(t, mt, phone, putMsg(t, "/weather", weatherData(800, 1), true))

	srv := httptest.NewServer(coord.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, 1.0, health["nodes"])

	resp, err = http.Get(srv.URL + "/nodes")
	require.NoError(t, err)
	var nodes []nodeView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&nodes))
	resp.Body.Close()
	require.Len(t, nodes, 1)
	assert.Equal(t, "phone", nodes[0].Name)
	assert.Equal(t, "memory", nodes[0].Transport)
	assert.True(t, nodes[0].Identified)

	resp, err = http.Get(srv.URL + "/records")
	require.NoError(t, err)
	var records []Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	resp.Body.Close()
	require.Len(t, records, 1)
	assert.Equal(t, "/weather", records[0].Path)

	resp, err = http.Get(srv.URL + "/records/weather")
	require.NoError(t, err)
	var record Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&record))
	resp.Body.Close()
	assert.Equal(t, 800, record.Data.GetInt("weather_id"))

	resp, err = http.Get(srv.URL + "/records/nothing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWeb_Metrics(t *testing.T) {
	coord, mt := newTestRelay(t)
	connectNode(t, mt, "watch")

	srv := httptest.NewServer(coord.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Contains(t, string(body), "wearlink_connected_nodes 1")
	assert.Contains(t, string(body), `wearlink_messages_total{type="identify"} 1`)
}

func TestWeb_EventsStream(t *testing.T) {
	coord, mt := newTestRelay(t)
	phone := connectNode(t, mt, "phone")

	srv := httptest.NewServer(coord.Routes())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	// the greeting comment arrives once the stream is subscribed
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.Eventually(t, func() bool { return coord.Broker.Len() == 1 }, time.Second, 5*time.Millisecond)
	request(t, mt, phone, putMsg(t, "/weather", weatherData(800, 1), true))

	var event, data string
	for event == "" || data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, "data_changed", event)
	assert.Contains(t, data, `"path":"/weather"`)
}
