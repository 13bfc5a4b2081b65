package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wearlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDecode_Defaults(t *testing.T) {
	cfg, err := Decode(New())
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "0.0.0.0:8888", cfg.Relay.TCPAddr)
	assert.Equal(t, time.Second, cfg.Relay.BatchInterval)
	assert.Equal(t, 16, cfg.Relay.MaxClients)
	assert.Equal(t, "tcp", cfg.Node.Transport)
	assert.Equal(t, 3, cfg.Node.MaxRetries)
	assert.Equal(t, "94043", cfg.Phone.Location)
	assert.Zero(t, cfg.Phone.ConnectTimeout, "the link wait is unbounded by default")
	assert.Equal(t, 32, cfg.Phone.QueueSize)
	assert.False(t, cfg.Watch.Hour24)
}

func TestDecode_EnvOverrides(t *testing.T) {
	t.Setenv("WEARLINK_PHONE_LOCATION", "Oslo")
	t.Setenv("WEARLINK_RELAY_BATCH_INTERVAL", "250ms")
	t.Setenv("WEARLINK_NODE_TRANSPORT", "websocket")
	t.Setenv("WEARLINK_RELAY_REDIS_ADDR", "localhost:6379")

	cfg, err := Decode(New())
	require.NoError(t, err)
	assert.Equal(t, "Oslo", cfg.Phone.Location)
	assert.Equal(t, 250*time.Millisecond, cfg.Relay.BatchInterval)
	assert.Equal(t, "websocket", cfg.Node.Transport)
	assert.Equal(t, "localhost:6379", cfg.Relay.Redis.Addr)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
phone:
  location: Paris
  connect_timeout: 5s
  forecasts:
    - day_offset: 0
      weather_id: 800
      short_desc: Clear
      max_temp: 25
      min_temp: 15
    - location: Oslo
      day_offset: 1
      weather_id: 601
      max_temp: -2
      min_temp: -10
watch:
  hour24: true
  time_zone: Europe/Paris
`)

	cfg, v, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, v.ConfigFileUsed())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "Paris", cfg.Phone.Location)
	assert.Equal(t, 5*time.Second, cfg.Phone.ConnectTimeout)
	require.Len(t, cfg.Phone.Forecasts, 2)
	assert.Equal(t, 800, cfg.Phone.Forecasts[0].WeatherID)
	assert.Equal(t, "Oslo", cfg.Phone.Forecasts[1].Location)
	assert.Equal(t, -10.0, cfg.Phone.Forecasts[1].MinTemp)

	zone, err := cfg.Watch.Zone()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", zone.String())
}

func TestLoad_MissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"format":    "WEARLINK_LOG_FORMAT=xml",
		"level":     "WEARLINK_LOG_LEVEL=loud",
		"transport": "WEARLINK_NODE_TRANSPORT=carrier-pigeon",
		"batch":     "WEARLINK_RELAY_BATCH_INTERVAL=0s",
		"timeout":   "WEARLINK_PHONE_CONNECT_TIMEOUT=-1s",
		"location":  "WEARLINK_PHONE_LOCATION= ",
		"zone":      "WEARLINK_WATCH_TIME_ZONE=Mars/Olympus",
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			key, val, _ := strings.Cut(env, "=")
			t.Setenv(key, val)
			_, err := Decode(New())
			assert.Error(t, err)
		})
	}
}

func TestHandleChange_ReloadsConfig(t *testing.T) {
	path := writeConfig(t, "phone:\n  location: Paris\n")
	_, v, err := Load(path)
	require.NoError(t, err)

	var got []*Config
	onChange := func(c *Config) { got = append(got, c) }

	require.NoError(t, os.WriteFile(path, []byte("phone:\n  location: Oslo\n"), 0o600))
	require.NoError(t, v.ReadInConfig())
	handleChange(v, fsnotify.Event{Name: path, Op: fsnotify.Write}, onChange)
	require.Len(t, got, 1)
	assert.Equal(t, "Oslo", got[0].Phone.Location)

	// attribute-only events are not edits
	handleChange(v, fsnotify.Event{Name: path, Op: fsnotify.Chmod}, onChange)
	assert.Len(t, got, 1)

	// an invalid edit keeps the previous config
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: xml\n"), 0o600))
	require.NoError(t, v.ReadInConfig())
	handleChange(v, fsnotify.Event{Name: path, Op: fsnotify.Write}, onChange)
	assert.Len(t, got, 1)
}

func TestWatch_NoFileIsNoop(t *testing.T) {
	called := false
	Watch(New(), func(*Config) { called = true })
	assert.False(t, called)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("Relay started", "addr", "127.0.0.1:8888")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Relay started", entry["msg"])
	assert.Equal(t, "127.0.0.1:8888", entry["addr"])

	buf.Reset()
	text, err := NewLogger(LogConfig{Level: "debug", Format: "text"}, &buf)
	require.NoError(t, err)
	text.Debug("visible", "k", "v")
	assert.Contains(t, buf.String(), "msg=visible k=v")

	_, err = NewLogger(LogConfig{Level: "nope", Format: "text"}, &buf)
	assert.Error(t, err)
}
