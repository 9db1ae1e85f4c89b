package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/metrics"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/relay"
)

func testServer(snap relay.Snapshot, m *metrics.Metrics) *Server {
	return NewServer(0, func() relay.Snapshot { return snap }, m, "1.2.3", zerolog.Nop())
}

func TestHealthz(t *testing.T) {
	s := testServer(relay.Snapshot{}, nil)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
}

func TestReadyzConnected(t *testing.T) {
	s := testServer(relay.Snapshot{
		Channel:      channel.IMessage,
		Running:      true,
		PluginStatus: channel.StatusConnected,
	}, nil)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyzNotReady(t *testing.T) {
	cases := map[string]relay.Snapshot{
		"not running":  {PluginStatus: channel.StatusConnected},
		"connecting":   {Running: true, PluginStatus: channel.StatusConnecting},
		"disconnected": {Running: true, PluginStatus: channel.StatusDisconnected},
	}
	for name, snap := range cases {
		resp, err := testServer(snap, nil).App().Test(httptest.NewRequest(http.MethodGet, "/readyz", nil))
		require.NoError(t, err, name)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, name)
		resp.Body.Close()
	}
}

func TestStatusSnapshot(t *testing.T) {
	s := testServer(relay.Snapshot{
		Channel:      channel.Slack,
		Running:      true,
		PluginStatus: channel.StatusConnected,
		UptimeSec:    42,
		Attempt:      1,
		LastError:    "transient: boom",
	}, nil)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/status", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap relay.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, channel.Slack, snap.Channel)
	assert.Equal(t, int64(42), snap.UptimeSec)
	assert.Equal(t, "transient: boom", snap.LastError)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.RecordHeartbeat("connected")

	s := testServer(relay.Snapshot{}, m)
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "relay_heartbeats_total")
}

func TestMetricsAbsentWithoutCollector(t *testing.T) {
	s := testServer(relay.Snapshot{}, nil)
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
