package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL:        srv.URL,
		RelayID:        "r-1",
		DeviceToken:    "tok-1",
		TokenExpiresAt: time.Now().Add(time.Hour),
	}, zerolog.Nop())
	return c, srv
}

func TestRegister(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/relays", r.URL.Path)
		assert.Equal(t, "Bearer user-tok", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "imessage", body["channel"])
		assert.Equal(t, "my mac", body["label"])

		json.NewEncoder(w).Encode(Registration{RelayID: "r-1", ActivationCode: "code-1"})
	})

	reg, err := c.Register(context.Background(), "user-tok", channel.IMessage, "my mac")
	require.NoError(t, err)
	assert.Equal(t, "r-1", reg.RelayID)
	assert.Equal(t, "code-1", reg.ActivationCode)
}

func TestRegisterUnauthorized(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	})

	_, err := c.Register(context.Background(), "bad", channel.IMessage, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrDeviceTokenExpired, "register uses the user token, not the device token")
}

func TestActivate(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/relays/r-1/activate", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "code-1", body["activationCode"])
		meta, ok := body["deviceMeta"].(map[string]interface{})
		require.True(t, ok)
		assert.NotEmpty(t, meta["os"])

		json.NewEncoder(w).Encode(Activation{
			DeviceToken:                 "dev-tok",
			TokenExpiresAt:              time.Now().Add(24 * time.Hour).UTC(),
			HeartbeatIntervalSeconds:    30,
			OutboundPollIntervalSeconds: 5,
		})
	})

	act, err := c.Activate(context.Background(), "r-1", "code-1", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "dev-tok", act.DeviceToken)
	assert.Equal(t, 30, act.HeartbeatIntervalSeconds)
	assert.Equal(t, 5, act.OutboundPollIntervalSeconds)
}

func TestActivateMissingToken(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	})

	_, err := c.Activate(context.Background(), "r-1", "code-1", "1.0.0")
	var pe *ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestHeartbeat401IsTokenExpired(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	})

	err := c.Heartbeat(context.Background(), Heartbeat{Status: HeartbeatConnected})
	assert.ErrorIs(t, err, ErrDeviceTokenExpired)
}

func TestExpiredTokenRefusedLocally(t *testing.T) {
	called := false
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	c.cfg.TokenExpiresAt = time.Now().Add(-time.Minute)

	err := c.Heartbeat(context.Background(), Heartbeat{})
	assert.ErrorIs(t, err, ErrDeviceTokenExpired)
	assert.False(t, called, "no network I/O past the stored expiry")
}

func TestSendInboundValidates(t *testing.T) {
	called := false
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	err := c.SendInbound(context.Background(), channel.IngressEnvelope{Channel: channel.IMessage})
	assert.Error(t, err)
	assert.False(t, called, "invalid envelopes never reach the wire")
}

func TestSendInbound(t *testing.T) {
	var got channel.IngressEnvelope
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/relays/r-1/inbound", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	})

	env := channel.IngressEnvelope{
		Channel:           channel.IMessage,
		PlatformMessageID: "g-1",
		ConversationID:    "+15551234567",
		PeerID:            "+15551234567",
		Text:              "hi",
		Timestamp:         time.Now().UTC(),
	}
	require.NoError(t, c.SendInbound(context.Background(), env))
	assert.Equal(t, "g-1", got.PlatformMessageID)
	assert.Equal(t, "hi", got.Text)
}

func TestClaimOutbound(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/relays/r-1/outbound/claim", r.URL.Path)
		var body map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 10, body["max"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []OutboundItem{{
				WorkID:   "w-1",
				Envelope: channel.EgressEnvelope{Channel: channel.IMessage, ConversationID: "+1555", Text: "hello"},
				Attempt:  1,
			}},
		})
	})

	items, err := c.ClaimOutbound(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "w-1", items[0].WorkID)
	assert.Equal(t, "hello", items[0].Envelope.Text)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
		protocol  bool
	}{
		{"server error", 500, true, false},
		{"bad gateway", 502, true, false},
		{"rate limited", 429, true, false},
		{"bad request", 400, false, true},
		{"not found", 404, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tt.name, tt.status)
			})
			err := c.AckOutbound(context.Background(), Ack{WorkID: "w-1", Success: true})
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
			var pe *ProtocolError
			assert.Equal(t, tt.protocol, errors.As(err, &pe))
		})
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(Config{
		BaseURL:        srv.URL,
		RelayID:        "r-1",
		DeviceToken:    "tok-1",
		TokenExpiresAt: time.Now().Add(time.Hour),
	}, zerolog.Nop())

	err := c.Heartbeat(context.Background(), Heartbeat{})
	assert.True(t, IsTransient(err))
}
