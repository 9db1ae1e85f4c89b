package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/auth"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel/whatsapp"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/config"
)

// testApp builds an App against a temp config dir with captured output.
func testApp(t *testing.T) (*App, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	t.Setenv("MYNDHYVE_CONFIG_DIR", t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)

	registry := channel.NewRegistry()
	registry.Register(whatsapp.New(zerolog.Nop()))

	store := auth.NewStore(cfg.CredentialsFile(), "", zerolog.Nop())
	app := NewApp("test", cfg, registry, store, zerolog.Nop())

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	app.out = stdout
	app.errOut = stderr
	return app, stdout, stderr
}

func TestStatusUnconfigured(t *testing.T) {
	app, stdout, _ := testApp(t)

	code := app.Execute([]string{"relay", "status"})
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout.String(), "not configured")
}

func TestStatusJSON(t *testing.T) {
	app, stdout, _ := testApp(t)
	require.NoError(t, app.Config.SaveRelay(&config.RelayConfig{
		Channel: "imessage",
		RelayID: "r-42",
		DeviceToken: &config.DeviceToken{
			Token:     "tok",
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}))

	code := app.Execute([]string{"relay", "status", "--json"})
	assert.Equal(t, ExitOK, code)

	var st relayStatus
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &st))
	assert.True(t, st.Configured)
	assert.Equal(t, "r-42", st.RelayID)
	assert.True(t, st.TokenValid)
	assert.False(t, st.DaemonRunning)
}

func TestStopWhenNotRunning(t *testing.T) {
	app, stdout, _ := testApp(t)

	code := app.Execute([]string{"relay", "stop"})
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout.String(), "not running")
}

func TestStartUnconfigured(t *testing.T) {
	app, _, stderr := testApp(t)

	code := app.Execute([]string{"relay", "start"})
	assert.Equal(t, ExitGeneral, code)
	assert.Contains(t, stderr.String(), "relay setup")
}

func TestSetupUnknownChannel(t *testing.T) {
	app, _, stderr := testApp(t)

	code := app.Execute([]string{"relay", "setup", "--channel", "telegram"})
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, stderr.String(), "telegram")
}

func TestSetupUnsupportedChannel(t *testing.T) {
	app, _, stderr := testApp(t)

	code := app.Execute([]string{"relay", "setup", "--channel", "whatsapp"})
	assert.Equal(t, ExitGeneral, code)
	assert.Contains(t, stderr.String(), "channel_unsupported")
}

func TestEnvelopeCreate(t *testing.T) {
	app, stdout, _ := testApp(t)

	code := app.Execute([]string{"dev", "envelope", "create", "--channel", "imessage", "--text", "hi"})
	assert.Equal(t, ExitOK, code)

	var env channel.IngressEnvelope
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &env))
	assert.Equal(t, channel.IMessage, env.Channel)
	assert.Equal(t, "hi", env.Text)
	assert.NoError(t, env.Validate())
}

func TestEnvelopeValidate(t *testing.T) {
	app, stdout, _ := testApp(t)

	path := filepath.Join(t.TempDir(), "env.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"channel": "imessage",
		"conversationId": "+15551234567",
		"text": "hello"
	}`), 0o600))

	code := app.Execute([]string{"dev", "envelope", "validate", path})
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout.String(), "egress")
}

func TestEnvelopeValidateInvalid(t *testing.T) {
	app, _, _ := testApp(t)

	path := filepath.Join(t.TempDir(), "env.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"channel": "nope", "peerId": "p"}`), 0o600))

	code := app.Execute([]string{"dev", "envelope", "validate", path})
	assert.Equal(t, ExitGeneral, code)
}

func TestEnvelopeValidateMissingFile(t *testing.T) {
	app, _, _ := testApp(t)

	code := app.Execute([]string{"dev", "envelope", "validate", filepath.Join(t.TempDir(), "nope.json")})
	assert.Equal(t, ExitNotFound, code)
}

func TestWebhookTest(t *testing.T) {
	app, stdout, _ := testApp(t)

	code := app.Execute([]string{"dev", "webhook", "test", "whatsapp", "--text", "hola"})
	assert.Equal(t, ExitOK, code)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &payload))
	assert.Equal(t, "whatsapp_business_account", payload["object"])
}

func TestWebhookTestBadChannel(t *testing.T) {
	app, _, _ := testApp(t)
	assert.Equal(t, ExitUsage, app.Execute([]string{"dev", "webhook", "test", "telegram"}))
}

func TestWebhookTestBadEvent(t *testing.T) {
	app, _, _ := testApp(t)
	assert.Equal(t, ExitUsage, app.Execute([]string{"dev", "webhook", "test", "slack", "--event", "typing"}))
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
	}))
	defer srv.Close()

	app, stdout, _ := testApp(t)
	app.Config.CloudURL = srv.URL

	code := app.Execute([]string{"dev", "ping"})
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout.String(), "reachable")
}

func TestPingUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	app, _, stderr := testApp(t)
	app.Config.CloudURL = srv.URL

	code := app.Execute([]string{"dev", "ping"})
	assert.Equal(t, ExitGeneral, code)
	assert.Contains(t, stderr.String(), "unreachable")
}

func TestErrorShapeJSON(t *testing.T) {
	app, _, stderr := testApp(t)

	code := app.Execute([]string{"relay", "start", "--json"})
	assert.Equal(t, ExitGeneral, code)

	var e Error
	require.NoError(t, json.Unmarshal(stderr.Bytes(), &e))
	assert.Equal(t, "not_configured", e.Code)
	assert.NotEmpty(t, e.Message)
	assert.Contains(t, e.Suggestion, "relay setup")
}

func TestQuietSuppressesText(t *testing.T) {
	app, stdout, _ := testApp(t)

	code := app.Execute([]string{"relay", "status", "--quiet"})
	assert.Equal(t, ExitOK, code)
	assert.Empty(t, stdout.String())
}
