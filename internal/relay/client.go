// Package relay implements the cloud control plane: the typed HTTP client,
// the heartbeat and outbound-poll loops, and the supervisor that runs a
// channel plugin against them with reconnection backoff.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
)

const defaultTimeout = 15 * time.Second

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Registration is the cloud's answer to a register call. The activation
// code is short-lived and single-use.
type Registration struct {
	RelayID        string `json:"relayId"`
	ActivationCode string `json:"activationCode"`
}

// Activation carries the device token and the cloud-assigned loop intervals.
type Activation struct {
	DeviceToken                 string    `json:"deviceToken"`
	TokenExpiresAt              time.Time `json:"tokenExpiresAt"`
	HeartbeatIntervalSeconds    int       `json:"heartbeatIntervalSeconds"`
	OutboundPollIntervalSeconds int       `json:"outboundPollIntervalSeconds"`
}

// HeartbeatStatus is the agent-level health reported to the cloud.
type HeartbeatStatus string

const (
	HeartbeatConnected HeartbeatStatus = "connected"
	HeartbeatDegraded  HeartbeatStatus = "degraded"
	HeartbeatOffline   HeartbeatStatus = "offline"
)

// Heartbeat is one keepalive payload.
type Heartbeat struct {
	Status         HeartbeatStatus `json:"status"`
	UptimeSec      int64           `json:"uptimeSec"`
	PlatformStatus channel.Status  `json:"platformStatus"`
}

// OutboundItem is one unit of cloud-queued work to deliver.
type OutboundItem struct {
	WorkID   string                 `json:"workId"`
	Envelope channel.EgressEnvelope `json:"envelope"`
	Attempt  int                    `json:"attempt"`
}

// Ack completes a claimed work item.
type Ack struct {
	WorkID            string `json:"workId"`
	Success           bool   `json:"success"`
	PlatformMessageID string `json:"platformMessageId,omitempty"`
	Error             string `json:"error,omitempty"`
	Retryable         bool   `json:"retryable"`
}

// ControlClient is the slice of the control plane the loops depend on.
type ControlClient interface {
	Heartbeat(ctx context.Context, hb Heartbeat) error
	SendInbound(ctx context.Context, env channel.IngressEnvelope) error
	ClaimOutbound(ctx context.Context, max int) ([]OutboundItem, error)
	AckOutbound(ctx context.Context, ack Ack) error
}

// Config holds client settings. Zero values take defaults in New.
type Config struct {
	BaseURL        string
	RelayID        string
	DeviceToken    string
	TokenExpiresAt time.Time
	Timeout        time.Duration
}

// Client is the typed control-plane client. It knows the device token's
// expiry and refuses calls past it without touching the network.
type Client struct {
	cfg        Config
	httpClient HTTPClient
	logger     zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "relay").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc HTTPClient) {
	c.httpClient = hc
}

// Register creates a relay registration for the given channel, proving
// account ownership with the end-user token.
func (c *Client) Register(ctx context.Context, userToken string, ch channel.Channel, label string) (Registration, error) {
	var out Registration
	body := map[string]string{"channel": string(ch), "label": label}
	err := c.do(ctx, "/v1/relays", userToken, body, &out, false)
	return out, err
}

// Activate exchanges the single-use activation code for a device token.
func (c *Client) Activate(ctx context.Context, relayID, activationCode, cliVersion string) (Activation, error) {
	hostname, _ := os.Hostname()
	body := map[string]interface{}{
		"activationCode": activationCode,
		"cliVersion":     cliVersion,
		"deviceMeta": map[string]string{
			"hostname": hostname,
			"os":       runtime.GOOS,
			"arch":     runtime.GOARCH,
		},
	}
	var out Activation
	err := c.do(ctx, "/v1/relays/"+relayID+"/activate", "", body, &out, false)
	if err != nil {
		return out, err
	}
	if out.DeviceToken == "" {
		return out, &ProtocolError{StatusCode: 200, Message: "activation response missing deviceToken"}
	}
	return out, nil
}

// Heartbeat pushes the agent's status. The cloud marks the relay offline
// when beats stop arriving.
func (c *Client) Heartbeat(ctx context.Context, hb Heartbeat) error {
	return c.do(ctx, "/v1/relays/"+c.cfg.RelayID+"/heartbeat", c.cfg.DeviceToken, hb, nil, true)
}

// SendInbound forwards one ingress envelope. The cloud deduplicates on
// platformMessageId, so at-least-once from this side is safe.
func (c *Client) SendInbound(ctx context.Context, env channel.IngressEnvelope) error {
	if err := env.Validate(); err != nil {
		return fmt.Errorf("invalid ingress envelope: %w", err)
	}
	return c.do(ctx, "/v1/relays/"+c.cfg.RelayID+"/inbound", c.cfg.DeviceToken, env, nil, true)
}

// ClaimOutbound leases up to max queued work items.
func (c *Client) ClaimOutbound(ctx context.Context, max int) ([]OutboundItem, error) {
	var out struct {
		Items []OutboundItem `json:"items"`
	}
	body := map[string]int{"max": max}
	if err := c.do(ctx, "/v1/relays/"+c.cfg.RelayID+"/outbound/claim", c.cfg.DeviceToken, body, &out, true); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// AckOutbound completes a claimed work item with the delivery result.
func (c *Client) AckOutbound(ctx context.Context, ack Ack) error {
	return c.do(ctx, "/v1/relays/"+c.cfg.RelayID+"/outbound/ack", c.cfg.DeviceToken, ack, nil, true)
}

// tokenValid is the local expiry gate for device-token calls.
func (c *Client) tokenValid() error {
	if c.cfg.DeviceToken == "" {
		return fmt.Errorf("%w: no device token configured, run setup", ErrDeviceTokenExpired)
	}
	if !c.cfg.TokenExpiresAt.IsZero() && time.Now().After(c.cfg.TokenExpiresAt) {
		return fmt.Errorf("%w: expired %s", ErrDeviceTokenExpired, c.cfg.TokenExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// do executes one JSON round trip and maps the response onto the error
// taxonomy: 401 is token expiry on device calls and ErrUnauthorized
// otherwise, 429/5xx and network failures are transient, remaining 4xx and
// undecodable bodies are protocol errors.
func (c *Client) do(ctx context.Context, path, bearer string, in, out interface{}, deviceCall bool) error {
	if deviceCall {
		if err := c.tokenValid(); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransientError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorBody(resp.Body)
		switch {
		case resp.StatusCode == http.StatusUnauthorized && deviceCall:
			return fmt.Errorf("%w (status 401): %s", ErrDeviceTokenExpired, msg)
		case resp.StatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return &TransientError{StatusCode: resp.StatusCode, Message: msg}
		default:
			return &ProtocolError{StatusCode: resp.StatusCode, Message: msg}
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &ProtocolError{StatusCode: resp.StatusCode, Message: "decoding response: " + err.Error()}
		}
	}
	return nil
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 2048))
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "(empty body)"
	}
	return s
}
