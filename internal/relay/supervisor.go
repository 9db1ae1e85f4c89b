package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/metrics"
	"github.com/myndhyve/myndhyve-cli-sub001/pkg/backoff"
)

// errChannelStopped marks a plugin Start that returned cleanly while the
// supervisor still wanted it running (a Logout from another goroutine).
var errChannelStopped = errors.New("channel stopped")

// SupervisorConfig tunes the reconnection loop. Zero values take defaults
// in NewSupervisor.
type SupervisorConfig struct {
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	ClaimMax          int
	Backoff           backoff.Config
	// StableReset is how long a session must stay up before the next
	// disconnect restarts the backoff schedule from attempt one.
	StableReset time.Duration
}

// Snapshot is the supervisor state exposed to heartbeats, the status
// command, and the admin endpoint.
type Snapshot struct {
	Channel      channel.Channel `json:"channel"`
	PluginStatus channel.Status  `json:"pluginStatus"`
	Running      bool            `json:"running"`
	UptimeSec    int64           `json:"uptimeSec"`
	Attempt      int             `json:"attempt"`
	LastError    string          `json:"lastError,omitempty"`
}

// Supervisor runs one channel plugin against the cloud control plane: the
// plugin's inbound pump, the heartbeat loop, and the outbound poller share
// one cancellation scope per connection attempt, and transient failures
// reconnect with capped exponential backoff.
type Supervisor struct {
	cfg     SupervisorConfig
	client  ControlClient
	plugin  channel.Plugin
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
	started time.Time
	attempt int
	lastErr string
}

func NewSupervisor(cfg SupervisorConfig, client ControlClient, plugin channel.Plugin, m *metrics.Metrics, logger zerolog.Logger) *Supervisor {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ClaimMax == 0 {
		cfg.ClaimMax = defaultClaimMax
	}
	if cfg.Backoff == (backoff.Config{}) {
		cfg.Backoff = backoff.DefaultConfig()
	}
	if cfg.StableReset == 0 {
		cfg.StableReset = 60 * time.Second
	}
	return &Supervisor{
		cfg:     cfg,
		client:  client,
		plugin:  plugin,
		metrics: m,
		logger:  logger.With().Str("component", "supervisor").Logger(),
	}
}

// Snapshot returns the current supervisor state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Channel:      s.plugin.Info().Channel,
		PluginStatus: s.plugin.Status(),
		Running:      s.running,
		Attempt:      s.attempt,
		LastError:    s.lastErr,
	}
	if s.running {
		snap.UptimeSec = int64(time.Since(s.started).Seconds())
	}
	return snap
}

func (s *Supervisor) uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return time.Since(s.started)
}

// Run checks the plugin's preconditions and then keeps the connection
// alive until ctx is cancelled. Device-token expiry is fatal and returned;
// everything else reconnects until MaxAttempts is exhausted.
func (s *Supervisor) Run(ctx context.Context) error {
	info := s.plugin.Info()
	if !info.Supported {
		return fmt.Errorf("%w: %s", channel.ErrUnsupported, info.UnsupportedReason)
	}
	if !s.plugin.IsAuthenticated(ctx) {
		return fmt.Errorf("%w: %s login required", channel.ErrNotAuthenticated, info.Channel)
	}

	s.mu.Lock()
	s.running = true
	s.started = time.Now()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info().Str("channel", string(info.Channel)).Msg("Relay supervisor starting")

	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		tryStartedAt := time.Now()
		err := s.runOnce(ctx)

		switch {
		case ctx.Err() != nil:
			s.logger.Info().Msg("Relay supervisor stopped")
			return nil
		case errors.Is(err, ErrDeviceTokenExpired):
			s.setLastError(err)
			s.logger.Error().Err(err).Msg("Device token expired, run `myndhyve relay setup` to re-activate")
			return err
		case errors.Is(err, errChannelStopped):
			s.logger.Info().Msg("Channel stopped, supervisor exiting")
			return nil
		}

		s.setLastError(err)

		// A session that stayed up past StableReset earns a fresh
		// backoff schedule.
		if time.Since(tryStartedAt) > s.cfg.StableReset {
			attempt = 0
		}
		attempt++
		s.mu.Lock()
		s.attempt = attempt
		s.mu.Unlock()

		if s.cfg.Backoff.MaxAttemptsReached(attempt) {
			return fmt.Errorf("giving up after %d reconnect attempts: %w", attempt, err)
		}

		delay := s.cfg.Backoff.Delay(attempt)
		s.metrics.RecordReconnect()
		s.logger.Warn().Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Connection lost, reconnecting")
		if backoff.Sleep(ctx, delay) != nil {
			return nil
		}
	}
}

// runOnce runs one connection attempt: plugin pump, heartbeats, and the
// outbound poller under a shared cancellation scope. The first failing
// task cancels its siblings; token expiry discovered on the inbound path
// is promoted the same way.
func (s *Supervisor) runOnce(ctx context.Context) error {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fatalCh := make(chan error, 1)
	onInbound := s.inboundForwarder(fatalCh, cancel)

	g, gctx := errgroup.WithContext(attemptCtx)

	g.Go(func() error {
		err := s.plugin.Start(gctx, onInbound)
		if err == nil && gctx.Err() == nil {
			return errChannelStopped
		}
		return err
	})

	hb := &heartbeatLoop{
		client:   s.client,
		interval: s.cfg.HeartbeatInterval,
		status:   s.observedStatus,
		uptime:   s.uptime,
		metrics:  s.metrics,
		logger:   s.logger,
	}
	g.Go(func() error { return hb.run(gctx) })

	poller := &outboundPoller{
		client:   s.client,
		plugin:   s.plugin,
		interval: s.cfg.PollInterval,
		claimMax: s.cfg.ClaimMax,
		metrics:  s.metrics,
		logger:   s.logger,
	}
	g.Go(func() error { return poller.run(gctx) })

	err := g.Wait()
	select {
	case fatal := <-fatalCh:
		return fatal
	default:
	}
	return err
}

// inboundForwarder builds the plugin callback: validate-and-forward to the
// cloud, swallowing per-message failures so inbound error storms never
// stall the platform reader. Token expiry is the one promoted condition.
func (s *Supervisor) inboundForwarder(fatalCh chan error, cancel context.CancelFunc) channel.InboundFunc {
	return func(ctx context.Context, env channel.IngressEnvelope) error {
		err := s.client.SendInbound(ctx, env)
		if err == nil {
			s.metrics.RecordInbound(string(env.Channel), "ok")
			s.logger.Debug().
				Str("message_id", env.PlatformMessageID).
				Str("conversation", env.ConversationID).
				Msg("Inbound forwarded")
			return nil
		}

		s.metrics.RecordInbound(string(env.Channel), "failed")
		if errors.Is(err, ErrDeviceTokenExpired) {
			select {
			case fatalCh <- err:
			default:
			}
			cancel()
		}
		return err
	}
}

// observedStatus also mirrors the plugin state into the metrics gauge so
// the heartbeat cadence doubles as the gauge refresh.
func (s *Supervisor) observedStatus() channel.Status {
	st := s.plugin.Status()
	s.metrics.SetConnectionStatus(float64(st))
	return st
}

func (s *Supervisor) setLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err.Error()
	}
}
