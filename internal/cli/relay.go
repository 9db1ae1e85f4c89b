package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/admin"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/auth"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/config"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/daemon"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/metrics"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/relay"
	"github.com/myndhyve/myndhyve-cli-sub001/pkg/backoff"
)

func (a *App) relayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Manage the messaging relay",
	}
	cmd.AddCommand(a.relaySetupCmd())
	cmd.AddCommand(a.relayStartCmd())
	cmd.AddCommand(a.relayStopCmd())
	cmd.AddCommand(a.relayStatusCmd())
	return cmd
}

func (a *App) relaySetupCmd() *cobra.Command {
	var channelFlag, label string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register this machine as a relay and activate its device token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSetup(cmd.Context(), channelFlag, label)
		},
	}
	cmd.Flags().StringVar(&channelFlag, "channel", "", "channel to bridge (imessage, slack, whatsapp, signal)")
	cmd.Flags().StringVar(&label, "label", "", "human-readable label for this relay")
	cmd.MarkFlagRequired("channel")
	return cmd
}

func (a *App) runSetup(ctx context.Context, channelFlag, label string) error {
	ch, err := channel.Parse(channelFlag)
	if err != nil {
		return NewError("unknown_channel", err.Error(),
			"valid channels: imessage, slack, whatsapp, signal").WithExit(ExitUsage)
	}
	plugin, ok := a.Registry.Get(ch)
	if !ok {
		return NewError("unknown_channel", fmt.Sprintf("no plugin for channel %q", ch), "")
	}
	info := plugin.Info()
	if !info.Supported {
		return NewError("channel_unsupported", info.UnsupportedReason, "")
	}

	if !plugin.IsAuthenticated(ctx) {
		a.note("Logging in to %s...", info.DisplayName)
		if err := plugin.Login(ctx); err != nil {
			return NewError("channel_login_failed", err.Error(), "")
		}
	}

	userToken, err := a.Auth.Token(ctx)
	if err != nil {
		return NewError("not_authenticated", err.Error(),
			"run `myndhyve login` first").WithExit(ExitUnauthorized)
	}

	client := relay.NewClient(relay.Config{BaseURL: a.Config.CloudURL}, a.Logger)

	reg, err := client.Register(ctx, userToken, ch, label)
	if err != nil {
		return a.setupError("registration failed", err)
	}
	a.note("Relay %s registered, activating...", reg.RelayID)

	act, err := client.Activate(ctx, reg.RelayID, reg.ActivationCode, a.Version)
	if err != nil {
		return a.setupError("activation failed", err)
	}

	rc := &config.RelayConfig{
		Channel: string(ch),
		RelayID: reg.RelayID,
		Label:   label,
		DeviceToken: &config.DeviceToken{
			Token:                   act.DeviceToken,
			ExpiresAt:               act.TokenExpiresAt,
			HeartbeatIntervalSec:    act.HeartbeatIntervalSeconds,
			OutboundPollIntervalSec: act.OutboundPollIntervalSeconds,
		},
	}
	if err := a.Config.SaveRelay(rc); err != nil {
		return NewError("config_write_failed", err.Error(), "")
	}

	a.print(rc, fmt.Sprintf("Relay configured: %s (%s)\nStart it with `myndhyve relay start --daemon`.",
		reg.RelayID, info.DisplayName))
	return nil
}

func (a *App) setupError(what string, err error) *Error {
	if errors.Is(err, relay.ErrUnauthorized) || errors.Is(err, auth.ErrNotAuthenticated) {
		return NewError("unauthorized", fmt.Sprintf("%s: %v", what, err),
			"run `myndhyve login` and try again").WithExit(ExitUnauthorized)
	}
	return NewError("setup_failed", fmt.Sprintf("%s: %v", what, err), "")
}

func (a *App) relayStartCmd() *cobra.Command {
	var daemonize, foreground, verbose bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the relay supervisor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if daemonize && !foreground {
				return a.spawnDaemon(verbose)
			}
			return a.runRelay(cmd.Context(), verbose)
		},
	}
	cmd.Flags().BoolVar(&daemonize, "daemon", false, "run detached in the background")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "run attached (set by the daemon spawner)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug-level logging")
	cmd.Flags().MarkHidden("foreground")
	return cmd
}

func (a *App) spawnDaemon(verbose bool) error {
	if err := a.Config.EnsureDir(); err != nil {
		return NewError("config_dir_failed", err.Error(), "")
	}
	mgr := daemon.New(a.Config.PIDFile(), a.Config.LogFile(), a.Logger)
	pid, err := mgr.Spawn(verbose)
	if err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return NewError("already_running", err.Error(),
				"stop it first with `myndhyve relay stop`")
		}
		return NewError("spawn_failed", err.Error(), "")
	}
	a.print(map[string]interface{}{"pid": pid, "log": mgr.LogFile()},
		fmt.Sprintf("Relay daemon started (pid %d), logs at %s", pid, mgr.LogFile()))
	return nil
}

func (a *App) runRelay(ctx context.Context, verbose bool) error {
	if verbose {
		a.Logger = a.Logger.Level(zerolog.DebugLevel)
	}

	rc, err := a.Config.LoadRelay()
	if err != nil {
		return NewError("config_invalid", err.Error(), "fix or delete "+a.Config.ConfigFile())
	}
	if !rc.Configured() {
		return NewError("not_configured", "relay not configured or device token expired",
			"run `myndhyve relay setup`")
	}

	plugin, ok := a.Registry.Get(channel.Channel(rc.Channel))
	if !ok {
		return NewError("unknown_channel", fmt.Sprintf("no plugin for channel %q", rc.Channel), "")
	}

	tok := rc.DeviceToken
	client := relay.NewClient(relay.Config{
		BaseURL:        a.Config.CloudURL,
		RelayID:        rc.RelayID,
		DeviceToken:    tok.Token,
		TokenExpiresAt: tok.ExpiresAt,
	}, a.Logger)

	bo := backoff.DefaultConfig()
	bo.MaxAttempts = a.Config.ReconnectMaxAttempts

	m := metrics.New()
	sup := relay.NewSupervisor(relay.SupervisorConfig{
		HeartbeatInterval: time.Duration(tok.HeartbeatIntervalSec) * time.Second,
		PollInterval:      time.Duration(tok.OutboundPollIntervalSec) * time.Second,
		Backoff:           bo,
		StableReset:       a.Config.StableReset,
	}, client, plugin, m, a.Logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var interrupted atomic.Bool
	go func() {
		sig, open := <-sigCh
		if !open {
			return
		}
		if sig == syscall.SIGINT {
			interrupted.Store(true)
		}
		a.Logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		cancel()
	}()

	if a.Config.AdminPort > 0 {
		adminSrv := admin.NewServer(a.Config.AdminPort, sup.Snapshot, m, a.Version, a.Logger)
		go func() {
			if err := adminSrv.Start(); err != nil {
				a.Logger.Error().Err(err).Msg("Admin endpoint failed")
			}
		}()
		defer adminSrv.Shutdown()
	}

	err = sup.Run(runCtx)
	switch {
	case interrupted.Load():
		return (&Error{Code: "interrupted", Message: "interrupted"}).WithExit(ExitInterrupt)
	case err == nil:
		return nil
	case errors.Is(err, relay.ErrDeviceTokenExpired):
		return NewError("device_token_expired", "device token expired",
			"run `myndhyve relay setup` to re-activate")
	case errors.Is(err, channel.ErrUnsupported):
		return NewError("channel_unsupported", err.Error(), "")
	case errors.Is(err, channel.ErrNotAuthenticated):
		return NewError("channel_not_authenticated", err.Error(),
			fmt.Sprintf("log in to %s and try again", rc.Channel))
	default:
		return NewError("relay_failed", err.Error(), "")
	}
}

func (a *App) relayStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the relay daemon",
		RunE: func(*cobra.Command, []string) error {
			mgr := daemon.New(a.Config.PIDFile(), a.Config.LogFile(), a.Logger)
			stopped, err := mgr.Stop()
			if err != nil {
				return NewError("stop_failed", err.Error(), "")
			}
			if stopped {
				a.print(map[string]bool{"stopped": true}, "Relay daemon stopped.")
			} else {
				a.print(map[string]bool{"stopped": false}, "Relay daemon is not running.")
			}
			return nil
		},
	}
}

// relayStatus is the `relay status` output shape.
type relayStatus struct {
	Configured     bool      `json:"configured"`
	Channel        string    `json:"channel,omitempty"`
	RelayID        string    `json:"relayId,omitempty"`
	Label          string    `json:"label,omitempty"`
	TokenValid     bool      `json:"tokenValid"`
	TokenExpiresAt time.Time `json:"tokenExpiresAt,omitempty"`
	DaemonRunning  bool      `json:"daemonRunning"`
	DaemonPID      int       `json:"daemonPid,omitempty"`
}

func (a *App) relayStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show relay configuration and daemon liveness",
		RunE: func(*cobra.Command, []string) error {
			st := relayStatus{}
			if rc, err := a.Config.LoadRelay(); err == nil {
				st.Configured = rc.Configured()
				st.Channel = rc.Channel
				st.RelayID = rc.RelayID
				st.Label = rc.Label
				if rc.DeviceToken != nil {
					st.TokenValid = rc.DeviceToken.Valid(time.Now())
					st.TokenExpiresAt = rc.DeviceToken.ExpiresAt
				}
			}
			mgr := daemon.New(a.Config.PIDFile(), a.Config.LogFile(), a.Logger)
			st.DaemonPID, st.DaemonRunning = mgr.Pid()

			a.print(st, a.formatStatus(st))
			return nil
		},
	}
}

func (a *App) formatStatus(st relayStatus) string {
	if !st.Configured {
		return "Relay: not configured (run `myndhyve relay setup`)"
	}
	run := "stopped"
	if st.DaemonRunning {
		run = fmt.Sprintf("running (pid %d)", st.DaemonPID)
	}
	tok := "valid"
	if !st.TokenValid {
		tok = "expired"
	}
	return fmt.Sprintf("Relay:   %s (%s)\nChannel: %s\nToken:   %s, expires %s\nDaemon:  %s",
		st.RelayID, st.Label, st.Channel, tok, st.TokenExpiresAt.Format(time.RFC3339), run)
}
