package relay

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/metrics"
)

// statusFor maps the plugin's connection state to the agent-level status
// reported on each heartbeat.
func statusFor(ps channel.Status) HeartbeatStatus {
	switch ps {
	case channel.StatusConnected:
		return HeartbeatConnected
	case channel.StatusDisconnected:
		return HeartbeatOffline
	default:
		return HeartbeatDegraded
	}
}

// heartbeatLoop pushes periodic keepalives to the cloud. A missed beat is
// logged and the loop continues; a token expiry aborts it.
type heartbeatLoop struct {
	client   ControlClient
	interval time.Duration
	status   func() channel.Status
	uptime   func() time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// run sends the first heartbeat immediately, then one per interval, until
// ctx is cancelled (nil return) or the device token expires (error return).
func (h *heartbeatLoop) run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := h.beat(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (h *heartbeatLoop) beat(ctx context.Context) error {
	ps := h.status()
	hb := Heartbeat{
		Status:         statusFor(ps),
		UptimeSec:      int64(h.uptime().Seconds()),
		PlatformStatus: ps,
	}

	err := h.client.Heartbeat(ctx, hb)
	switch {
	case err == nil:
		h.metrics.RecordHeartbeat("ok")
		h.logger.Debug().Str("status", string(hb.Status)).Int64("uptime_sec", hb.UptimeSec).Msg("Heartbeat sent")
	case errors.Is(err, ErrDeviceTokenExpired):
		h.metrics.RecordHeartbeat("token_expired")
		return err
	case ctx.Err() != nil:
		return nil
	default:
		h.metrics.RecordHeartbeat("error")
		h.logger.Warn().Err(err).Msg("Heartbeat failed")
	}
	return nil
}
