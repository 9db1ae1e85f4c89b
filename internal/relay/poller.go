package relay

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/metrics"
)

const defaultClaimMax = 10

// outboundPoller claims cloud-queued work items, delivers each through the
// channel plugin, and acknowledges the result. Deliveries within one tick
// are sequential so replies to the same conversation keep their order.
type outboundPoller struct {
	client   ControlClient
	plugin   channel.Plugin
	interval time.Duration
	claimMax int
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// run polls until ctx is cancelled (nil return) or the device token
// expires (error return). Transient claim and ack failures are logged and
// the next tick proceeds normally.
func (p *outboundPoller) run(ctx context.Context) error {
	max := p.claimMax
	if max <= 0 {
		max = defaultClaimMax
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := p.tick(ctx, max); err != nil {
			return err
		}
	}
}

func (p *outboundPoller) tick(ctx context.Context, max int) error {
	items, err := p.client.ClaimOutbound(ctx, max)
	if err != nil {
		if errors.Is(err, ErrDeviceTokenExpired) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		p.metrics.RecordClaimError()
		p.logger.Warn().Err(err).Msg("Outbound claim failed")
		return nil
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return nil
		}
		if err := p.dispatch(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// dispatch delivers one work item and acks it with the plugin's result.
// Ack failures other than token expiry are best-effort: the cloud will see
// the item unacked and may re-dispatch it.
func (p *outboundPoller) dispatch(ctx context.Context, item OutboundItem) error {
	result := p.plugin.Deliver(ctx, item.Envelope)

	evt := p.logger.Debug()
	status := "ok"
	if !result.Success {
		evt = p.logger.Warn()
		status = "failed"
	}
	p.metrics.RecordOutbound(string(item.Envelope.Channel), status)
	evt.Str("work_id", item.WorkID).
		Int("attempt", item.Attempt).
		Bool("success", result.Success).
		Bool("retryable", result.Retryable).
		Str("error", result.Error).
		Msg("Outbound delivery")

	ack := Ack{
		WorkID:            item.WorkID,
		Success:           result.Success,
		PlatformMessageID: result.PlatformMessageID,
		Error:             result.Error,
		Retryable:         result.Retryable,
	}
	if err := p.client.AckOutbound(ctx, ack); err != nil {
		if errors.Is(err, ErrDeviceTokenExpired) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		p.logger.Warn().Err(err).Str("work_id", item.WorkID).Msg("Outbound ack failed")
	}
	return nil
}
