// Package signal declares the Signal channel. The device-link transport
// does not ship in this build, so the adapter reports itself unsupported
// while still satisfying the plugin contract.
package signal

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
)

const unsupportedReason = "Signal device linking is not available in this build"

type Adapter struct {
	logger zerolog.Logger
	status channel.StatusVar
}

func New(logger zerolog.Logger) *Adapter {
	return &Adapter{logger: logger.With().Str("component", "signal").Logger()}
}

func (a *Adapter) Info() channel.Info {
	return channel.Info{
		Channel:           channel.Signal,
		DisplayName:       "Signal",
		Supported:         false,
		UnsupportedReason: unsupportedReason,
	}
}

func (a *Adapter) Login(ctx context.Context) error {
	return fmt.Errorf("%w: %s", channel.ErrUnsupported, unsupportedReason)
}

func (a *Adapter) IsAuthenticated(ctx context.Context) bool { return false }

func (a *Adapter) Start(ctx context.Context, onInbound channel.InboundFunc) error {
	return fmt.Errorf("%w: %s", channel.ErrUnsupported, unsupportedReason)
}

func (a *Adapter) Deliver(ctx context.Context, env channel.EgressEnvelope) channel.DeliveryResult {
	return channel.DeliveryResult{Success: false, Error: unsupportedReason, Retryable: false}
}

func (a *Adapter) Status() channel.Status { return a.status.Get() }

func (a *Adapter) Logout() error { return nil }
