package relay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
)

func TestStatusFor(t *testing.T) {
	assert.Equal(t, HeartbeatConnected, statusFor(channel.StatusConnected))
	assert.Equal(t, HeartbeatOffline, statusFor(channel.StatusDisconnected))
	assert.Equal(t, HeartbeatDegraded, statusFor(channel.StatusConnecting))
}

func newHeartbeatLoop(control ControlClient, status channel.Status, interval time.Duration) *heartbeatLoop {
	return &heartbeatLoop{
		client:   control,
		interval: interval,
		status:   func() channel.Status { return status },
		uptime:   func() time.Duration { return 90 * time.Second },
		logger:   zerolog.Nop(),
	}
}

func TestHeartbeatPayload(t *testing.T) {
	control := &fakeControl{}
	hb := newHeartbeatLoop(control, channel.StatusConnected, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hb.run(ctx) }()

	require.Eventually(t, func() bool {
		return len(control.snapshot().heartbeats) == 1
	}, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)

	beat := control.snapshot().heartbeats[0]
	assert.Equal(t, HeartbeatConnected, beat.Status)
	assert.Equal(t, int64(90), beat.UptimeSec)
	assert.Equal(t, channel.StatusConnected, beat.PlatformStatus)
}

func TestHeartbeatTransientFailureContinues(t *testing.T) {
	control := &fakeControl{
		heartbeatErrs: []error{&TransientError{Message: "gateway timeout", StatusCode: 504}},
	}
	hb := newHeartbeatLoop(control, channel.StatusConnected, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hb.run(ctx) }()

	// The first beat fails; later beats must still go out.
	require.Eventually(t, func() bool {
		return len(control.snapshot().heartbeats) >= 2
	}, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestHeartbeatTokenExpiryAborts(t *testing.T) {
	control := &fakeControl{
		heartbeatErrs: []error{fmt.Errorf("%w (status 401)", ErrDeviceTokenExpired)},
	}
	hb := newHeartbeatLoop(control, channel.StatusConnected, time.Millisecond)

	err := hb.run(context.Background())
	assert.ErrorIs(t, err, ErrDeviceTokenExpired)
	assert.Empty(t, control.snapshot().heartbeats)
}
