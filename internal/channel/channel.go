// Package channel defines the contract every messaging-platform adapter
// implements, the envelope types that cross the agent/cloud boundary, and
// the registry the supervisor resolves plugins from.
package channel

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Channel identifies a bridged messaging platform.
type Channel string

const (
	WhatsApp Channel = "whatsapp"
	Signal   Channel = "signal"
	IMessage Channel = "imessage"
	Slack    Channel = "slack"
)

// Channels returns the closed set of known channel tags.
func Channels() []Channel {
	return []Channel{WhatsApp, Signal, IMessage, Slack}
}

// Valid reports whether c is a member of the known set.
func (c Channel) Valid() bool {
	switch c {
	case WhatsApp, Signal, IMessage, Slack:
		return true
	}
	return false
}

// Parse converts a user-supplied string into a channel tag.
func Parse(s string) (Channel, error) {
	c := Channel(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown channel %q", s)
	}
	return c, nil
}

// Status is a plugin's connection state. The zero value is disconnected.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MarshalText renders the status as its wire string.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the wire string back into a status. Unknown values
// read as disconnected.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "connecting":
		*s = StatusConnecting
	case "connected":
		*s = StatusConnected
	default:
		*s = StatusDisconnected
	}
	return nil
}

// StatusVar is an atomic status cell. The plugin's run goroutine writes it;
// the heartbeat loop reads it.
type StatusVar struct {
	v atomic.Int32
}

func (s *StatusVar) Set(st Status) { s.v.Store(int32(st)) }
func (s *StatusVar) Get() Status   { return Status(s.v.Load()) }

// Info describes a plugin's identity and platform support.
type Info struct {
	Channel           Channel `json:"channel"`
	DisplayName       string  `json:"displayName"`
	Supported         bool    `json:"supported"`
	UnsupportedReason string  `json:"unsupportedReason,omitempty"`
}

// InboundFunc receives one accepted ingress envelope. The adapter awaits it
// before processing the next message so source order is preserved.
type InboundFunc func(ctx context.Context, env IngressEnvelope) error

// Plugin is the capability set every platform adapter implements.
//
// Start runs the adapter's message pump until ctx is cancelled or a fatal
// error occurs; cancellation through ctx is a clean nil return. Logout
// cancels a running Start through the adapter's internal scope. Deliver
// never returns a Go error: every failure is encoded in the result.
type Plugin interface {
	Info() Info
	Login(ctx context.Context) error
	IsAuthenticated(ctx context.Context) bool
	Start(ctx context.Context, onInbound InboundFunc) error
	Deliver(ctx context.Context, env EgressEnvelope) DeliveryResult
	Status() Status
	Logout() error
}

// DeliveryResult reports one outbound send attempt.
type DeliveryResult struct {
	Success           bool   `json:"success"`
	PlatformMessageID string `json:"platformMessageId,omitempty"`
	Error             string `json:"error,omitempty"`
	Retryable         bool   `json:"retryable"`
}

// NotConnectedResult is the mandatory Deliver response when the plugin is
// not connected: a retryable failure with no platform I/O attempted.
func NotConnectedResult(ch Channel) DeliveryResult {
	return DeliveryResult{
		Success:   false,
		Error:     fmt.Sprintf("%s channel not connected", ch),
		Retryable: true,
	}
}
