// Package slackchat implements the Slack channel over Socket Mode:
// message events become ingress envelopes and outbound envelopes are
// posted back thread-aware.
package slackchat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
)

// API is the slice of the Slack client the adapter uses.
type API interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Config holds the two Socket Mode tokens.
type Config struct {
	BotToken string // xoxb-
	AppToken string // xapp-
}

// Adapter is the Slack channel plugin.
type Adapter struct {
	cfg    Config
	logger zerolog.Logger
	status channel.StatusVar

	api       API
	newSocket func() *socketmode.Client

	mu        sync.Mutex
	cancel    context.CancelFunc
	botUserID string
}

func New(cfg Config, logger zerolog.Logger) *Adapter {
	a := &Adapter{
		cfg:    cfg,
		logger: logger.With().Str("component", "slackchat").Logger(),
	}
	if cfg.BotToken != "" && cfg.AppToken != "" {
		api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
		a.api = api
		a.newSocket = func() *socketmode.Client { return socketmode.New(api) }
	}
	return a
}

func (a *Adapter) Info() channel.Info {
	info := channel.Info{
		Channel:     channel.Slack,
		DisplayName: "Slack",
		Supported:   a.api != nil,
	}
	if a.api == nil {
		info.UnsupportedReason = "Slack bot and app tokens not configured"
	}
	return info
}

// Login validates both tokens against the Slack API and caches the bot's
// own user id for self-message filtering.
func (a *Adapter) Login(ctx context.Context) error {
	if a.api == nil {
		return fmt.Errorf("%w: Slack bot and app tokens not configured", channel.ErrUnsupported)
	}
	resp, err := a.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: slack auth test: %v", channel.ErrNotAuthenticated, err)
	}
	a.mu.Lock()
	a.botUserID = resp.UserID
	a.mu.Unlock()
	a.logger.Info().Str("bot_user_id", resp.UserID).Msg("Slack bot identity resolved")
	return nil
}

func (a *Adapter) IsAuthenticated(ctx context.Context) bool {
	if a.api == nil {
		return false
	}
	_, err := a.api.AuthTestContext(ctx)
	return err == nil
}

func (a *Adapter) Status() channel.Status {
	return a.status.Get()
}

// Logout cancels a running Start. Safe to call repeatedly.
func (a *Adapter) Logout() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.botUserID = ""
	return nil
}

// Start runs the Socket Mode event loop until ctx is cancelled or Logout
// is called. Message events are converted and handed to onInbound one at
// a time, in arrival order.
func (a *Adapter) Start(ctx context.Context, onInbound channel.InboundFunc) error {
	a.status.Set(channel.StatusConnecting)
	defer a.status.Set(channel.StatusDisconnected)

	if a.api == nil {
		return fmt.Errorf("%w: Slack bot and app tokens not configured", channel.ErrUnsupported)
	}
	if err := a.Login(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		if a.cancel != nil {
			a.cancel()
			a.cancel = nil
		}
		a.mu.Unlock()
	}()

	socket := a.newSocket()

	go func() {
		for evt := range socket.Events {
			a.handleEvent(runCtx, socket, evt, onInbound)
		}
	}()

	err := socket.RunContext(runCtx)
	if runCtx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("slack socket mode: %w", err)
	}
	return nil
}

func (a *Adapter) handleEvent(ctx context.Context, socket *socketmode.Client, evt socketmode.Event, onInbound channel.InboundFunc) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		a.status.Set(channel.StatusConnected)
		a.logger.Info().Msg("Slack Socket Mode connected")
	case socketmode.EventTypeDisconnect:
		a.status.Set(channel.StatusConnecting)
	case socketmode.EventTypeEventsAPI:
		// Slack requires the ack within 3 seconds.
		if evt.Request != nil {
			socket.Ack(*evt.Request)
		}
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		msg, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
		if !ok {
			return
		}
		a.mu.Lock()
		botID := a.botUserID
		a.mu.Unlock()
		env := convertMessage(msg, botID)
		if env == nil {
			return
		}
		if err := onInbound(ctx, *env); err != nil {
			a.logger.Error().Err(err).Str("ts", msg.TimeStamp).Msg("Inbound forward failed, message skipped")
		}
	}
}

// convertMessage normalizes one Slack message event. Bot echoes, edits,
// and other subtyped messages return nil and are dropped.
func convertMessage(ev *slackevents.MessageEvent, botUserID string) *channel.IngressEnvelope {
	if ev == nil || ev.SubType != "" || ev.BotID != "" {
		return nil
	}
	if ev.User == "" || (botUserID != "" && ev.User == botUserID) {
		return nil
	}
	if ev.Text == "" {
		return nil
	}

	threadID := ev.ThreadTimeStamp
	if threadID == ev.TimeStamp {
		threadID = ""
	}
	return &channel.IngressEnvelope{
		Channel:           channel.Slack,
		PlatformMessageID: ev.TimeStamp,
		ConversationID:    ev.Channel,
		PeerID:            ev.User,
		Text:              ev.Text,
		IsGroup:           ev.ChannelType != "im",
		Timestamp:         slackTimestamp(ev.TimeStamp),
		ThreadID:          threadID,
	}
}

// slackTimestamp converts a "seconds.fraction" event ts to a time.
func slackTimestamp(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil || f <= 0 {
		return time.Now().UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// Deliver posts one outbound envelope, thread-aware. Slack API errors for
// unusable conversations are terminal; everything else is retryable.
func (a *Adapter) Deliver(ctx context.Context, env channel.EgressEnvelope) channel.DeliveryResult {
	if a.status.Get() != channel.StatusConnected {
		return channel.NotConnectedResult(channel.Slack)
	}

	opts := []slack.MsgOption{slack.MsgOptionText(env.Text, false)}
	if env.ThreadID != "" {
		opts = append(opts, slack.MsgOptionTS(env.ThreadID))
	} else if env.ReplyToMessageID != "" {
		opts = append(opts, slack.MsgOptionTS(env.ReplyToMessageID))
	}

	_, ts, err := a.api.PostMessageContext(ctx, env.ConversationID, opts...)
	if err != nil {
		return channel.DeliveryResult{
			Success:   false,
			Error:     err.Error(),
			Retryable: !isTerminalSlackError(err),
		}
	}
	return channel.DeliveryResult{Success: true, PlatformMessageID: ts}
}

// isTerminalSlackError reports errors no retry can fix.
func isTerminalSlackError(err error) bool {
	var serr slack.SlackErrorResponse
	msg := err.Error()
	if errors.As(err, &serr) {
		msg = serr.Err
	}
	switch {
	case strings.Contains(msg, "channel_not_found"),
		strings.Contains(msg, "not_in_channel"),
		strings.Contains(msg, "is_archived"),
		strings.Contains(msg, "msg_too_long"):
		return true
	}
	return false
}
