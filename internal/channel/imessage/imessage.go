// Package imessage implements the iMessage channel by polling the local
// Messages database for new rows and sending replies through the macOS
// automation bridge.
package imessage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
	"github.com/myndhyve/myndhyve-cli-sub001/pkg/backoff"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 100
	defaultSendTimeout  = 30 * time.Second
)

// Config holds adapter settings. Zero values take defaults in New.
type Config struct {
	DBPath       string
	PollInterval time.Duration
	BatchSize    int
	SendTimeout  time.Duration
}

// Adapter is the iMessage channel plugin.
type Adapter struct {
	cfg    Config
	logger zerolog.Logger
	sender Sender
	status channel.StatusVar

	supported   bool
	senderProbe func() error

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(cfg Config, logger zerolog.Logger) *Adapter {
	if cfg.DBPath == "" {
		home, _ := os.UserHomeDir()
		cfg.DBPath = filepath.Join(home, "Library", "Messages", "chat.db")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &Adapter{
		cfg:       cfg,
		logger:    logger.With().Str("component", "imessage").Logger(),
		sender:    &scriptSender{timeout: cfg.SendTimeout},
		supported: runtime.GOOS == "darwin",
		senderProbe: func() error {
			_, err := exec.LookPath("osascript")
			return err
		},
	}
}

func (a *Adapter) Info() channel.Info {
	info := channel.Info{
		Channel:     channel.IMessage,
		DisplayName: "iMessage",
		Supported:   a.supported,
	}
	if !a.supported {
		info.UnsupportedReason = "iMessage requires macOS"
	}
	return info
}

// Login verifies the host preconditions. There is no credential exchange:
// access to chat.db is the session.
func (a *Adapter) Login(ctx context.Context) error {
	return a.preflight()
}

func (a *Adapter) IsAuthenticated(ctx context.Context) bool {
	return a.dbReadable() == nil
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
	return nil
}

// Start polls chat.db for new incoming messages until ctx is cancelled or
// Logout is called. The watermark starts at the current MAX(ROWID) so
// history is never replayed.
func (a *Adapter) Start(ctx context.Context, onInbound channel.InboundFunc) error {
	a.status.Set(channel.StatusConnecting)
	defer a.status.Set(channel.StatusDisconnected)

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

	if err := a.preflight(); err != nil {
		return err
	}

	db, err := openChatDB(a.cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	watermark, err := maxRowID(runCtx, db)
	if err != nil {
		return fmt.Errorf("read initial watermark: %w", err)
	}
	a.logger.Info().Int64("watermark", watermark).Str("db", a.cfg.DBPath).Msg("Watching for new messages")
	a.status.Set(channel.StatusConnected)

	for {
		next, err := a.pollOnce(runCtx, db, watermark, onInbound)
		switch {
		case runCtx.Err() != nil:
			return nil
		case err != nil && isSchemaErr(err):
			return fmt.Errorf("chat database schema mismatch: %w", err)
		case err != nil:
			a.logger.Warn().Err(err).Msg("Poll failed, retrying next tick")
		default:
			watermark = next
		}
		if backoff.Sleep(runCtx, a.cfg.PollInterval) != nil {
			return nil
		}
	}
}

// pollOnce reads one batch above the watermark, forwards each normalized
// message, and returns the advanced watermark. The watermark moves past a
// row even when its forward fails: forwarding is at most once.
func (a *Adapter) pollOnce(ctx context.Context, db *sql.DB, watermark int64, onInbound channel.InboundFunc) (int64, error) {
	rows, err := fetchMessages(ctx, db, watermark, a.cfg.BatchSize)
	if err != nil {
		return watermark, err
	}
	if len(rows) == 0 {
		return watermark, nil
	}

	var withAttachments []int64
	for _, r := range rows {
		if r.HasAttachments {
			withAttachments = append(withAttachments, r.RowID)
		}
	}
	attachments, err := fetchAttachments(ctx, db, withAttachments)
	if err != nil {
		return watermark, err
	}

	for _, r := range rows {
		if env := normalize(r, attachments[r.RowID]); env != nil {
			if err := onInbound(ctx, *env); err != nil {
				a.logger.Error().Err(err).
					Int64("rowid", r.RowID).
					Str("guid", r.GUID).
					Msg("Inbound forward failed, message skipped")
			}
		}
		if r.RowID > watermark {
			watermark = r.RowID
		}
	}
	return watermark, nil
}

// Deliver sends one outbound envelope. Failures are encoded in the result,
// never returned as errors.
func (a *Adapter) Deliver(ctx context.Context, env channel.EgressEnvelope) channel.DeliveryResult {
	if a.status.Get() != channel.StatusConnected {
		return channel.NotConnectedResult(channel.IMessage)
	}

	// Group chat handles carry the "chat" prefix by platform convention.
	isGroup := strings.HasPrefix(env.ConversationID, "chat")

	if err := a.sender.Send(ctx, env.ConversationID, env.Text, isGroup); err != nil {
		var sendErr *SendError
		if errors.As(err, &sendErr) {
			return channel.DeliveryResult{Success: false, Error: sendErr.Error(), Retryable: false}
		}
		return channel.DeliveryResult{Success: false, Error: err.Error(), Retryable: true}
	}
	return channel.DeliveryResult{Success: true}
}

func (a *Adapter) preflight() error {
	if !a.supported {
		return fmt.Errorf("%w: iMessage requires macOS", channel.ErrUnsupported)
	}
	if err := a.dbReadable(); err != nil {
		return fmt.Errorf("%w: cannot read %s (grant Full Disk Access to your terminal)",
			channel.ErrNotAuthenticated, a.cfg.DBPath)
	}
	if err := a.senderProbe(); err != nil {
		return fmt.Errorf("%w: osascript not found on PATH", channel.ErrUnavailable)
	}
	return nil
}

func (a *Adapter) dbReadable() error {
	f, err := os.Open(a.cfg.DBPath)
	if err != nil {
		return err
	}
	return f.Close()
}
