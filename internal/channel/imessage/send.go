package imessage

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Sender delivers one message through the platform's automation channel.
type Sender interface {
	Send(ctx context.Context, to, text string, isGroup bool) error
}

// SendError is a rejection reported by the Messages app itself, such as an
// invalid recipient. Retrying will not help.
type SendError struct {
	Output string
}

func (e *SendError) Error() string {
	return "messages send failed: " + e.Output
}

// scriptSender shells out to osascript to drive the Messages app.
type scriptSender struct {
	timeout time.Duration
}

func (s *scriptSender) Send(ctx context.Context, to, text string, isGroup bool) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "osascript", "-e", buildSendScript(to, text, isGroup))
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("send timed out: %w", ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &SendError{Output: strings.TrimSpace(string(out))}
	}
	return fmt.Errorf("run osascript: %w", err)
}

func escapeScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// buildSendScript renders the AppleScript for a direct or group send.
// Group conversation handles are chat GUIDs; bare "chat…" identifiers get
// the iMessage service prefix the chat id lookup expects.
func buildSendScript(to, text string, isGroup bool) string {
	if isGroup {
		chatID := to
		if !strings.Contains(chatID, ";") {
			chatID = "iMessage;+;" + chatID
		}
		return fmt.Sprintf(`tell application "Messages"
	set targetChat to a reference to chat id "%s"
	send "%s" to targetChat
end tell`, escapeScriptString(chatID), escapeScriptString(text))
	}
	return fmt.Sprintf(`tell application "Messages"
	set targetService to 1st account whose service type = iMessage
	set targetBuddy to participant "%s" of targetService
	send "%s" to targetBuddy
end tell`, escapeScriptString(to), escapeScriptString(text))
}
