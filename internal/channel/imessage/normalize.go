package imessage

import (
	"time"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
)

// appleEpochOffset is the gap in seconds between the Unix epoch and
// 2001-01-01T00:00:00Z, the reference point of chat.db timestamps.
const appleEpochOffset = 978307200

// appleTime converts a chat.db date value (nanoseconds since the Apple
// epoch) to UTC. Zero yields the Apple epoch itself.
func appleTime(ns int64) time.Time {
	return time.Unix(appleEpochOffset, ns).UTC()
}

// normalize converts a joined message row into an ingress envelope.
// Returns nil when the row carries neither text nor named attachments;
// such rows (typing indicators, tapbacks, system notices) are dropped.
func normalize(row messageRow, attachments []attachmentRow) *channel.IngressEnvelope {
	var media []channel.MediaItem
	for _, att := range attachments {
		if !att.Filename.Valid || att.Filename.String == "" {
			continue
		}
		media = append(media, channel.MediaItem{
			Kind:     channel.KindForMIME(att.MimeType.String),
			Ref:      att.Filename.String,
			MimeType: att.MimeType.String,
			FileName: att.TransferName.String,
			Size:     att.TotalBytes.Int64,
		})
	}

	text := row.Text.String
	if text == "" && len(media) == 0 {
		return nil
	}

	conversationID := row.ChatIdentifier.String
	if conversationID == "" {
		conversationID = row.Sender.String
	}
	isGroup := row.GroupID.Valid && row.GroupID.String != ""

	env := &channel.IngressEnvelope{
		Channel:           channel.IMessage,
		PlatformMessageID: row.GUID,
		ConversationID:    conversationID,
		PeerID:            row.Sender.String,
		Text:              text,
		IsGroup:           isGroup,
		Timestamp:         appleTime(row.DateNS),
		Media:             media,
	}
	if isGroup {
		env.GroupName = row.DisplayName.String
	}
	return env
}
