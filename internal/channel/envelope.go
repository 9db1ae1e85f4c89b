package channel

import (
	"strings"
	"time"
)

// MediaKind classifies an attachment.
type MediaKind string

const (
	KindImage    MediaKind = "image"
	KindVideo    MediaKind = "video"
	KindAudio    MediaKind = "audio"
	KindDocument MediaKind = "document"
	KindSticker  MediaKind = "sticker"
)

// KindForMIME maps a MIME type to a media kind. Unknown and empty types
// fall back to document.
func KindForMIME(mimeType string) MediaKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return KindAudio
	default:
		return KindDocument
	}
}

// MediaItem is an ingress attachment. Ref is a local path or handle on the
// agent's host; the cloud resolves it later.
type MediaItem struct {
	Kind     MediaKind `json:"kind"`
	Ref      string    `json:"ref"`
	MimeType string    `json:"mimeType,omitempty"`
	FileName string    `json:"fileName,omitempty"`
	Size     int64     `json:"size,omitempty"`
}

// EgressMedia is an outbound attachment fetched by the plugin from an
// absolute URL. Ingress refs and egress urls are intentionally asymmetric.
type EgressMedia struct {
	Kind MediaKind `json:"kind"`
	URL  string    `json:"url"`
}

// IngressEnvelope is a platform message normalized for the cloud.
type IngressEnvelope struct {
	Channel           Channel     `json:"channel"`
	PlatformMessageID string      `json:"platformMessageId"`
	ConversationID    string      `json:"conversationId"`
	PeerID            string      `json:"peerId"`
	PeerDisplay       string      `json:"peerDisplay,omitempty"`
	Text              string      `json:"text"`
	IsGroup           bool        `json:"isGroup"`
	GroupName         string      `json:"groupName,omitempty"`
	Timestamp         time.Time   `json:"timestamp"`
	ThreadID          string      `json:"threadId,omitempty"`
	ReplyToMessageID  string      `json:"replyToMessageId,omitempty"`
	Mentions          []string    `json:"mentions,omitempty"`
	Media             []MediaItem `json:"media,omitempty"`
}

// EgressEnvelope is a cloud reply addressed to a platform conversation.
type EgressEnvelope struct {
	Channel          Channel       `json:"channel"`
	ConversationID   string        `json:"conversationId"`
	Text             string        `json:"text"`
	ThreadID         string        `json:"threadId,omitempty"`
	ReplyToMessageID string        `json:"replyToMessageId,omitempty"`
	Media            []EgressMedia `json:"media,omitempty"`
}
