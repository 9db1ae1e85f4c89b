package devtool

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
)

// WebhookParams shape a synthetic platform event.
type WebhookParams struct {
	Channel   channel.Channel
	EventType string
	Text      string
	PeerID    string
}

// WebhookEvent synthesizes a platform-shaped mock payload for the given
// channel and event type. Unknown channels or event types are an error.
func WebhookEvent(p WebhookParams) (map[string]interface{}, error) {
	if p.EventType == "" {
		p.EventType = "message"
	}
	if p.EventType != "message" && p.EventType != "status" {
		return nil, fmt.Errorf("unknown event type %q (want message or status)", p.EventType)
	}
	if p.Text == "" {
		p.Text = "Test message"
	}

	now := time.Now()
	switch p.Channel {
	case channel.WhatsApp:
		return whatsappEvent(p, now), nil
	case channel.Signal:
		return signalEvent(p, now), nil
	case channel.IMessage:
		return imessageEvent(p, now), nil
	case channel.Slack:
		return slackEvent(p, now), nil
	default:
		return nil, fmt.Errorf("unknown channel %q", p.Channel)
	}
}

// whatsappEvent mimics a Cloud API webhook delivery.
func whatsappEvent(p WebhookParams, now time.Time) map[string]interface{} {
	from := p.PeerID
	if from == "" {
		from = "15551234567"
	}
	value := map[string]interface{}{
		"messaging_product": "whatsapp",
		"metadata": map[string]interface{}{
			"display_phone_number": "15550009999",
			"phone_number_id":      "106540352242922",
		},
	}
	if p.EventType == "message" {
		value["messages"] = []interface{}{map[string]interface{}{
			"from":      from,
			"id":        "wamid." + uuid.NewString(),
			"timestamp": strconv.FormatInt(now.Unix(), 10),
			"type":      "text",
			"text":      map[string]interface{}{"body": p.Text},
		}}
	} else {
		value["statuses"] = []interface{}{map[string]interface{}{
			"id":           "wamid." + uuid.NewString(),
			"status":       "delivered",
			"timestamp":    strconv.FormatInt(now.Unix(), 10),
			"recipient_id": from,
		}}
	}
	return map[string]interface{}{
		"object": "whatsapp_business_account",
		"entry": []interface{}{map[string]interface{}{
			"id": "102290129340398",
			"changes": []interface{}{map[string]interface{}{
				"field": "messages",
				"value": value,
			}},
		}},
	}
}

// signalEvent mimes signal-cli's JSON-RPC receive output.
func signalEvent(p WebhookParams, now time.Time) map[string]interface{} {
	source := p.PeerID
	if source == "" {
		source = "+15551234567"
	}
	envelope := map[string]interface{}{
		"source":       source,
		"sourceNumber": source,
		"sourceName":   "Test User",
		"timestamp":    now.UnixMilli(),
	}
	if p.EventType == "message" {
		envelope["dataMessage"] = map[string]interface{}{
			"timestamp": now.UnixMilli(),
			"message":   p.Text,
		}
	} else {
		envelope["receiptMessage"] = map[string]interface{}{
			"when":       now.UnixMilli(),
			"isDelivery": true,
		}
	}
	return map[string]interface{}{
		"envelope": envelope,
		"account":  "+15550009999",
	}
}

// imessageEvent mirrors the chat.db row shape the poller reads.
func imessageEvent(p WebhookParams, now time.Time) map[string]interface{} {
	sender := p.PeerID
	if sender == "" {
		sender = "+15551234567"
	}
	if p.EventType == "status" {
		return map[string]interface{}{
			"guid":              uuid.NewString(),
			"is_delivered":      true,
			"date_delivered_ns": now.UnixNano(),
		}
	}
	return map[string]interface{}{
		"ROWID":                 51,
		"guid":                  uuid.NewString(),
		"text":                  p.Text,
		"handle_id":             sender,
		"chat_identifier":       sender,
		"is_from_me":            0,
		"cache_has_attachments": 0,
		"date":                  now.UnixNano(),
	}
}

// slackEvent mimics an Events API message callback.
func slackEvent(p WebhookParams, now time.Time) map[string]interface{} {
	user := p.PeerID
	if user == "" {
		user = "U0123456789"
	}
	ts := fmt.Sprintf("%d.%06d", now.Unix(), 0)
	event := map[string]interface{}{
		"type":    "message",
		"user":    user,
		"text":    p.Text,
		"ts":      ts,
		"channel": "C0123456789",
	}
	if p.EventType == "status" {
		event = map[string]interface{}{
			"type":    "reaction_added",
			"user":    user,
			"item_ts": ts,
		}
	}
	return map[string]interface{}{
		"token":      "verification-token",
		"team_id":    "T0123456789",
		"type":       "event_callback",
		"event_id":   "Ev" + uuid.NewString()[:8],
		"event_time": now.Unix(),
		"event":      event,
	}
}
