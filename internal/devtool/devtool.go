// Package devtool generates schema-valid test envelopes, validates
// envelope JSON, and synthesizes platform-shaped webhook fixtures for
// local development.
package devtool

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
)

// EnvelopeParams are the caller-controlled fields of a test envelope.
// Unset fields take channel-derived defaults.
type EnvelopeParams struct {
	Channel        channel.Channel
	Text           string
	PeerID         string
	ConversationID string
	IsGroup        bool
	GroupName      string
}

// NewTestEnvelope builds a schema-valid ingress envelope.
func NewTestEnvelope(p EnvelopeParams) channel.IngressEnvelope {
	if p.PeerID == "" {
		p.PeerID = fmt.Sprintf("peer-%s-001", p.Channel)
	}
	if p.ConversationID == "" {
		p.ConversationID = fmt.Sprintf("conv-%s-test", p.Channel)
	}
	if p.Text == "" {
		p.Text = "Test message"
	}
	env := channel.IngressEnvelope{
		Channel:           p.Channel,
		PlatformMessageID: "test-" + uuid.NewString(),
		ConversationID:    p.ConversationID,
		PeerID:            p.PeerID,
		PeerDisplay:       "Test User",
		Text:              p.Text,
		IsGroup:           p.IsGroup,
		Timestamp:         time.Now().UTC(),
	}
	if p.IsGroup {
		env.GroupName = p.GroupName
		if env.GroupName == "" {
			env.GroupName = "Test Group"
		}
	}
	return env
}

// ValidationResult reports whether raw JSON is a valid envelope and which
// direction it was classified as.
type ValidationResult struct {
	Valid        bool     `json:"valid"`
	EnvelopeType string   `json:"envelopeType,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// ValidateEnvelope classifies raw JSON as ingress or egress and validates
// it against the schema. Data carrying any of peerId, platformMessageId,
// or isGroup is treated as ingress, everything else as egress.
func ValidateEnvelope(raw []byte) ValidationResult {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ValidationResult{Errors: []string{"not a JSON object: " + err.Error()}}
	}

	isIngress := false
	for _, key := range []string{"peerId", "platformMessageId", "isGroup"} {
		if _, ok := probe[key]; ok {
			isIngress = true
			break
		}
	}

	if isIngress {
		var env channel.IngressEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return ValidationResult{EnvelopeType: "ingress", Errors: []string{err.Error()}}
		}
		if err := env.Validate(); err != nil {
			return ValidationResult{EnvelopeType: "ingress", Errors: validationErrors(err)}
		}
		return ValidationResult{Valid: true, EnvelopeType: "ingress"}
	}

	var env channel.EgressEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ValidationResult{EnvelopeType: "egress", Errors: []string{err.Error()}}
	}
	if err := env.Validate(); err != nil {
		return ValidationResult{EnvelopeType: "egress", Errors: validationErrors(err)}
	}
	return ValidationResult{Valid: true, EnvelopeType: "egress"}
}

// validationErrors flattens an ozzo validation error into sorted
// field: message strings.
func validationErrors(err error) []string {
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for field, ferr := range verrs {
		out = append(out, field+": "+ferr.Error())
	}
	sort.Strings(out)
	return out
}
