package channel

import (
	"errors"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Sentinel errors for plugin precondition failures.
var (
	ErrUnsupported      = errors.New("channel not supported on this platform")
	ErrNotAuthenticated = errors.New("channel not authenticated")
	ErrUnavailable      = errors.New("platform unavailable")
)

func channelMembers() []interface{} {
	cs := Channels()
	out := make([]interface{}, len(cs))
	for i, c := range cs {
		out[i] = c
	}
	return out
}

var absoluteURL = validation.By(func(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || !u.IsAbs() {
		return errors.New("must be an absolute URL")
	}
	return nil
})

// Validate checks the ingress attachment constraints.
func (m MediaItem) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Kind, validation.Required,
			validation.In(KindImage, KindVideo, KindAudio, KindDocument, KindSticker)),
		validation.Field(&m.Ref, validation.Required),
	)
}

// Validate checks the egress attachment constraints.
func (m EgressMedia) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Kind, validation.Required),
		validation.Field(&m.URL, validation.Required, absoluteURL),
	)
}

// Validate enforces the ingress schema: required identity fields, a known
// channel tag, and text that may be empty only when media is present.
func (e IngressEnvelope) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Channel, validation.Required, validation.In(channelMembers()...)),
		validation.Field(&e.PlatformMessageID, validation.Required),
		validation.Field(&e.ConversationID, validation.Required),
		validation.Field(&e.PeerID, validation.Required),
		validation.Field(&e.Text,
			validation.Required.When(len(e.Media) == 0).Error("cannot be blank when media is empty")),
		validation.Field(&e.Timestamp, validation.Required),
		validation.Field(&e.Media),
	)
}

// Validate enforces the egress schema.
func (e EgressEnvelope) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Channel, validation.Required, validation.In(channelMembers()...)),
		validation.Field(&e.ConversationID, validation.Required),
		validation.Field(&e.Text,
			validation.Required.When(len(e.Media) == 0).Error("cannot be blank when media is empty")),
		validation.Field(&e.Media),
	)
}
