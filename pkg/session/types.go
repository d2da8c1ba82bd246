package session

import (
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Client message types.
const (
	ClientMessage    = "message"
	ClientDirectEdit = "direct_edit"
	ClientInterrupt  = "interrupt"
	ClientSetProfile = "set_profile"
)

// maxMessageLen bounds one user utterance. Longer input belongs in an
// attachment, not a chat message.
const maxMessageLen = 16384

// InboundMessage is one client frame. Type discriminates; the remaining
// fields are per-type payloads.
type InboundMessage struct {
	Type string `json:"type"`

	// message
	Content   string `json:"content,omitempty"`
	MessageID string `json:"message_id,omitempty"`

	// direct_edit; decoded by the wire package, kept raw here.
	Op json.RawMessage `json:"op,omitempty"`

	// set_profile (mock mode only)
	Profile string `json:"profile,omitempty"`
}

// Validate checks the per-type payload shape. Operation payloads are only
// checked for presence; the wire decoder and the reducer own their semantics.
func (m *InboundMessage) Validate() error {
	switch m.Type {
	case ClientMessage:
		return validation.ValidateStruct(m,
			validation.Field(&m.Content, validation.Required, validation.Length(1, maxMessageLen)),
			validation.Field(&m.MessageID, validation.Length(0, 128)),
		)
	case ClientDirectEdit:
		return validation.ValidateStruct(m,
			validation.Field(&m.Op, validation.Required),
		)
	case ClientInterrupt:
		return nil
	case ClientSetProfile:
		return validation.ValidateStruct(m,
			validation.Field(&m.Profile, validation.Required),
		)
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
}
