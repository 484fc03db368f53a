package types

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// MessageType is the sender of a conversation entry.
type MessageType string

const (
	// MessageTypeUser is a message written by the user.
	MessageTypeUser MessageType = "user"
	// MessageTypeAssistant is a message written by an assistant.
	MessageTypeAssistant MessageType = "assistant"
)

// Conversation is a single chat entry returned by the chatbot API.
type Conversation struct {
	ID          string      `json:"id" validate:"required"`
	CreatedAt   Timestamp   `json:"created_at" validate:"required"`
	MessageType MessageType `json:"message_type" validate:"oneof=user assistant"`
	Content     string      `json:"content"`
	// AgentName is the assistant that handled the message, when the backend reports it.
	AgentName string `json:"agent_name,omitempty"`
}

// IsUser is true if the user sent this conversation entry.
func (c *Conversation) IsUser() bool {
	return c.MessageType == MessageTypeUser
}

// Profile is the business profile captured during onboarding.
type Profile struct {
	BusinessName string `json:"business_name,omitempty"`
	LogoURL      string `json:"logo_url,omitempty"`
	Name         string `json:"name,omitempty"`
	// Extra holds the fields the dashboard does not read, kept so a cached
	// profile marshals back to what the backend sent.
	Extra map[string]json.RawMessage `json:"-"`
}

type profileFields Profile

var profileKeys = []string{"business_name", "logo_url", "name"}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var fields profileFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return errors.Wrap(err, "decoding profile")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "decoding profile")
	}
	for _, key := range profileKeys {
		delete(raw, key)
	}
	fields.Extra = nil
	if len(raw) > 0 {
		fields.Extra = raw
	}
	*p = Profile(fields)
	return nil
}

// MarshalJSON encodes the known fields over Extra.
func (p Profile) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(profileFields(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(p.Extra)+len(profileKeys))
	for key, value := range p.Extra {
		merged[key] = value
	}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

// Lead is a sales lead. Only the follow-up time matters to the dashboard.
type Lead struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	FollowUpAt *Timestamp `json:"follow_up_at,omitempty"`
}

// timestampLayouts are tried in order. Layouts without a zone are read in local time
// except the bare date, which is read as UTC midnight.
var timestampLayouts = []struct {
	layout string
	local  bool
}{
	{layout: time.RFC3339Nano},
	{layout: "2006-01-02 15:04:05.999999999Z07:00"},
	{layout: "2006-01-02T15:04:05.999999999", local: true},
	{layout: "2006-01-02 15:04:05.999999999", local: true},
	{layout: "2006-01-02"},
}

// Timestamp is a time.Time that accepts the formats the backend emits.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// ParseTimestamp parses value with the supported layouts.
func ParseTimestamp(value string) (Timestamp, error) {
	for _, candidate := range timestampLayouts {
		var (
			t   time.Time
			err error
		)
		if candidate.local {
			t, err = time.ParseInLocation(candidate.layout, value, time.Local)
		} else {
			t, err = time.Parse(candidate.layout, value)
		}
		if err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, errors.Errorf("unsupported timestamp %q", value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	value := string(data)
	if value == "null" {
		return nil
	}
	value = strings.Trim(value, `"`)
	if value == "" {
		return nil
	}
	parsed, err := ParseTimestamp(value)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Format(time.RFC3339Nano) + `"`), nil
}
