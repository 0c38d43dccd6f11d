package bus

import "time"

type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// SenderName is the display name a channel attached to the message, if any.
func (m *InboundMessage) SenderName() string {
	if m.Metadata == nil {
		return ""
	}
	if name, ok := m.Metadata["first_name"].(string); ok && name != "" {
		return name
	}
	if name, ok := m.Metadata["username"].(string); ok {
		return name
	}
	return ""
}

type OutboundMessage struct {
	Channel   string
	ChatID    string
	Content   string
	ReplyTo   string
	Timestamp time.Time
	Metadata  map[string]any
}
