package bus

import "time"

// InboundMessage represents a message received from the messaging platform webhook.
type InboundMessage struct {
	ID        string            `json:"id"`        // platform-unique message ID
	Sender    string            `json:"sender"`    // user handle (phone number)
	Text      string            `json:"text"`      // message body
	Timestamp time.Time         `json:"timestamp"` // platform receive time
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Valid reports whether the envelope carries the fields the pipeline requires.
// Messages failing this check are dropped before any session lookup.
func (m InboundMessage) Valid() bool {
	return m.ID != "" && m.Sender != "" && m.Text != ""
}

// OutboundMessage represents a reply to be sent back to the platform.
type OutboundMessage struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
}

// MessageHandler handles an inbound message after the transport has acknowledged it.
type MessageHandler func(InboundMessage)
