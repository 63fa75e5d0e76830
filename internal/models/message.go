package models

// Inbound is a text message received from a sender.
type Inbound struct {
	MessageID string `json:"message_id,omitempty"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Time      int64  `json:"time"`
	// FromSelf marks messages sent by the bot's own account.
	FromSelf bool `json:"from_self,omitempty"`
}

// Outbound is a reply produced by the conversation machine. Either Text is
// set, or Image holds the bytes of a picture sent with Caption.
type Outbound struct {
	Text    string
	Image   []byte
	Caption string
}

// Text builds a plain text reply.
func Text(body string) Outbound {
	return Outbound{Text: body}
}

// IsImage reports whether the reply carries a picture.
func (o Outbound) IsImage() bool {
	return len(o.Image) > 0
}
