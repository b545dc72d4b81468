package bus

// InboundMessage is one chat event delivered by a transport adapter.
//
// Text is empty when the transport event carried no usable text.
type InboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   int64             `json:"chat_id"`
	SenderID int64             `json:"sender_id,omitempty"`
	Text     string            `json:"text,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
