// Package hub fans monitor messages out to observer websocket connections.
// Each client owns a buffered FIFO drained by its own write pump, so a
// slow observer never blocks the producer that broadcasts.
package hub

// MessageType indicates the websocket message format
type MessageType int

const (
	// TextMessage is a JSON-encoded message
	TextMessage MessageType = iota
	// BinaryMessage is raw binary data
	BinaryMessage
)

// Message represents a message to be broadcast to clients
type Message struct {
	Type MessageType
	Data []byte
}

// NewTextMessage creates a text message from pre-encoded bytes
func NewTextMessage(data []byte) Message {
	return Message{Type: TextMessage, Data: data}
}

// NewBinaryMessage creates a binary message
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
