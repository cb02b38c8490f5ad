package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// readWait bounds silence from the client; heartbeats arrive far more often.
	readWait = 5 * time.Minute
	// MaxMessageSize covers a full submit of a long essay quiz.
	MaxMessageSize = 1 << 20
)

// Write sends one event frame.
func Write(conn *websocket.Conn, event Event, data any) error {
	return writeMessage(conn, newMessage(event, data))
}

// WriteError sends an error frame carrying a stable code and a readable message.
func WriteError(conn *websocket.Conn, code, message string) error {
	msg := newMessage(EventError, nil)
	msg.Error = &ErrorBody{Code: code, Message: message}
	return writeMessage(conn, msg)
}

func writeMessage(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}
