package lsp

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketStream carries one JSON-RPC message per websocket text frame.
// Browser-hosted editors use it instead of Content-Length framing.
type WebSocketStream struct {
	conn *websocket.Conn

	mu sync.Mutex
}

// NewWebSocketStream wraps an upgraded websocket connection.
func NewWebSocketStream(conn *websocket.Conn) *WebSocketStream {
	return &WebSocketStream{conn: conn}
}

// Read returns the payload of the next text or binary frame.
func (s *WebSocketStream) Read() (json.RawMessage, error) {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Write sends msg as a single text frame.
func (s *WebSocketStream) Write(msg json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the connection.
func (s *WebSocketStream) Close() error {
	s.mu.Lock()
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.mu.Unlock()
	return s.conn.Close()
}
