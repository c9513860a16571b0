// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package realtime

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

// Transport is a bidirectional text-frame connection to one client.
type Transport interface {
	// Read blocks until the next client message. It returns an error
	// matching ErrTransportClosed after an orderly close and ErrProtocol
	// for frames the session cannot accept.
	Read() ([]byte, error)
	// Write sends one text message.
	Write(payload []byte) error
	// Ping sends a keepalive.
	Ping() error
	// Close closes the connection, unblocking Read. reason selects the
	// close status sent to the client. Safe to call more than once and
	// concurrently with Read and Write.
	Close(reason error) error
}

// WebSocketConfig tunes a WebSocket transport.
type WebSocketConfig struct {
	MaxMessageSize int64
	PongWait       time.Duration
	WriteWait      time.Duration
}

type wsTransport struct {
	conn      *websocket.Conn
	cfg       WebSocketConfig
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketTransport adapts an upgraded gorilla connection.
func NewWebSocketTransport(conn *websocket.Conn, cfg WebSocketConfig) Transport {
	t := &wsTransport{conn: conn, cfg: cfg}
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	t.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		t.extendReadDeadline()
		return nil
	})
	return t
}

func (t *wsTransport) extendReadDeadline() {
	if t.cfg.PongWait > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	}
}

func (t *wsTransport) writeDeadline() time.Time {
	if t.cfg.WriteWait > 0 {
		return time.Now().Add(t.cfg.WriteWait)
	}
	return time.Time{}
}

func (t *wsTransport) Read() ([]byte, error) {
	mt, data, err := t.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		switch {
		case errors.Is(err, websocket.ErrReadLimit):
			return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
		case websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived):
			return nil, fmt.Errorf("%w: %w", ErrTransportClosed, err)
		case errors.As(err, &ce) && (ce.Code == websocket.CloseProtocolError || ce.Code == websocket.CloseInvalidFramePayloadData):
			return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		return nil, err //nolint:wrapcheck // classified by the session
	}

	if mt != websocket.TextMessage {
		return nil, fmt.Errorf("%w: unsupported frame type %d", ErrProtocol, mt)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: message is not valid UTF-8", ErrProtocol)
	}
	t.extendReadDeadline()
	return data, nil
}

func (t *wsTransport) Write(payload []byte) error {
	_ = t.conn.SetWriteDeadline(t.writeDeadline())
	return t.conn.WriteMessage(websocket.TextMessage, payload) //nolint:wrapcheck // caller adds context
}

func (t *wsTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, t.writeDeadline()) //nolint:wrapcheck // caller adds context
}

func (t *wsTransport) Close(reason error) error {
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(closeCode(reason), closeText(reason))
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, t.writeDeadline())
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

func closeCode(reason error) int {
	switch {
	case reason == nil:
		return websocket.CloseNormalClosure
	case errors.Is(reason, ErrProtocol):
		return websocket.CloseProtocolError
	case errors.Is(reason, ErrQueueFull):
		return websocket.CloseTryAgainLater
	case errors.Is(reason, ErrDispatcherClosed):
		return websocket.CloseGoingAway
	default:
		return websocket.CloseInternalServerErr
	}
}

func closeText(reason error) string {
	switch {
	case reason == nil:
		return ""
	case errors.Is(reason, ErrProtocol):
		return "protocol error"
	case errors.Is(reason, ErrQueueFull):
		return "too slow"
	case errors.Is(reason, ErrDispatcherClosed):
		return "server shutting down"
	default:
		return "internal error"
	}
}
