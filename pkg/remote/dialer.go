// Package remote dials the chat backend's channel WebSockets.
package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/tehcyx/girc-bridge/pkg/bridge"
	"github.com/tehcyx/girc-bridge/pkg/version"
)

const (
	// DefaultHandshakeTimeout bounds the WebSocket opening handshake
	DefaultHandshakeTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds a single envelope write
	DefaultWriteTimeout = 10 * time.Second
)

// Dialer opens gorilla/websocket connections. It implements bridge.Dialer.
type Dialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

// NewDialer returns a Dialer with default timeouts that identifies itself
// with the bridge version.
func NewDialer() *Dialer {
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	return &Dialer{
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		Header:           header,
	}
}

// Dial connects to url.
func (d *Dialer) Dial(ctx context.Context, url string) (bridge.Socket, error) {
	ws := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, resp, err := ws.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s failed with status %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	log.Debugf("Connected to %s", url)
	return &socket{conn: conn, writeTimeout: d.WriteTimeout}, nil
}

// socket adapts *websocket.Conn to bridge.Socket. The bridge serialises
// writes per binding; reads happen on a single goroutine.
type socket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (s *socket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *socket) WriteJSON(v interface{}) error {
	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteJSON(v)
}

func (s *socket) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}
