package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrServerClosed reports that the server closed the session cleanly.
	ErrServerClosed = errors.New("server closed connection")

	// ErrMalformedFrame reports an inbound message that is not a valid frame.
	// The session stays usable.
	ErrMalformedFrame = errors.New("malformed frame")
)

const (
	writeTimeout = 10 * time.Second
	closeTimeout = time.Second

	// SessionHeader carries the client session ID on every handshake.
	SessionHeader = "X-Client-Session"
)

// Conn is one live transport session.
type Conn interface {
	// ReadFrame blocks for the next frame. Errors wrapping ErrMalformedFrame
	// are per-message; any other error ends the session.
	ReadFrame() (Frame, error)
	WriteFrame(f Frame) error
	Close() error
}

// Dialer opens transport sessions. The context carries the handshake deadline.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial implements Dialer.
func (fn DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return fn(ctx)
}

// WebsocketDialer dials the event server over WebSocket.
type WebsocketDialer struct {
	url       string
	header    http.Header
	sessionID string
	dialer    *websocket.Dialer
}

// NewWebsocketDialer validates rawURL and returns a dialer for it. http and
// https URLs are rewritten to ws and wss.
func NewWebsocketDialer(rawURL string, header http.Header) (*WebsocketDialer, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("event server URL is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid event server URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("event server URL must use ws, wss, http or https scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("event server URL must include a host")
	}

	h := http.Header{}
	for k, v := range header {
		h[k] = append([]string(nil), v...)
	}
	return &WebsocketDialer{
		url:       u.String(),
		header:    h,
		sessionID: uuid.NewString(),
		// The handshake deadline comes from the Dial context.
		dialer: &websocket.Dialer{Proxy: http.ProxyFromEnvironment},
	}, nil
}

// URL returns the normalized WebSocket URL.
func (d *WebsocketDialer) URL() string { return d.url }

// SessionID returns the ID sent in SessionHeader. It is stable across redials.
func (d *WebsocketDialer) SessionID() string { return d.sessionID }

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	h := d.header.Clone()
	h.Set(SessionHeader, d.sessionID)

	ws, resp, err := d.dialer.DialContext(ctx, d.url, h)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsConn{ws: ws}, nil
}

// wsConn adapts a gorilla connection to Conn.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadFrame() (Frame, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Frame{}, fmt.Errorf("%w: %v", ErrServerClosed, err)
		}
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return f, nil
}

func (c *wsConn) WriteFrame(f Frame) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(f)
}

func (c *wsConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeTimeout))
	return c.ws.Close()
}
