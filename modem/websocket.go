package modem

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrBridgeClosed is returned when reading from a closed WebSocket bridge.
var ErrBridgeClosed = errors.New("websocket bridge closed")

// WebSocketDialer reaches a modem exposed by a serial-to-WebSocket bridge.
// Modem bytes travel in binary frames in both directions.
type WebSocketDialer struct {
	URL      string
	Username string
	Password string
	// SkipVerify disables TLS certificate checks for wss:// URLs.
	SkipVerify bool
	// HandshakeTimeout defaults to 10 seconds.
	HandshakeTimeout time.Duration
}

// Dial connects to the bridge, authenticating with HTTP Basic auth when
// credentials are set.
func (d WebSocketDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errNilContext
	}

	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %q (use ws:// or wss://)", u.Scheme)
	}

	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: d.SkipVerify}
	}

	headers := http.Header{}
	if d.Username != "" && d.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(d.Username + ":" + d.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket bridge (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket bridge: %w", err)
	}
	return &wsTransport{conn: conn}, nil
}

// wsTransport adapts a message-oriented WebSocket to a byte stream.
type wsTransport struct {
	conn    *websocket.Conn
	buf     []byte
	closed  bool
	writeMu sync.Mutex
}

func (w *wsTransport) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrBridgeClosed
	}
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		return n, nil
	}
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		n := copy(p, data)
		w.buf = data[n:]
		return n, nil
	}
}

func (w *wsTransport) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsTransport) Close() error {
	return w.conn.Close()
}
