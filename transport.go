package onebot

import (
	"context"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Transport provides framed send and receive over one logical
// connection. Implementations must be safe for concurrent use.
type Transport interface {
	// Send transmits one complete frame.
	Send(ctx context.Context, data []byte) error
	// Receive blocks until the next frame arrives. It returns an error
	// wrapping net-level failure on abnormal closure and ErrClosed
	// after Close.
	Receive(ctx context.Context) ([]byte, error)
	// Ping probes transport-level liveness.
	Ping(ctx context.Context) error
	Close() error
}

// DialOptions configures the WebSocket handshake.
type DialOptions struct {
	// HTTPHeader specifies additional headers to send during handshake.
	HTTPHeader http.Header

	// HTTPClient is the HTTP client used for the handshake.
	// If nil, http.DefaultClient is used.
	HTTPClient *http.Client
}

// Dial connects to a peer and returns a Transport. An access token, if
// set, is presented as a bearer credential; a 401 or 403 handshake
// response is reported as a non-retryable ConnectError.
func Dial(ctx context.Context, url string, accessToken string, opts *DialOptions) (Transport, error) {
	headers := http.Header{}
	if opts != nil && opts.HTTPHeader != nil {
		headers = opts.HTTPHeader.Clone()
	}
	if accessToken != "" {
		headers.Set("Authorization", "Bearer "+accessToken)
	}

	dialOpts := &websocket.DialOptions{
		HTTPHeader: headers,
	}
	if opts != nil && opts.HTTPClient != nil {
		dialOpts.HTTPClient = opts.HTTPClient
	}

	conn, resp, err := websocket.Dial(ctx, url, dialOpts)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &ConnectError{URL: url, Err: err}
		}
		return nil, &NetworkError{Op: "dial " + url, Err: err}
	}

	conn.SetReadLimit(16 * 1024 * 1024)

	return &wsTransport{conn: conn}, nil
}

// wsTransport implements Transport over WebSocket.
type wsTransport struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return &NetworkError{Op: "write", Err: err}
	}

	return nil
}

func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		return nil, &NetworkError{Op: "read", Err: err}
	}
	return data, nil
}

func (t *wsTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	return t.conn.Close(websocket.StatusNormalClosure, "")
}
