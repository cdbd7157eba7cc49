package onebot

import (
	"io"
	"log/slog"
	"time"
)

// Option configures a Client.
type Option func(*config)

type config struct {
	accessToken          string
	selfID               int64
	callTimeout          time.Duration
	heartbeatInterval    time.Duration
	reconnectInterval    time.Duration
	reconnectCap         time.Duration
	maxReconnectAttempts int
	logger               *slog.Logger
	onSend               func(frame []byte)
	onReceive            func(frame []byte)
	dialOpts             *DialOptions
}

func defaultConfig() config {
	return config{
		callTimeout:          30 * time.Second,
		heartbeatInterval:    30 * time.Second,
		reconnectInterval:    5 * time.Second,
		reconnectCap:         60 * time.Second,
		maxReconnectAttempts: 10,
	}
}

// WithAccessToken sets the bearer token presented at connect time.
func WithAccessToken(token string) Option {
	return func(c *config) {
		c.accessToken = token
	}
}

// WithSelfID pins the bot's own id up front instead of resolving it
// lazily from the first inbound event.
func WithSelfID(id int64) Option {
	return func(c *config) {
		c.selfID = id
	}
}

// WithCallTimeout sets how long an API call waits for its response.
func WithCallTimeout(d time.Duration) Option {
	return func(c *config) {
		c.callTimeout = d
	}
}

// WithHeartbeatInterval sets the expected heartbeat interval used for
// idle detection until the peer advertises its own.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *config) {
		c.heartbeatInterval = d
	}
}

// WithReconnectInterval sets the base backoff between reconnection
// attempts. The backoff doubles per failed attempt up to the cap.
func WithReconnectInterval(d time.Duration) Option {
	return func(c *config) {
		c.reconnectInterval = d
	}
}

// WithReconnectCap sets the maximum backoff between reconnection
// attempts.
func WithReconnectCap(d time.Duration) Option {
	return func(c *config) {
		c.reconnectCap = d
	}
}

// WithMaxReconnectAttempts sets how many consecutive reconnection
// attempts are made before the connection closes for good.
func WithMaxReconnectAttempts(n int) Option {
	return func(c *config) {
		c.maxReconnectAttempts = n
	}
}

// WithLogger sets a structured logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithOnSend sets a callback invoked with each outbound frame.
func WithOnSend(fn func(frame []byte)) Option {
	return func(c *config) {
		c.onSend = fn
	}
}

// WithOnReceive sets a callback invoked with each inbound frame.
func WithOnReceive(fn func(frame []byte)) Option {
	return func(c *config) {
		c.onReceive = fn
	}
}

// WithDialOptions sets extra WebSocket handshake options.
func WithDialOptions(opts *DialOptions) Option {
	return func(c *config) {
		c.dialOpts = opts
	}
}

func ensureLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
