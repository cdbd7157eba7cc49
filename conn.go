package onebot

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ConnState is the lifecycle state of one peer connection.
type ConnState string

const (
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateDegraded   ConnState = "degraded"
	StateClosed     ConnState = "closed"
)

// heartbeatSlack is the multiple of the expected heartbeat interval
// after which a silent connection is considered degraded.
const heartbeatSlack = 2.5

type dialFunc func(ctx context.Context) (Transport, error)

// conn owns one transport and its receive loop. The receive loop is
// the only goroutine that swaps the transport during reconnection; the
// watchdog forces it into recovery by closing the transport.
type conn struct {
	id      string
	cfg     *config
	logger  *slog.Logger
	client  *Client
	bot     *Bot
	dial    dialFunc
	pending *pendingCalls

	ctx       context.Context
	cancel    context.CancelFunc
	closed    chan struct{}
	closeOnce sync.Once

	// events preserves receive order into the dispatch pipeline.
	events chan Event

	mu         sync.RWMutex
	state      ConnState
	transport  Transport
	lastSeen   time.Time
	hbInterval time.Duration
}

func newConn(client *Client, transport Transport, dial dialFunc) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	c := &conn{
		id:         id,
		cfg:        &client.cfg,
		logger:     client.logger.With(slog.String("conn", id[:8])),
		client:     client,
		dial:       dial,
		ctx:        ctx,
		cancel:     cancel,
		closed:     make(chan struct{}),
		events:     make(chan Event, 128),
		state:      StateConnecting,
		transport:  transport,
		lastSeen:   time.Now(),
		hbInterval: client.cfg.heartbeatInterval,
	}
	c.pending = newPendingCalls(c.logger)
	return c
}

func (c *conn) start() {
	c.setState(StateOpen)
	go c.readLoop()
	go c.dispatchLoop()
	go c.watchdog()
	go c.pingLoop()
}

func (c *conn) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *conn) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *conn) transportRef() Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transport
}

func (c *conn) setTransport(t Transport) {
	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()
}

func (c *conn) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *conn) lastSeenAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}

func (c *conn) expectedInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hbInterval
}

func (c *conn) adoptInterval(d time.Duration) {
	c.mu.Lock()
	c.hbInterval = d
	c.mu.Unlock()
}

// Invoke sends a correlated call and suspends the caller until the
// response arrives, the call times out, or the connection is lost.
// The suspension never involves the receive loop.
func (c *conn) Invoke(ctx context.Context, action string, params any) (json.RawMessage, error) {
	switch c.State() {
	case StateOpen:
	case StateClosed:
		return nil, ErrConnectionLost
	default:
		return nil, ErrNotConnected
	}

	call := c.pending.register(action)

	data, err := json.Marshal(apiRequest{Action: action, Params: params, Echo: call.echo})
	if err != nil {
		c.pending.remove(call.echo)
		return nil, err
	}

	if c.cfg.onSend != nil {
		c.cfg.onSend(data)
	}
	c.logger.Debug("sending call",
		slog.String("action", action),
		slog.String("echo", call.echo),
	)

	if err := c.transportRef().Send(ctx, data); err != nil {
		c.pending.remove(call.echo)
		return nil, err
	}

	timer := time.NewTimer(c.cfg.callTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.pending.remove(call.echo)
		return nil, ctx.Err()
	case <-timer.C:
		c.pending.remove(call.echo)
		return nil, ErrTimeout
	case res := <-call.done:
		if res.err != nil {
			return nil, res.err
		}
		if res.resp.IsFailed() {
			return nil, &RemoteError{
				Action:  action,
				Code:    res.resp.Retcode,
				Message: res.resp.errorMessage(),
			}
		}
		return res.resp.Data, nil
	}
}

// readLoop reads frames until the connection terminally closes,
// running recovery in place when the transport fails.
func (c *conn) readLoop() {
	for {
		data, err := c.transportRef().Receive(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil || c.State() == StateClosed {
				return
			}
			if !c.recover(err) {
				return
			}
			continue
		}

		c.touch()
		if c.cfg.onReceive != nil {
			c.cfg.onReceive(data)
		}
		c.route(data)
	}
}

// route hands one inbound frame to the pending-call table or the
// classifier. A frame carrying an echo with a status/retcode pair is a
// call response and is never seen by event handlers; everything else
// goes through classification. A bad frame is logged and dropped.
func (c *conn) route(data []byte) {
	var peek framePeek
	if err := json.Unmarshal(data, &peek); err != nil {
		c.logger.Warn("dropping undecodable frame", slog.String("error", err.Error()))
		return
	}

	if peek.isResponse() {
		var resp apiResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn("dropping undecodable response", slog.String("echo", peek.Echo))
			return
		}
		c.pending.resolve(&resp)
		return
	}

	if !peek.isEvent() {
		c.logger.Debug("ignoring frame with no post_type")
		return
	}

	event, err := classifyEvent(data)
	if err != nil {
		c.logger.Warn("dropping malformed event", slog.String("error", err.Error()))
		return
	}

	if meta, ok := event.(*MetaEvent); ok && meta.IsHeartbeat() && meta.Interval > 0 {
		c.adoptInterval(time.Duration(meta.Interval) * time.Millisecond)
	}

	if event.Self() != 0 {
		c.bot.adoptSelfID(event.Self())
	}

	select {
	case c.events <- event:
	case <-c.ctx.Done():
	}
}

// dispatchLoop starts delivery for queued events in receive order.
// Each event's handlers run on their own goroutine so a slow handler
// never stalls frame ingestion or other events.
func (c *conn) dispatchLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case event := <-c.events:
			go c.deliver(event)
		}
	}
}

func (c *conn) deliver(event Event) {
	if c.client.engine.handle(c.ctx, c.bot, event) {
		return
	}
	c.client.dispatcher.Dispatch(c.ctx, c.bot, event)
}

// watchdog degrades the connection when neither a heartbeat nor any
// other frame has arrived within the slack window, then closes the
// transport to push the read loop into recovery.
func (c *conn) watchdog() {
	tick := c.cfg.heartbeatInterval / 4
	if tick > time.Second {
		tick = time.Second
	}
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		if c.State() != StateOpen {
			continue
		}

		threshold := time.Duration(float64(c.expectedInterval()) * heartbeatSlack)
		if idle := time.Since(c.lastSeenAt()); idle > threshold {
			c.logger.Warn("no heartbeat within expected window",
				slog.Duration("idle", idle),
				slog.Duration("threshold", threshold),
			)
			c.setState(StateDegraded)
			_ = c.transportRef().Close()
		}
	}
}

// pingLoop keeps the transport itself alive. Failures are left to the
// read loop; liveness is judged only by inbound frames.
func (c *conn) pingLoop() {
	ticker := time.NewTicker(c.cfg.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		if c.State() != StateOpen {
			continue
		}
		_ = c.transportRef().Ping(c.ctx)
	}
}

// recover fails all pending calls and re-runs the handshake with
// exponential backoff. It reports whether the connection is open
// again; on a handshake rejection or exhausted attempts it closes the
// connection for good.
func (c *conn) recover(cause error) bool {
	c.logger.Warn("connection lost", slog.String("error", cause.Error()))
	c.setState(StateDegraded)
	c.pending.failAll(ErrConnectionLost)
	_ = c.transportRef().Close()

	if c.dial == nil {
		c.closeTerminal(cause)
		return false
	}

	backoff := c.cfg.reconnectInterval
	for attempt := 1; attempt <= c.cfg.maxReconnectAttempts; attempt++ {
		select {
		case <-c.ctx.Done():
			c.closeTerminal(cause)
			return false
		case <-time.After(backoff):
		}

		c.logger.Info("reconnecting",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
		)

		transport, err := c.dial(c.ctx)
		if err == nil {
			c.setTransport(transport)
			c.touch()
			c.setState(StateOpen)
			c.logger.Info("reconnected", slog.Int("attempt", attempt))
			return true
		}

		cause = err
		var connectErr *ConnectError
		if errors.As(err, &connectErr) {
			c.logger.Error("handshake rejected, not retrying", slog.String("error", err.Error()))
			break
		}

		c.logger.Warn("reconnect attempt failed", slog.String("error", err.Error()))
		backoff *= 2
		if backoff > c.cfg.reconnectCap {
			backoff = c.cfg.reconnectCap
		}
	}

	c.closeTerminal(errors.Wrap(cause, "reconnect attempts exhausted"))
	return false
}

// closeTerminal moves the connection to its final state exactly once.
func (c *conn) closeTerminal(cause error) {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		c.pending.failAll(ErrConnectionLost)
		_ = c.transportRef().Close()
		c.cancel()
		close(c.closed)

		if cause != nil {
			c.logger.Info("connection closed", slog.String("cause", cause.Error()))
		} else {
			c.logger.Info("connection closed")
		}
	})
}

// Done is closed when the connection reaches its terminal state.
func (c *conn) Done() <-chan struct{} {
	return c.closed
}
