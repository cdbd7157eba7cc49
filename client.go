package onebot

import (
	"context"
	"log/slog"
	"sync"
)

// Client owns the shared handler pipeline and the connected bots. One
// client can serve any number of peer connections; they all feed the
// same rule engine and dispatcher.
type Client struct {
	cfg        config
	logger     *slog.Logger
	dispatcher *Dispatcher
	engine     *Engine

	mu     sync.RWMutex
	conns  []*conn
	bots   map[int64]*Bot
	closed bool
}

// New creates a client with no connections.
func New(opts ...Option) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := ensureLogger(cfg.logger)
	return &Client{
		cfg:        cfg,
		logger:     logger,
		dispatcher: NewDispatcher(logger),
		engine:     NewEngine(logger),
		bots:       make(map[int64]*Bot),
	}
}

// Connect dials the peer at url and attaches a bot to the client. The
// connection re-establishes itself with exponential backoff when it
// drops; it closes for good after the configured attempt budget or on
// an authentication rejection.
func (c *Client) Connect(ctx context.Context, url string) (*Bot, error) {
	dial := func(ctx context.Context) (Transport, error) {
		return Dial(ctx, url, c.cfg.accessToken, c.cfg.dialOpts)
	}

	transport, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	return c.attach(transport, dial)
}

// ConnectTransport attaches a bot over an already-established
// transport. The connection does not reconnect when the transport
// fails; it closes terminally instead.
func (c *Client) ConnectTransport(ctx context.Context, transport Transport) (*Bot, error) {
	_ = ctx
	return c.attach(transport, nil)
}

func (c *Client) attach(transport Transport, dial dialFunc) (*Bot, error) {
	cn := newConn(c, transport, dial)
	bot := &Bot{conn: cn, client: c, selfID: c.cfg.selfID}
	cn.bot = bot

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cn.closeTerminal(nil)
		return nil, ErrClosed
	}
	c.conns = append(c.conns, cn)
	if bot.selfID != 0 {
		c.bots[bot.selfID] = bot
	}
	c.mu.Unlock()

	cn.start()
	return bot, nil
}

// indexBot records a bot under its resolved id so Bot can find it.
func (c *Client) indexBot(b *Bot) {
	id := b.SelfID()
	if id == 0 {
		return
	}
	c.mu.Lock()
	c.bots[id] = b
	c.mu.Unlock()

	c.logger.Info("bot identified", slog.Int64("self_id", id))
}

// Bot returns the connected bot with the given id, or nil.
func (c *Client) Bot(selfID int64) *Bot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bots[selfID]
}

// Bots returns all bots with a resolved id.
func (c *Client) Bots() []*Bot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bots := make([]*Bot, 0, len(c.bots))
	for _, b := range c.bots {
		bots = append(bots, b)
	}
	return bots
}

// Dispatcher exposes the shared event dispatcher.
func (c *Client) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// Engine exposes the shared rule engine.
func (c *Client) Engine() *Engine {
	return c.engine
}

// On registers a handler for one event post type, or PostTypeAny for
// every event.
func (c *Client) On(postType string, handler Handler) {
	c.dispatcher.Register(postType, handler)
}

// OnMessage registers a handler for message events.
func (c *Client) OnMessage(handler Handler) {
	c.dispatcher.Register(PostTypeMessage, handler)
}

// OnNotice registers a handler for notice events.
func (c *Client) OnNotice(handler Handler) {
	c.dispatcher.Register(PostTypeNotice, handler)
}

// OnRequest registers a handler for request events.
func (c *Client) OnRequest(handler Handler) {
	c.dispatcher.Register(PostTypeRequest, handler)
}

// OnMeta registers a handler for meta events.
func (c *Client) OnMeta(handler Handler) {
	c.dispatcher.Register(PostTypeMeta, handler)
}

// OnAny registers a handler for every event.
func (c *Client) OnAny(handler Handler) {
	c.dispatcher.Register(PostTypeAny, handler)
}

// Close terminally closes every connection. Outstanding calls resolve
// with ErrConnectionLost.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	conns := make([]*conn, len(c.conns))
	copy(conns, c.conns)
	c.mu.Unlock()

	for _, cn := range conns {
		cn.closeTerminal(nil)
	}
	return nil
}
