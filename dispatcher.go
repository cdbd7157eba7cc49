package onebot

import (
	"context"
	"log/slog"
	"reflect"
	"runtime"
	"sync"
)

// Handler consumes one classified event. Handlers for different events
// may run concurrently; the library never serializes them, so handlers
// sharing state must protect it themselves.
type Handler func(ctx context.Context, bot *Bot, event Event)

// Dispatcher delivers classified events to registered handlers.
// Within one event type, delivery order equals registration order.
// It is safe to register handlers while dispatch is running.
type Dispatcher struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewDispatcher creates an empty dispatcher. A nil logger discards.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger:   ensureLogger(logger),
		handlers: make(map[string][]Handler),
	}
}

// Register appends a handler to the ordered registry for postType.
// Use PostTypeAny to receive every event.
func (d *Dispatcher) Register(postType string, handler Handler) {
	d.mu.Lock()
	d.handlers[postType] = append(d.handlers[postType], handler)
	d.mu.Unlock()
}

// Dispatch invokes all handlers registered for the event's type and
// for the wildcard type, in registration order. A panicking handler is
// logged and does not prevent the remaining handlers from running.
func (d *Dispatcher) Dispatch(ctx context.Context, bot *Bot, event Event) {
	d.mu.RLock()
	handlers := make([]Handler, 0, len(d.handlers[event.PostType()])+len(d.handlers[PostTypeAny]))
	handlers = append(handlers, d.handlers[event.PostType()]...)
	handlers = append(handlers, d.handlers[PostTypeAny]...)
	d.mu.RUnlock()

	for _, h := range handlers {
		d.invoke(ctx, bot, event, h)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, bot *Bot, event Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked",
				slog.String("handler", funcName(h)),
				slog.String("post_type", event.PostType()),
				slog.Any("panic", r),
			)
		}
	}()
	h(ctx, bot, event)
}

func funcName(h Handler) string {
	if fn := runtime.FuncForPC(reflect.ValueOf(h).Pointer()); fn != nil {
		return fn.Name()
	}
	return "unknown"
}
