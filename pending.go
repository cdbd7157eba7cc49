package onebot

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// callResult is the terminal outcome delivered to a suspended caller.
type callResult struct {
	resp *apiResponse
	err  error
}

// pendingCall is one outstanding invocation awaiting its response.
type pendingCall struct {
	echo      string
	action    string
	submitted time.Time

	// done is buffered so resolution never blocks the receive loop.
	// The table guarantees at most one send per call.
	done chan callResult
}

// pendingCalls correlates responses back to their callers. Correlation
// ids are monotonic within the table's lifetime and carry a random
// instance prefix, so a response from a previous connection epoch can
// never alias a live call.
type pendingCalls struct {
	prefix string
	logger *slog.Logger

	mu    sync.Mutex
	next  uint64
	calls map[string]*pendingCall
}

func newPendingCalls(logger *slog.Logger) *pendingCalls {
	return &pendingCalls{
		prefix: uuid.NewString()[:8],
		logger: logger,
		calls:  make(map[string]*pendingCall),
	}
}

// register allocates a correlation id and a result slot for one call.
func (p *pendingCalls) register(action string) *pendingCall {
	p.mu.Lock()
	p.next++
	call := &pendingCall{
		echo:      fmt.Sprintf("%s-%d", p.prefix, p.next),
		action:    action,
		submitted: time.Now(),
		done:      make(chan callResult, 1),
	}
	p.calls[call.echo] = call
	p.mu.Unlock()
	return call
}

// remove drops a call without resolving it. Used by the caller after a
// timeout or cancellation so the slot cannot leak.
func (p *pendingCalls) remove(echo string) {
	p.mu.Lock()
	delete(p.calls, echo)
	p.mu.Unlock()
}

// resolve fulfils the call matching the response's echo. Each call is
// resolved at most once; an unknown or already-resolved echo is a
// logged no-op.
func (p *pendingCalls) resolve(resp *apiResponse) {
	p.mu.Lock()
	call, ok := p.calls[resp.Echo]
	if ok {
		delete(p.calls, resp.Echo)
	}
	p.mu.Unlock()

	if !ok {
		p.logger.Warn("response with no pending call", slog.String("echo", resp.Echo))
		return
	}

	call.done <- callResult{resp: resp}
}

// failAll resolves every outstanding call with err. Called on
// connection loss so no caller is left to time out silently.
func (p *pendingCalls) failAll(err error) {
	p.mu.Lock()
	calls := make([]*pendingCall, 0, len(p.calls))
	for _, call := range p.calls {
		calls = append(calls, call)
	}
	p.calls = make(map[string]*pendingCall)
	p.mu.Unlock()

	for _, call := range calls {
		call.done <- callResult{err: err}
	}
}

func (p *pendingCalls) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
