package onebot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sentRequest is a decoded outbound call frame.
type sentRequest struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
	Echo   string          `json:"echo"`
}

// mockTransport implements Transport for testing.
type mockTransport struct {
	mu   sync.Mutex
	sent []sentRequest

	frames   chan []byte
	recvErrs chan error
	done     chan struct{}
	once     sync.Once

	// Channel signaled when a frame is sent.
	onSend chan sentRequest
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		frames:   make(chan []byte, 100),
		recvErrs: make(chan error, 10),
		done:     make(chan struct{}),
		onSend:   make(chan sentRequest, 100),
	}
}

func (m *mockTransport) Send(ctx context.Context, data []byte) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	var req sentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}

	m.mu.Lock()
	m.sent = append(m.sent, req)
	m.mu.Unlock()

	select {
	case m.onSend <- req:
	default:
	}
	return nil
}

func (m *mockTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, ErrClosed
	case err := <-m.recvErrs:
		return nil, err
	case frame := <-m.frames:
		return frame, nil
	}
}

func (m *mockTransport) Ping(ctx context.Context) error {
	return nil
}

func (m *mockTransport) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *mockTransport) pushFrame(frame string) {
	m.frames <- []byte(frame)
}

func (m *mockTransport) failReceive(err error) {
	m.recvErrs <- err
}

func (m *mockTransport) sentRequests() []sentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentRequest(nil), m.sent...)
}

// waitForRequest waits for a call frame to be sent and returns it.
func (m *mockTransport) waitForRequest(t *testing.T, timeout time.Duration) sentRequest {
	t.Helper()
	select {
	case req := <-m.onSend:
		return req
	case <-time.After(timeout):
		t.Fatal("timeout waiting for request")
		return sentRequest{}
	}
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *mockTransport, *Bot) {
	t.Helper()

	client := New(append([]Option{WithCallTimeout(2 * time.Second)}, opts...)...)
	transport := newMockTransport()

	bot, err := client.ConnectTransport(context.Background(), transport)
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })
	return client, transport, bot
}

func okResponse(echo string, data string) string {
	return fmt.Sprintf(`{"status":"ok","retcode":0,"data":%s,"echo":%q}`, data, echo)
}

func TestBot_CallAPI(t *testing.T) {
	_, transport, bot := newTestClient(t)

	go func() {
		req := transport.waitForRequest(t, time.Second)
		transport.pushFrame(okResponse(req.Echo, `{"message_id":42}`))
	}()

	data, err := bot.CallAPI(context.Background(), "send_private_msg", map[string]any{
		"user_id": 1000,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"message_id":42}`, string(data))
}

func TestBot_CallAPI_RemoteError(t *testing.T) {
	_, transport, bot := newTestClient(t)

	go func() {
		req := transport.waitForRequest(t, time.Second)
		transport.pushFrame(fmt.Sprintf(
			`{"status":"failed","retcode":1400,"data":null,"message":"bad params","echo":%q}`,
			req.Echo,
		))
	}()

	_, err := bot.CallAPI(context.Background(), "send_private_msg", nil)
	require.Error(t, err)

	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "send_private_msg", remoteErr.Action)
	assert.Equal(t, 1400, remoteErr.Code)
	assert.Equal(t, "bad params", remoteErr.Message)
}

func TestBot_CallAPI_Timeout(t *testing.T) {
	_, _, bot := newTestClient(t, WithCallTimeout(60*time.Millisecond))

	start := time.Now()
	_, err := bot.CallAPI(context.Background(), "get_status", nil)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	// The abandoned slot must not leak.
	assert.Equal(t, 0, bot.conn.pending.len())
}

func TestBot_CallAPI_ContextCanceled(t *testing.T) {
	_, _, bot := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := bot.CallAPI(ctx, "get_status", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, bot.conn.pending.len())
}

func TestBot_CallAPI_EchoUnique(t *testing.T) {
	_, transport, bot := newTestClient(t)

	const calls = 5
	go func() {
		for i := 0; i < calls; i++ {
			req := transport.waitForRequest(t, time.Second)
			transport.pushFrame(okResponse(req.Echo, "null"))
		}
	}()

	seen := make(map[string]bool)
	for i := 0; i < calls; i++ {
		_, err := bot.CallAPI(context.Background(), "get_status", nil)
		require.NoError(t, err)
	}
	for _, req := range transport.sentRequests() {
		assert.False(t, seen[req.Echo], "echo %s reused", req.Echo)
		seen[req.Echo] = true
	}
}

func TestConn_DisconnectFailsPendingCalls(t *testing.T) {
	_, transport, bot := newTestClient(t)

	const calls = 4
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		go func() {
			_, err := bot.CallAPI(context.Background(), "get_status", nil)
			errs <- err
		}()
	}

	for i := 0; i < calls; i++ {
		transport.waitForRequest(t, time.Second)
	}

	transport.failReceive(&NetworkError{Op: "read", Err: fmt.Errorf("connection reset")})

	for i := 0; i < calls; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrConnectionLost)
		case <-time.After(time.Second):
			t.Fatal("call did not resolve after disconnect")
		}
	}

	// Without a dialer the connection closes for good.
	select {
	case <-bot.Done():
	case <-time.After(time.Second):
		t.Fatal("connection did not close")
	}
	assert.Equal(t, StateClosed, bot.State())

	_, err := bot.CallAPI(context.Background(), "get_status", nil)
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestConn_ResponseNeverReachesHandlers(t *testing.T) {
	client, transport, bot := newTestClient(t)

	events := make(chan Event, 10)
	client.OnAny(func(ctx context.Context, bot *Bot, event Event) {
		events <- event
	})

	go func() {
		req := transport.waitForRequest(t, time.Second)
		transport.pushFrame(okResponse(req.Echo, `{"online":true,"good":true}`))
		transport.pushFrame(`{"time":1700000000,"self_id":99,"post_type":"notice","notice_type":"group_upload"}`)
	}()

	_, err := bot.CallAPI(context.Background(), "get_status", nil)
	require.NoError(t, err)

	select {
	case event := <-events:
		assert.Equal(t, PostTypeNotice, event.PostType())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	select {
	case event := <-events:
		t.Fatalf("unexpected extra delivery: %#v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConn_UnknownEchoIgnored(t *testing.T) {
	client, transport, bot := newTestClient(t)

	events := make(chan Event, 10)
	client.OnAny(func(ctx context.Context, bot *Bot, event Event) {
		events <- event
	})

	// A response nobody asked for is dropped without disturbing
	// subsequent traffic.
	transport.pushFrame(okResponse("stale-1", "null"))
	transport.pushFrame(`{"time":1700000000,"self_id":99,"post_type":"notice","notice_type":"group_upload"}`)

	select {
	case event := <-events:
		assert.Equal(t, PostTypeNotice, event.PostType())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	assert.Equal(t, 0, bot.conn.pending.len())
}

func TestConn_MalformedFramesDoNotStopStream(t *testing.T) {
	client, transport, _ := newTestClient(t)

	events := make(chan Event, 10)
	client.OnAny(func(ctx context.Context, bot *Bot, event Event) {
		events <- event
	})

	recv := func() Event {
		t.Helper()
		select {
		case event := <-events:
			return event
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
			return nil
		}
	}

	transport.pushFrame(`{"time":1,"self_id":99,"post_type":"message","message_type":"private","message_id":1,"user_id":1000,"message":[{"type":"text","data":{"text":"first"}}]}`)
	first := recv().(*MessageEvent)
	assert.Equal(t, "first", first.PlainText())

	// Garbage, then a known type missing a required field. Both are
	// dropped; the stream continues.
	transport.pushFrame(`{not json`)
	transport.pushFrame(`{"time":2,"self_id":99,"post_type":"message","message_id":2}`)

	transport.pushFrame(`{"time":3,"self_id":99,"post_type":"message","message_type":"private","message_id":3,"user_id":1000,"message":[{"type":"text","data":{"text":"second"}}]}`)
	second := recv().(*MessageEvent)
	assert.Equal(t, "second", second.PlainText())
}

func TestConn_UnknownPostTypeDelivered(t *testing.T) {
	client, transport, _ := newTestClient(t)

	events := make(chan Event, 10)
	client.OnAny(func(ctx context.Context, bot *Bot, event Event) {
		events <- event
	})

	transport.pushFrame(`{"time":1700000000,"self_id":99,"post_type":"message_sent","message_id":7}`)

	select {
	case event := <-events:
		generic, ok := event.(*GenericEvent)
		require.True(t, ok, "expected GenericEvent, got %T", event)
		assert.Equal(t, "message_sent", generic.PostType())
		assert.NotEmpty(t, generic.Raw)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestConn_AdoptsSelfIDFromEvent(t *testing.T) {
	client, transport, bot := newTestClient(t)

	assert.Equal(t, int64(0), bot.SelfID())

	transport.pushFrame(`{"time":1700000000,"self_id":12345,"post_type":"meta_event","meta_event_type":"lifecycle","sub_type":"connect"}`)

	require.Eventually(t, func() bool {
		return bot.SelfID() == 12345
	}, time.Second, 5*time.Millisecond)

	assert.Same(t, bot, client.Bot(12345))
	assert.Len(t, client.Bots(), 1)
}

func TestConn_HeartbeatIntervalAdopted(t *testing.T) {
	_, transport, bot := newTestClient(t)

	transport.pushFrame(`{"time":1700000000,"self_id":99,"post_type":"meta_event","meta_event_type":"heartbeat","status":{"online":true,"good":true},"interval":5000}`)

	require.Eventually(t, func() bool {
		return bot.conn.expectedInterval() == 5*time.Second
	}, time.Second, 5*time.Millisecond)
}

func TestConn_ReconnectsAfterFailure(t *testing.T) {
	client := New(
		WithCallTimeout(time.Second),
		WithReconnectInterval(5*time.Millisecond),
		WithReconnectCap(20*time.Millisecond),
		WithMaxReconnectAttempts(5),
	)
	t.Cleanup(func() { _ = client.Close() })

	first := newMockTransport()
	second := newMockTransport()

	var attempts atomic.Int32
	dial := func(ctx context.Context) (Transport, error) {
		if attempts.Add(1) < 3 {
			return nil, &NetworkError{Op: "dial", Err: fmt.Errorf("refused")}
		}
		return second, nil
	}

	bot, err := client.attach(first, dial)
	require.NoError(t, err)

	first.failReceive(&NetworkError{Op: "read", Err: fmt.Errorf("connection reset")})

	require.Eventually(t, func() bool {
		return bot.State() == StateOpen && attempts.Load() == 3
	}, 2*time.Second, 5*time.Millisecond)

	// Calls flow over the replacement transport.
	go func() {
		req := second.waitForRequest(t, time.Second)
		second.pushFrame(okResponse(req.Echo, `{"online":true,"good":true}`))
	}()

	status, err := bot.GetStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Online)
}

func TestConn_ReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	client := New(
		WithReconnectInterval(time.Millisecond),
		WithReconnectCap(5*time.Millisecond),
		WithMaxReconnectAttempts(3),
	)
	t.Cleanup(func() { _ = client.Close() })

	transport := newMockTransport()

	var attempts atomic.Int32
	dial := func(ctx context.Context) (Transport, error) {
		attempts.Add(1)
		return nil, &NetworkError{Op: "dial", Err: fmt.Errorf("refused")}
	}

	bot, err := client.attach(transport, dial)
	require.NoError(t, err)

	transport.failReceive(&NetworkError{Op: "read", Err: fmt.Errorf("connection reset")})

	select {
	case <-bot.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not close")
	}

	assert.Equal(t, StateClosed, bot.State())
	assert.Equal(t, int32(3), attempts.Load())

	_, err = bot.CallAPI(context.Background(), "get_status", nil)
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestConn_AuthRejectionStopsReconnect(t *testing.T) {
	client := New(
		WithReconnectInterval(time.Millisecond),
		WithMaxReconnectAttempts(10),
	)
	t.Cleanup(func() { _ = client.Close() })

	transport := newMockTransport()

	var attempts atomic.Int32
	dial := func(ctx context.Context) (Transport, error) {
		attempts.Add(1)
		return nil, &ConnectError{URL: "ws://peer", Err: fmt.Errorf("401")}
	}

	bot, err := client.attach(transport, dial)
	require.NoError(t, err)

	transport.failReceive(&NetworkError{Op: "read", Err: fmt.Errorf("connection reset")})

	select {
	case <-bot.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not close")
	}

	assert.Equal(t, int32(1), attempts.Load())
}

func TestConn_WatchdogDetectsSilence(t *testing.T) {
	client := New(
		WithHeartbeatInterval(30 * time.Millisecond),
		WithReconnectInterval(time.Millisecond),
		WithMaxReconnectAttempts(3),
	)
	t.Cleanup(func() { _ = client.Close() })

	first := newMockTransport()
	second := newMockTransport()

	var attempts atomic.Int32
	dial := func(ctx context.Context) (Transport, error) {
		attempts.Add(1)
		return second, nil
	}

	bot, err := client.attach(first, dial)
	require.NoError(t, err)

	// No frames ever arrive on the first transport, so the watchdog
	// must tear it down and the dialer bring up the second.
	require.Eventually(t, func() bool {
		return attempts.Load() >= 1 && bot.State() == StateOpen
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case <-first.done:
	default:
		t.Fatal("silent transport was not closed")
	}
}

func TestConn_HeartbeatKeepsConnectionAlive(t *testing.T) {
	client := New(
		WithHeartbeatInterval(40 * time.Millisecond),
		WithMaxReconnectAttempts(1),
	)
	t.Cleanup(func() { _ = client.Close() })

	transport := newMockTransport()
	bot, err := client.attach(transport, nil)
	require.NoError(t, err)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				transport.pushFrame(`{"time":1700000000,"self_id":99,"post_type":"meta_event","meta_event_type":"heartbeat","status":{"online":true,"good":true},"interval":40}`)
			}
		}
	}()

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, StateOpen, bot.State())
}

func TestClient_Close(t *testing.T) {
	client, _, bot := newTestClient(t)

	require.NoError(t, client.Close())

	select {
	case <-bot.Done():
	case <-time.After(time.Second):
		t.Fatal("connection did not close")
	}
	assert.Equal(t, StateClosed, bot.State())

	// Closing twice and attaching afterwards both refuse.
	assert.ErrorIs(t, client.Close(), ErrClosed)

	_, err := client.ConnectTransport(context.Background(), newMockTransport())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClient_WithObservability(t *testing.T) {
	var sent, received atomic.Int32

	client := New(
		WithCallTimeout(time.Second),
		WithOnSend(func(frame []byte) { sent.Add(1) }),
		WithOnReceive(func(frame []byte) { received.Add(1) }),
	)
	t.Cleanup(func() { _ = client.Close() })

	transport := newMockTransport()
	bot, err := client.ConnectTransport(context.Background(), transport)
	require.NoError(t, err)

	go func() {
		req := transport.waitForRequest(t, time.Second)
		transport.pushFrame(okResponse(req.Echo, "null"))
	}()

	_, err = bot.CallAPI(context.Background(), "get_status", nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), sent.Load())
	require.Eventually(t, func() bool {
		return received.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestClient_WithSelfIDIndexesImmediately(t *testing.T) {
	client := New(WithSelfID(777))
	t.Cleanup(func() { _ = client.Close() })

	bot, err := client.ConnectTransport(context.Background(), newMockTransport())
	require.NoError(t, err)

	assert.Equal(t, int64(777), bot.SelfID())
	assert.Same(t, bot, client.Bot(777))
}
