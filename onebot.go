// Package onebot provides a Go client for OneBot v11 chat-bot peers
// over a persistent WebSocket connection.
//
// The client multiplexes correlated API calls and unsolicited events
// over one connection. Calls are matched to their responses by an echo
// token; events are classified by post type and delivered to handlers
// registered on a dispatcher, optionally filtered through a rule
// engine of text matchers.
//
// # Thread Safety
//
// [Client], [Bot], [Dispatcher], and [Engine] are safe for concurrent
// use by multiple goroutines. Handlers for different events may run
// concurrently; handlers registered for the same event run in
// registration order.
//
// # Basic Usage
//
//	ctx := context.Background()
//
//	client := onebot.New(
//	    onebot.WithAccessToken("secret"),
//	)
//	defer client.Close()
//
//	client.Engine().OnCommand(func(ctx context.Context, bot *onebot.Bot, event onebot.Event) {
//	    msg := event.(*onebot.MessageEvent)
//	    bot.Reply(ctx, msg, onebot.NewMessage(onebot.Text("pong")))
//	}, "ping")
//
//	client.OnMessage(func(ctx context.Context, bot *onebot.Bot, event onebot.Event) {
//	    msg := event.(*onebot.MessageEvent)
//	    log.Printf("[%d] %s", msg.UserID, msg.PlainText())
//	})
//
//	bot, err := client.Connect(ctx, "ws://localhost:6700")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	<-bot.Done()
//
// # Observability
//
// Use [WithLogger], [WithOnSend], and [WithOnReceive] to add logging
// and monitoring to the client:
//
//	client := onebot.New(
//	    onebot.WithLogger(slog.Default()),
//	    onebot.WithOnReceive(func(frame []byte) {
//	        metrics.FramesReceived.Inc()
//	    }),
//	)
package onebot
