// Package ws implements the signaling core of the relay: a single hub that owns
// every connection and room, routes inbound frames and relays WebRTC negotiation
// payloads between peers.
//
// # Features
//
//   - Connection registry with accept-order iteration and user id binding
//   - Rooms with join-order host election and delete-on-empty
//   - One-shot, cancellable empty-room expiry per room
//   - Closed set of inbound frames with an explicit unknown-type fallback
//   - Non-blocking fan-out; a full send buffer drops the frame
//   - Periodic stale connection sweep sharing the disconnect path
//   - Per-frame tracing spans, metrics and panic recovery
//
// # Basic Usage
//
//	hub, err := ws.NewHub(
//	    ws.WithFrontendOrigin("https://app.example.com"),
//	    ws.WithLogger(log),
//	)
//	if err != nil {
//	    return err
//	}
//	go hub.Run(ctx)
//
//	r.GET("/ws", func(c *relay.Context) {
//	    _ = hub.HandleUpgrade(c.Writer, c.Request)
//	})
//
//	defer hub.Shutdown(shutdownCtx)
//
// # Headless Usage
//
// Any Transport can be attached without HTTP, which is how the tests drive the hub:
//
//	id, _ := hub.Connect(transport)
//	hub.Dispatch(ctx, id, []byte(`{"type":"join-room","roomId":"abc"}`))
//	hub.Disconnect(id)
//
// # Concurrency
//
// Registry, RoomManager and Broadcaster are not safe on their own; the hub mutex
// serializes every mutation. Transport.Send is called with that mutex held and
// must never block or call back into the hub.
package ws
