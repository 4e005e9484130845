package rendezvous

import (
	"context"
	"time"

	"nhooyr.io/websocket"
)

// Transport is the duplex of text frames the core consumes. spec.md §5
// treats the concrete transport as injected and out of the core's scope;
// this interface is that seam. WSTransport below is the default
// implementation, grounded on the teacher's use of nhooyr.io/websocket.
type Transport interface {
	// Connect establishes (or re-establishes) the connection.
	Connect(ctx context.Context) error
	// ReadMessage blocks for the next inbound text frame.
	ReadMessage(ctx context.Context) ([]byte, error)
	// WriteMessage sends an outbound text frame. May block on backpressure.
	WriteMessage(ctx context.Context, data []byte) error
	// Close tears down the connection with the given status/reason.
	Close(status int, reason string) error
}

// Clock provides the reconnect timer primitive the core suspends on.
// New installs RealClock; Client has no option or exported field to replace
// it.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

// RealClock is the default Clock, backed by time.After.
type RealClock struct{}

// After implements Clock.
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// WSTransport is a Transport backed by a WebSocket connection, following the
// connection style of the teacher's wormhole/dial.go (nhooyr.io/websocket,
// context-scoped reads/writes, explicit close codes).
type WSTransport struct {
	URL     string
	conn    *websocket.Conn
}

// NewWSTransport returns a Transport that dials url on Connect.
func NewWSTransport(url string) *WSTransport {
	return &WSTransport{URL: url}
}

// Connect implements Transport.
func (t *WSTransport) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, t.URL, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(64 << 20)
	t.conn = conn
	return nil
}

// ReadMessage implements Transport.
func (t *WSTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

// WriteMessage implements Transport.
func (t *WSTransport) WriteMessage(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

// Close implements Transport.
func (t *WSTransport) Close(status int, reason string) error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close(websocket.StatusCode(status), reason)
}
