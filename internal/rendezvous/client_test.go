package rendezvous_test

import (
	"context"
	"testing"
	"time"

	"wormhole.dev/core/internal/relaytest"
	"wormhole.dev/core/internal/rendezvous"
)

func waitFor(t *testing.T, events chan rendezvous.Event, kind rendezvous.EventKind, timeout time.Duration) rendezvous.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-events:
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func TestBindClaimOpenAddRoundTrip(t *testing.T) {
	server := relaytest.NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := rendezvous.New("", server.Dial())
	a.Start(ctx)
	waitFor(t, a.Events, rendezvous.Connected, time.Second)
	a.Bind("appid", "sideA")
	waitFor(t, a.Events, rendezvous.RxWelcome, time.Second)

	a.Claim("1")
	claimed := waitFor(t, a.Events, rendezvous.RxClaimed, time.Second)

	b := rendezvous.New("", server.Dial())
	b.Start(ctx)
	waitFor(t, b.Events, rendezvous.Connected, time.Second)
	b.Bind("appid", "sideB")
	waitFor(t, b.Events, rendezvous.RxWelcome, time.Second)
	b.Claim("1")
	waitFor(t, b.Events, rendezvous.RxClaimed, time.Second)

	a.Open(claimed.Mailbox)
	b.Open(claimed.Mailbox)

	a.Add("0", []byte{0xca, 0xfe})
	msg := waitFor(t, b.Events, rendezvous.RxMessage, time.Second)
	if msg.Side != "sideA" || msg.Phase != "0" {
		t.Fatalf("got side=%q phase=%q, want sideA/0", msg.Side, msg.Phase)
	}
	if len(msg.Body) != 2 || msg.Body[0] != 0xca || msg.Body[1] != 0xfe {
		t.Fatalf("got body %x, want cafe", msg.Body)
	}
}

func TestCloseEmitsClosed(t *testing.T) {
	server := relaytest.NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := rendezvous.New("", server.Dial())
	c.Start(ctx)
	waitFor(t, c.Events, rendezvous.Connected, time.Second)
	c.Bind("appid", "side1")
	waitFor(t, c.Events, rendezvous.RxWelcome, time.Second)

	c.Claim("7")
	claimed := waitFor(t, c.Events, rendezvous.RxClaimed, time.Second)
	c.Open(claimed.Mailbox)
	c.Close(claimed.Mailbox, "happy")
	waitFor(t, c.Events, rendezvous.RxClosed, time.Second)

	c.Stop()
	waitFor(t, c.Events, rendezvous.StoppedRC, time.Second)
}
