package machine_test

import (
	"context"
	"testing"
	"time"

	"wormhole.dev/core/internal/machine"
	"wormhole.dev/core/internal/relaytest"
	"wormhole.dev/core/internal/rendezvous"
)

// peer bundles a rendezvous.Client and the machine.Core it drives, wired
// together exactly as package wormhole wires them, so these tests exercise
// the whole sub-machine composition against a real (in-memory) relay.
type peer struct {
	t    *testing.T
	rc   *rendezvous.Client
	core *machine.Core
	out  chan machine.Event
}

func newPeer(t *testing.T, ctx context.Context, server *relaytest.Server, appid, side string) *peer {
	t.Helper()
	rc := rendezvous.New("", server.Dial())
	core := machine.New(appid, side, rc)
	p := &peer{t: t, rc: rc, core: core, out: make(chan machine.Event, 256)}

	rc.Start(ctx)
	go p.pumpRC(ctx)
	go p.pumpCore(ctx)

	rc.Bind(appid, side)
	return p
}

func (p *peer) pumpRC(ctx context.Context) {
	for {
		select {
		case e, ok := <-p.rc.Events:
			if !ok {
				return
			}
			p.core.Dispatch(translateRC(e))
			if e.Kind == rendezvous.StoppedRC {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *peer) pumpCore(ctx context.Context) {
	for {
		select {
		case e, ok := <-p.core.Out:
			if !ok {
				return
			}
			select {
			case p.out <- e:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// translateRC mirrors wormhole.translateRC for every event kind except
// rendezvous.RxError, which the relay double never sends; duplicated here so
// this test does not need to depend on package wormhole.
func translateRC(e rendezvous.Event) machine.Event {
	switch e.Kind {
	case rendezvous.Connected:
		return machine.Event{Kind: machine.EvRCConnected}
	case rendezvous.Lost:
		return machine.Event{Kind: machine.EvRCLost}
	case rendezvous.RxWelcome:
		return machine.Event{Kind: machine.EvRCWelcome, Body: e.Welcome}
	case rendezvous.RxNameplates:
		return machine.Event{Kind: machine.EvRCNameplates, Nameplates: e.Nameplates}
	case rendezvous.RxAllocated:
		return machine.Event{Kind: machine.EvRCAllocated, Nameplate: e.Nameplate}
	case rendezvous.RxClaimed:
		return machine.Event{Kind: machine.EvRCClaimed, Mailbox: e.Mailbox}
	case rendezvous.RxReleased:
		return machine.Event{Kind: machine.EvRCReleased}
	case rendezvous.RxMessage:
		return machine.Event{Kind: machine.EvRCMessage, Side: e.Side, Phase: e.Phase, Body: e.Body}
	case rendezvous.RxClosed:
		return machine.Event{Kind: machine.EvRCClosed}
	case rendezvous.StoppedRC:
		return machine.Event{Kind: machine.EvRCStopped}
	}
	return machine.Event{}
}

func (p *peer) waitFor(kind machine.EventKind, timeout time.Duration) machine.Event {
	p.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-p.out:
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			p.t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

const testTimeout = 2 * time.Second

// TestRoundTripAllocateAndSetCode exercises testable property 1 (S1/S2):
// one side allocates a code, the other sets it, and both derive the same
// verifier and can exchange an application message.
func TestRoundTripAllocateAndSetCode(t *testing.T) {
	server := relaytest.NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newPeer(t, ctx, server, "appid", "sideA")
	a.core.Dispatch(machine.Event{Kind: machine.EvAllocateCode, Length: 2})
	got := a.waitFor(machine.EvBossGotCode, testTimeout)
	code := got.Code
	if code == "" {
		t.Fatal("allocator produced an empty code")
	}

	b := newPeer(t, ctx, server, "appid", "sideB")
	b.core.Dispatch(machine.Event{Kind: machine.EvSetCode, Code: code})

	av := a.waitFor(machine.EvFirstVerifiedMessage, testTimeout)
	bv := b.waitFor(machine.EvFirstVerifiedMessage, testTimeout)
	if string(av.Verifier) != string(bv.Verifier) {
		t.Fatalf("verifiers differ: %x vs %x", av.Verifier, bv.Verifier)
	}

	a.core.Dispatch(machine.Event{Kind: machine.EvSend, Message: []byte("hello")})
	msg := b.waitFor(machine.EvGotDecryptedMessage, testTimeout)
	if string(msg.Message) != "hello" {
		t.Fatalf("got message %q, want %q", msg.Message, "hello")
	}
}

// TestMismatchedCodeEndsScared exercises testable property: a wrong code on
// one side still completes a SPAKE2 exchange, but the resulting keys differ,
// so the first decrypt fails and the session ends in the "scared" mood
// instead of delivering a verified message.
func TestMismatchedCodeEndsScared(t *testing.T) {
	server := relaytest.NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newPeer(t, ctx, server, "appid", "sideA")
	a.core.Dispatch(machine.Event{Kind: machine.EvAllocateCode, Length: 2})
	got := a.waitFor(machine.EvBossGotCode, testTimeout)

	b := newPeer(t, ctx, server, "appid", "sideB")
	// Split the nameplate off the real code and reattach the wrong words,
	// so both sides still claim the same nameplate but derive different
	// SPAKE2 passwords.
	np := splitNameplate(got.Code)
	b.core.Dispatch(machine.Event{Kind: machine.EvSetCode, Code: np + "-wrong-words"})

	closed := a.waitFor(machine.EvClosed, testTimeout)
	if closed.Mood != "scared" {
		t.Fatalf("got mood %q, want scared", closed.Mood)
	}
}

func splitNameplate(code string) string {
	for i := 0; i < len(code); i++ {
		if code[i] == '-' {
			return code[:i]
		}
	}
	return code
}

// TestIdempotentRedelivery exercises testable property 4: a relay replay of
// an already-seen (side, phase) message must not be delivered twice.
func TestIdempotentRedelivery(t *testing.T) {
	server := relaytest.NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newPeer(t, ctx, server, "appid", "sideA")
	a.core.Dispatch(machine.Event{Kind: machine.EvAllocateCode, Length: 2})
	code := a.waitFor(machine.EvBossGotCode, testTimeout).Code

	b := newPeer(t, ctx, server, "appid", "sideB")
	b.core.Dispatch(machine.Event{Kind: machine.EvSetCode, Code: code})
	b.waitFor(machine.EvFirstVerifiedMessage, testTimeout)

	a.core.Dispatch(machine.Event{Kind: machine.EvSend, Message: []byte("once")})
	msg := b.waitFor(machine.EvGotDecryptedMessage, testTimeout)
	if string(msg.Message) != "once" {
		t.Fatalf("got %q, want %q", msg.Message, "once")
	}

	// Re-deliver the same (side, phase) directly into b's core, simulating
	// a relay replaying its mailbox log to a reconnecting client. The
	// dedupe check keys on (side, phase) before decrypting, so the body's
	// contents do not matter here.
	b.core.Dispatch(machine.Event{Kind: machine.EvRCMessage, Side: "sideA", Phase: msg.Phase, Body: nil})

	select {
	case e := <-b.out:
		if e.Kind == machine.EvGotDecryptedMessage {
			t.Fatalf("replayed message delivered twice")
		}
	case <-time.After(200 * time.Millisecond):
		// No second delivery within the window: correct.
	}
}

// TestOrderedShutdown exercises the teardown chain of invariant 5: after
// Close, the nameplate release and the mailbox close both complete and the
// rendezvous client stops, so the session ends with the Closed event
// carrying the requested mood. The order of the wire messages is not
// observed here.
func TestOrderedShutdown(t *testing.T) {
	server := relaytest.NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newPeer(t, ctx, server, "appid", "sideA")
	a.core.Dispatch(machine.Event{Kind: machine.EvAllocateCode, Length: 2})
	code := a.waitFor(machine.EvBossGotCode, testTimeout).Code

	b := newPeer(t, ctx, server, "appid", "sideB")
	b.core.Dispatch(machine.Event{Kind: machine.EvSetCode, Code: code})
	a.waitFor(machine.EvFirstVerifiedMessage, testTimeout)
	b.waitFor(machine.EvFirstVerifiedMessage, testTimeout)

	a.core.Dispatch(machine.Event{Kind: machine.EvClose, Mood: "happy"})
	closed := a.waitFor(machine.EvClosed, testTimeout)
	if closed.Mood != "happy" {
		t.Fatalf("got mood %q, want happy", closed.Mood)
	}
}

// TestPreKeyMessageQueueing exercises the send machine's queue: an
// application send issued before the key is known must queue and flush once
// the key is known, not race or drop.
func TestPreKeyMessageQueueing(t *testing.T) {
	server := relaytest.NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newPeer(t, ctx, server, "appid", "sideA")
	a.core.Dispatch(machine.Event{Kind: machine.EvAllocateCode, Length: 2})
	code := a.waitFor(machine.EvBossGotCode, testTimeout).Code

	// Queue a send before b even knows the code; b's own core has not yet
	// started SPAKE2 or derived a key.
	b := newPeer(t, ctx, server, "appid", "sideB")
	b.core.Dispatch(machine.Event{Kind: machine.EvSend, Message: []byte("queued")})
	b.core.Dispatch(machine.Event{Kind: machine.EvSetCode, Code: code})

	msg := a.waitFor(machine.EvGotDecryptedMessage, testTimeout)
	if string(msg.Message) != "queued" {
		t.Fatalf("got %q, want %q", msg.Message, "queued")
	}
}
