package wormhole

import (
	"context"
	"testing"
	"time"

	"wormhole.dev/core/internal/relaytest"
)

func waitForEvent(t *testing.T, events chan Event, kind EventKind, timeout time.Duration) Event {
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

func TestClientAllocateSetCodeSendReceive(t *testing.T) {
	server := relaytest.NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(WithAppID("test-app"), WithTransport(server.Dial()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Start(ctx)
	a.AllocateCode(2)
	gotCode := waitForEvent(t, a.Events, GotCode, 2*time.Second)
	if gotCode.Code == "" {
		t.Fatal("AllocateCode produced an empty code")
	}

	b, err := New(WithAppID("test-app"), WithTransport(server.Dial()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b.Start(ctx)
	b.SetCode(gotCode.Code)

	av := waitForEvent(t, a.Events, Verifier, 2*time.Second)
	bv := waitForEvent(t, b.Events, Verifier, 2*time.Second)
	if string(av.Verifier) != string(bv.Verifier) {
		t.Fatalf("verifiers differ: %x vs %x", av.Verifier, bv.Verifier)
	}

	a.Send([]byte("hello from a"))
	msg := waitForEvent(t, b.Events, Message, 2*time.Second)
	if string(msg.Message) != "hello from a" {
		t.Fatalf("got message %q, want %q", msg.Message, "hello from a")
	}

	b.Send([]byte("hello from b"))
	msg = waitForEvent(t, a.Events, Message, 2*time.Second)
	if string(msg.Message) != "hello from b" {
		t.Fatalf("got message %q, want %q", msg.Message, "hello from b")
	}

	a.Close("happy")
	closed := waitForEvent(t, a.Events, Closed, 2*time.Second)
	if closed.Mood != "happy" {
		t.Fatalf("got mood %q, want happy", closed.Mood)
	}
}

func TestClientFinishInputDrivesCode(t *testing.T) {
	server := relaytest.NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(WithAppID("test-app"), WithTransport(server.Dial()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Start(ctx)
	a.AllocateCode(2)
	gotCode := waitForEvent(t, a.Events, GotCode, 2*time.Second)

	np := gotCode.Code[:indexByte(gotCode.Code, '-')]
	words := splitWords(gotCode.Code)

	b, err := New(WithAppID("test-app"), WithTransport(server.Dial()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b.Start(ctx)
	helper := b.InputHelper()
	waitForHelperRefresh(t, helper, 2*time.Second)

	if err := b.FinishInput(np, words); err != nil {
		t.Fatalf("FinishInput: %v", err)
	}

	waitForEvent(t, a.Events, Verifier, 2*time.Second)
	waitForEvent(t, b.Events, Verifier, 2*time.Second)
}

func waitForHelperRefresh(t *testing.T, h interface{ NeedsRefresh() bool }, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !h.NeedsRefresh() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func splitWords(code string) []string {
	var words []string
	start := indexByte(code, '-') + 1
	cur := start
	for i := start; i < len(code); i++ {
		if code[i] == '-' {
			words = append(words, code[cur:i])
			cur = i + 1
		}
	}
	words = append(words, code[cur:])
	return words
}
