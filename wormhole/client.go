// Package wormhole is the public API of the core protocol engine: it
// composes the rendezvous client and the sub-machines of package machine
// into the boss of spec.md §4.12, exposing AllocateCode/SetCode/InputHelper/
// FinishInput/Send/Close and a stream of lifecycle events.
package wormhole

import (
	"context"
	"encoding/json"
	"fmt"

	"wormhole.dev/core/internal/machine"
	"wormhole.dev/core/internal/rendezvous"
	"wormhole.dev/core/inputhelper"
)

// Protocol is the WebSocket subprotocol name cmd/wormhole-relay offers when
// accepting a connection. rendezvous.WSTransport does not request it when
// dialing.
const Protocol = "wormhole-core"

// DefaultURL is the rendezvous relay used when no URL option is given.
const DefaultURL = "ws://relay.magic-wormhole.io:4000/v1"

// DefaultAppID is the reference application id for text/file transfer.
const DefaultAppID = "lothar.com/wormhole/text-or-file-xfer"

// DefaultCodeLength is the number of wordlist words appended to an
// allocated nameplate.
const DefaultCodeLength = 2

// EventKind tags the variant of an Event delivered on Client.Events.
type EventKind int

const (
	// Welcome carries the relay's welcome payload, verbatim JSON.
	Welcome EventKind = iota
	// GotCode carries the session's code, once known (allocated or set).
	GotCode
	// UnverifiedKey carries the raw SPAKE2 shared key, before any peer
	// message has been decrypted to confirm the peer used the same code.
	UnverifiedKey
	// Verifier carries the HKDF-derived verifier, safe to display, once
	// the first peer message decrypts successfully.
	Verifier
	// Versions carries the peer's decoded version-phase payload.
	Versions
	// Message carries one decrypted application payload.
	Message
	// Closed is terminal: Mood carries the session's final mood.
	Closed
	// Error carries an error reported by the relay or the core. A protocol
	// error or an "unwelcome" relay error is followed by teardown and a
	// Closed event; other relay errors do not end the session. Input-helper
	// misuse is returned by FinishInput, not delivered as an Event.
	Error
)

// Event is the tagged union the application observes on Client.Events.
type Event struct {
	Kind EventKind

	Welcome  json.RawMessage
	Code     string
	Key      []byte
	Verifier []byte
	Versions map[string]interface{}
	Message  []byte
	Mood     string
	Err      error
}

// Option configures a Client at construction.
type Option func(*Client)

// WithAppID sets the application id mixed into PAKE identity. Both peers
// must agree on it.
func WithAppID(appid string) Option {
	return func(c *Client) { c.appid = appid }
}

// WithURL overrides the rendezvous relay URL.
func WithURL(url string) Option {
	return func(c *Client) { c.url = url }
}

// WithTransport injects a Transport (e.g. an in-memory relaytest double)
// instead of dialing a real WebSocket.
func WithTransport(t rendezvous.Transport) Option {
	return func(c *Client) { c.transport = t }
}

// Client is one session of the core protocol engine.
type Client struct {
	appid     string
	url       string
	transport rendezvous.Transport
	side      string

	rc    *rendezvous.Client
	core  *machine.Core
	input *inputhelper.Helper

	// dispatch carries application-requested events into the single
	// goroutine that owns core.Dispatch (run, below), alongside rc.Events.
	// This is the only path by which AllocateCode/SetCode/InputHelper/Send/
	// Close reach the core: Dispatch itself is not safe to call from more
	// than one goroutine, per the core's single-task cooperative design.
	dispatch chan machine.Event
	done     chan struct{}

	Events  chan Event
	metrics *Metrics
}

// New constructs a Client. Call Start to begin the session.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		appid:    DefaultAppID,
		url:      DefaultURL,
		dispatch: make(chan machine.Event, 64),
		done:     make(chan struct{}),
		Events:   make(chan Event, 64),
	}
	for _, opt := range opts {
		opt(c)
	}
	side, err := machine.NewSide()
	if err != nil {
		return nil, err
	}
	c.side = side
	c.rc = rendezvous.New(c.url, c.transport)
	c.core = machine.New(c.appid, c.side, c.rc)
	c.input = inputhelper.New()
	c.metrics = newMetrics()
	return c, nil
}

// Metrics returns the Prometheus registry for this Client.
func (c *Client) Metrics() *Metrics { return c.metrics }

// Start connects to the relay and begins pumping events. It returns once
// the pumps are running; the session continues in the background until
// Close or ctx is canceled.
func (c *Client) Start(ctx context.Context) {
	c.metrics.sessionsStarted.Inc()
	c.rc.Bind(c.appid, c.side)
	c.rc.Start(ctx)
	go c.run(ctx)
	go c.pumpCore(ctx)
}

// run is the sole owner of core.Dispatch: it serializes rendezvous-level
// events and application-requested events (posted via postDispatch) onto
// one goroutine, so the core's sub-machine state is never touched
// concurrently.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case e, ok := <-c.rc.Events:
			if !ok {
				return
			}
			c.core.Dispatch(translateRC(e))
			if e.Kind == rendezvous.Lost {
				c.metrics.reconnects.Inc()
			}
			if e.Kind == rendezvous.StoppedRC {
				return
			}
		case e := <-c.dispatch:
			c.core.Dispatch(e)
		case <-ctx.Done():
			return
		}
	}
}

// postDispatch hands e to run for dispatch, the only safe way for the
// application goroutine to reach the core. It drops e silently once the
// session has ended, matching Dispatch's own fire-and-forget shape.
func (c *Client) postDispatch(e machine.Event) {
	select {
	case c.dispatch <- e:
	case <-c.done:
	}
}

// pumpCore translates machine.Core's outbound events into the public
// wormhole.Event stream and updates metrics.
func (c *Client) pumpCore(ctx context.Context) {
	for {
		select {
		case e, ok := <-c.core.Out:
			if !ok {
				return
			}
			if e.Kind == machine.EvGotNameplates {
				c.input.GotNameplates(e.Nameplates)
				continue
			}
			out, ok := translateCore(e)
			if !ok {
				continue
			}
			switch out.Kind {
			case Message:
				c.metrics.messagesRecv.Inc()
			case Closed:
				c.metrics.closes.WithLabelValues(out.Mood).Inc()
				if out.Mood == "scared" {
					c.metrics.pakeFailures.Inc()
				}
			}
			select {
			case c.Events <- out:
			case <-ctx.Done():
				return
			}
			if out.Kind == Closed {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

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
	case rendezvous.RxError:
		return machine.Event{Kind: machine.EvRCError, ErrKind: e.ErrorCode, Err: fmt.Errorf("rendezvous: %s", e.ErrorMsg)}
	case rendezvous.StoppedRC:
		return machine.Event{Kind: machine.EvRCStopped}
	}
	return machine.Event{}
}

func translateCore(e machine.Event) (Event, bool) {
	switch e.Kind {
	case machine.EvRCWelcome:
		return Event{Kind: Welcome, Welcome: json.RawMessage(e.Body)}, true
	case machine.EvBossGotCode:
		return Event{Kind: GotCode, Code: e.Code}, true
	case machine.EvGotUnverifiedKey:
		return Event{Kind: UnverifiedKey, Key: e.Key}, true
	case machine.EvFirstVerifiedMessage:
		return Event{Kind: Verifier, Verifier: e.Verifier}, true
	case machine.EvGotVersions:
		return Event{Kind: Versions, Versions: e.Versions}, true
	case machine.EvGotDecryptedMessage:
		return Event{Kind: Message, Message: e.Message}, true
	case machine.EvClosed:
		return Event{Kind: Closed, Mood: e.Mood}, true
	case machine.EvRCError:
		return Event{Kind: Error, Err: e.Err}, true
	}
	return Event{}, false
}

// AllocateCode requests the relay allocate a fresh nameplate and appends
// length random words from the wordlist to form the code.
func (c *Client) AllocateCode(length int) {
	if length <= 0 {
		length = DefaultCodeLength
	}
	c.postDispatch(machine.Event{Kind: machine.EvAllocateCode, Length: length})
}

// SetCode sets the session's code directly, e.g. one typed in by the user
// or received out of band.
func (c *Client) SetCode(code string) {
	c.postDispatch(machine.Event{Kind: machine.EvSetCode, Code: code})
}

// InputHelper starts interactive code entry and returns the helper used to
// drive completions; the caller finishes entry with FinishInput.
func (c *Client) InputHelper() *inputhelper.Helper {
	c.input.Start()
	c.postDispatch(machine.Event{Kind: machine.EvInputCode})
	return c.input
}

// FinishInput completes interactive code entry with the chosen nameplate
// and words, composing and setting the final code.
func (c *Client) FinishInput(nameplate string, words []string) error {
	if err := c.input.ChooseNameplate(nameplate); err != nil {
		return err
	}
	if err := c.input.ChooseWords(); err != nil {
		return err
	}
	code := nameplate
	for _, w := range words {
		code += "-" + w
	}
	c.SetCode(code)
	return nil
}

// Send encrypts and transmits an application payload.
func (c *Client) Send(payload []byte) {
	c.metrics.messagesSent.Inc()
	c.postDispatch(machine.Event{Kind: machine.EvSend, Message: payload})
}

// Close initiates an orderly shutdown with the given mood. If mood is
// empty, the session's current mood is used: "happy" once a peer message
// has decrypted, "lonely" before that.
func (c *Client) Close(mood string) {
	c.postDispatch(machine.Event{Kind: machine.EvClose, Mood: mood})
}
