package rendezvous

import (
	"context"
	"encoding/hex"
	"errors"
	"log"
	"sync"
	"time"
)

// DefaultReconnectDelay is the wait between a lost connection and the next
// reconnect attempt (spec.md §4.1).
const DefaultReconnectDelay = 5 * time.Second

// DefaultPingInterval is how often the client pings the relay to keep
// timing information flowing; pongs are not required for liveness.
const DefaultPingInterval = 30 * time.Second

// ErrStopped names the stopped state of a Client. No Client method returns
// it: command methods called after Stop are dropped silently.
var ErrStopped = errors.New("rendezvous: client stopped")

type command struct {
	env envelope
}

// Client is the rendezvous client state machine of spec.md §4.1: it binds to
// the relay, allocates/claims/releases nameplates, opens/closes mailboxes,
// and sends/receives phase messages, reconnecting transparently on loss.
type Client struct {
	transport Transport
	clock     Clock

	ReconnectDelay time.Duration
	PingInterval   time.Duration

	Events chan Event

	mu        sync.Mutex
	appid     string
	side      string
	bound     bool
	nameplate string // outstanding claim, "" if none
	mailbox   string // outstanding open, "" if none
	stopped   bool

	cmds chan command
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Client that will talk to the relay at url over transport.
// If transport is nil, a WSTransport is used.
func New(url string, transport Transport) *Client {
	if transport == nil {
		transport = NewWSTransport(url)
	}
	return &Client{
		transport:      transport,
		clock:          RealClock{},
		ReconnectDelay: DefaultReconnectDelay,
		PingInterval:   DefaultPingInterval,
		Events:         make(chan Event, 64),
		cmds:           make(chan command, 64),
		stop:           make(chan struct{}),
	}
}

// Start begins the client's run loop, which connects to the relay. It
// returns immediately; the initial connection attempt and any reconnects
// happen in the background, and a Connected event reports each success.
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Bind issues the "bind" message identifying this session's appid and side.
// It is re-issued automatically after every reconnect.
func (c *Client) Bind(appid, side string) {
	c.mu.Lock()
	c.appid, c.side, c.bound = appid, side, true
	c.mu.Unlock()
	c.send(txBind(appid, side))
}

// List requests the current nameplate listing (RxNameplates).
func (c *Client) List() { c.send(txList()) }

// Allocate requests the server allocate a fresh nameplate (RxAllocated).
func (c *Client) Allocate() { c.send(txAllocate()) }

// Claim claims nameplate np. Re-issued automatically after reconnect until
// Release is called.
func (c *Client) Claim(np string) {
	c.mu.Lock()
	c.nameplate = np
	c.mu.Unlock()
	c.send(txClaim(np))
}

// Release releases nameplate np.
func (c *Client) Release(np string) {
	c.mu.Lock()
	c.nameplate = ""
	c.mu.Unlock()
	c.send(txRelease(np))
}

// Open opens mailbox mbx. Re-issued automatically after reconnect until the
// mailbox is closed.
func (c *Client) Open(mbx string) {
	c.mu.Lock()
	c.mailbox = mbx
	c.mu.Unlock()
	c.send(txOpen(mbx))
}

// Add sends a phase message; body is raw bytes and is hex-encoded on the
// wire.
func (c *Client) Add(phase string, body []byte) {
	c.send(txAdd(phase, hex.EncodeToString(body)))
}

// Close closes mailbox mbx with the given mood.
func (c *Client) Close(mbx, mood string) {
	c.mu.Lock()
	c.mailbox = ""
	c.mu.Unlock()
	c.send(txClose(mbx, mood))
}

// Stop initiates an orderly shutdown of the WebSocket connection.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()
	close(c.stop)
}

func (c *Client) send(env envelope) {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return
	}
	select {
	case c.cmds <- command{env}:
	default:
		// The command queue only backs up if the transport is wedged;
		// drop rather than block the caller indefinitely.
		log.Printf("rendezvous: command queue full, dropping %s", env.Type)
	}
}

func (c *Client) emit(e Event) {
	select {
	case c.Events <- e:
	default:
		log.Printf("rendezvous: event queue full, dropping event kind %d", e.Kind)
	}
}

// run is the single cooperative driver loop described in spec.md §5: it
// suspends only on an inbound frame, a timer, an outbound command, or a stop
// request.
func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		if err := c.transport.Connect(ctx); err != nil {
			log.Printf("rendezvous: connect failed: %v", err)
			select {
			case <-c.clock.After(c.ReconnectDelay):
				continue
			case <-c.stop:
				c.emit(Event{Kind: StoppedRC})
				return
			case <-ctx.Done():
				return
			}
		}
		c.emit(Event{Kind: Connected})
		c.rebind()

		frames := make(chan []byte)
		readErrs := make(chan error, 1)
		readCtx, cancelRead := context.WithCancel(ctx)
		go func() {
			for {
				data, err := c.transport.ReadMessage(readCtx)
				if err != nil {
					readErrs <- err
					return
				}
				select {
				case frames <- data:
				case <-readCtx.Done():
					return
				}
			}
		}()

		ping := time.NewTicker(c.PingInterval)
		lost := false
	connLoop:
		for {
			select {
			case data := <-frames:
				c.handleFrame(data)
			case err := <-readErrs:
				log.Printf("rendezvous: connection lost: %v", err)
				lost = true
				break connLoop
			case cmd := <-c.cmds:
				buf, err := marshal(cmd.env)
				if err != nil {
					log.Printf("rendezvous: marshal %s: %v", cmd.env.Type, err)
					continue
				}
				if err := c.transport.WriteMessage(ctx, buf); err != nil {
					log.Printf("rendezvous: write %s: %v", cmd.env.Type, err)
					lost = true
					break connLoop
				}
			case <-ping.C:
				buf, _ := marshal(txPing(uint32(time.Now().Unix())))
				_ = c.transport.WriteMessage(ctx, buf)
			case <-c.stop:
				ping.Stop()
				cancelRead()
				_ = c.transport.Close(1000, "done")
				c.emit(Event{Kind: StoppedRC})
				return
			case <-ctx.Done():
				ping.Stop()
				cancelRead()
				_ = c.transport.Close(1000, "context canceled")
				return
			}
		}
		ping.Stop()
		cancelRead()
		if lost {
			c.emit(Event{Kind: Lost})
			select {
			case <-c.clock.After(c.ReconnectDelay):
			case <-c.stop:
				c.emit(Event{Kind: StoppedRC})
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// rebind re-issues bind, and any outstanding claim/open, after a fresh
// connection (initial or reconnect), per spec.md §4.1.
func (c *Client) rebind() {
	c.mu.Lock()
	appid, side, bound := c.appid, c.side, c.bound
	np := c.nameplate
	mbx := c.mailbox
	c.mu.Unlock()

	if bound {
		c.send(txBind(appid, side))
	}
	if np != "" {
		c.send(txClaim(np))
	}
	if mbx != "" {
		c.send(txOpen(mbx))
	}
}

func (c *Client) handleFrame(data []byte) {
	env, err := unmarshal(data)
	if err != nil {
		log.Printf("rendezvous: malformed message: %v", err)
		return
	}
	switch env.Type {
	case typeWelcome:
		c.emit(Event{Kind: RxWelcome, Welcome: env.Welcome})
	case typeNameplates:
		ids := make([]string, len(env.Nameplates))
		for i, n := range env.Nameplates {
			ids[i] = n.ID
		}
		c.emit(Event{Kind: RxNameplates, Nameplates: ids})
	case typeAllocated:
		c.emit(Event{Kind: RxAllocated, Nameplate: env.Nameplate})
	case typeClaimed:
		c.emit(Event{Kind: RxClaimed, Mailbox: env.Mailbox})
	case typeReleased:
		c.emit(Event{Kind: RxReleased})
	case typeMessage:
		body, err := hex.DecodeString(env.Body)
		if err != nil {
			log.Printf("rendezvous: bad hex body: %v", err)
			return
		}
		c.emit(Event{Kind: RxMessage, Side: env.Side, Phase: env.Phase, Body: body})
	case typeClosed:
		c.emit(Event{Kind: RxClosed})
	case typeAck, typePong:
		// Acks/pongs correlate timing only; nothing to surface.
	case typeError:
		c.emit(Event{Kind: RxError, ErrorCode: env.Error, ErrorMsg: env.Error})
	default:
		log.Printf("rendezvous: ignoring unknown message type %q", env.Type)
	}
}
