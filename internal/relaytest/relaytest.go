// Package relaytest implements an in-process double of the rendezvous relay
// server, following the nameplate/mailbox/phase protocol of spec.md §3 and
// grounded on the connection-handling shape of the teacher's cmd/ww/server.go
// relay() handler. It exists so internal/rendezvous and the machine/wormhole
// packages can be tested end to end without a real network or WebSocket
// server.
package relaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"

	"wormhole.dev/core/internal/rendezvous"
)

// Server is an in-memory rendezvous relay: it tracks nameplates, mailboxes,
// and connected clients, and fans out "add" messages to every client in the
// same mailbox, the sender included, as cmd/wormhole-relay does over
// JSON/WebSocket.
type Server struct {
	mu         sync.Mutex
	nameplates map[string]string // nameplate -> mailbox id
	mailboxes  map[string]*mailbox
}

type mailbox struct {
	members map[*conn]bool
	log     []json.RawMessage // marshaled "message" frames, replayed to late joiners
}

// NewServer returns an empty relay double.
func NewServer() *Server {
	return &Server{
		nameplates: make(map[string]string),
		mailboxes:  make(map[string]*mailbox),
	}
}

// Dial returns a rendezvous.Transport connected to this server, as if a new
// client had opened a WebSocket to the relay.
func (s *Server) Dial() rendezvous.Transport {
	return &conn{server: s, inbox: make(chan []byte, 64)}
}

// conn implements rendezvous.Transport against the in-memory Server.
type conn struct {
	server *Server
	inbox  chan []byte
	closed bool

	mu        sync.Mutex
	side      string
	claimed   string
	opened    string
}

func (c *conn) Connect(ctx context.Context) error { return nil }

func (c *conn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-c.inbox:
		if !ok {
			return nil, fmt.Errorf("relaytest: connection closed")
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *conn) WriteMessage(ctx context.Context, data []byte) error {
	var env rawEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("relaytest: bad client message: %w", err)
	}
	c.server.handle(c, env)
	return nil
}

func (c *conn) Close(status int, reason string) error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.mu.Lock()
	mbxID := c.opened
	c.mu.Unlock()
	if mbxID != "" {
		if mbx, ok := c.server.mailboxes[mbxID]; ok {
			delete(mbx.members, c)
		}
	}
	if !c.closed {
		c.closed = true
		close(c.inbox)
	}
	return nil
}

func (c *conn) deliver(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.deliverRaw(data)
}

// deliverRaw enqueues an already-marshaled frame, used to replay a
// mailbox's backlog verbatim instead of re-wrapping it.
func (c *conn) deliverRaw(data []byte) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.inbox <- data:
	default:
	}
}

// rawEnvelope mirrors the field superset of the real wire envelope; it is
// decoded loosely here since the relay double only needs to route, not
// validate, client messages.
type rawEnvelope struct {
	Type       string `json:"type"`
	AppID      string `json:"appid"`
	Side       string `json:"side"`
	Nameplate  string `json:"nameplate"`
	Mailbox    string `json:"mailbox"`
	Phase      string `json:"phase"`
	Body       string `json:"body"`
	Mood       string `json:"mood"`
	Ping       uint32 `json:"ping"`
}

func (s *Server) handle(c *conn, env rawEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch env.Type {
	case "bind":
		c.mu.Lock()
		c.side = env.Side
		c.mu.Unlock()
		c.deliver(map[string]interface{}{"type": "welcome", "welcome": map[string]string{}})
	case "list":
		var entries []map[string]string
		for np := range s.nameplates {
			entries = append(entries, map[string]string{"id": np})
		}
		c.deliver(map[string]interface{}{"type": "nameplates", "nameplates": entries})
	case "allocate":
		np := s.allocateNameplate()
		c.deliver(map[string]interface{}{"type": "allocated", "nameplate": np})
	case "claim":
		mbxID, ok := s.nameplates[env.Nameplate]
		if !ok {
			mbxID = env.Nameplate // mailbox id defaults to the nameplate itself
			s.nameplates[env.Nameplate] = mbxID
		}
		if _, ok := s.mailboxes[mbxID]; !ok {
			s.mailboxes[mbxID] = &mailbox{members: make(map[*conn]bool)}
		}
		c.mu.Lock()
		c.claimed = env.Nameplate
		c.mu.Unlock()
		c.deliver(map[string]interface{}{"type": "claimed", "mailbox": mbxID})
	case "release":
		delete(s.nameplates, env.Nameplate)
		c.deliver(map[string]interface{}{"type": "released"})
	case "open":
		mbx, ok := s.mailboxes[env.Mailbox]
		if !ok {
			mbx = &mailbox{members: make(map[*conn]bool)}
			s.mailboxes[env.Mailbox] = mbx
		}
		mbx.members[c] = true
		c.mu.Lock()
		c.opened = env.Mailbox
		c.mu.Unlock()
		for _, body := range mbx.log {
			c.deliverRaw(body)
		}
	case "add":
		mbx, ok := s.mailboxes[c.opened]
		if !ok {
			return
		}
		c.mu.Lock()
		side := c.side
		c.mu.Unlock()
		msg := map[string]interface{}{
			"type":  "message",
			"side":  side,
			"phase": env.Phase,
			"body":  env.Body,
		}
		data, _ := json.Marshal(msg)
		mbx.log = append(mbx.log, data)
		for member := range mbx.members {
			member.deliver(msg)
		}
	case "close":
		mbx, ok := s.mailboxes[c.opened]
		if ok {
			delete(mbx.members, c)
		}
		c.deliver(map[string]interface{}{"type": "closed"})
	case "ping":
		c.deliver(map[string]interface{}{"type": "pong", "pong": env.Ping})
	}
}

func (s *Server) allocateNameplate() string {
	for {
		np := fmt.Sprintf("%d", 1+rand.Intn(9999))
		if _, ok := s.nameplates[np]; !ok {
			s.nameplates[np] = np
			return np
		}
	}
}
