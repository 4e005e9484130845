// Command wormhole-relay runs the rendezvous relay: the server side of the
// bind/list/allocate/claim/release/open/add/close/ping protocol consumed by
// package rendezvous, grounded on the connection-handling shape of the
// teacher's signalling server (cmd/ww/server.go) but speaking the mailbox
// protocol instead of piping raw WebRTC signalling frames.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"expvar"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/acme/autocert"
	"nhooyr.io/websocket"

	"wormhole.dev/core/wormhole"
)

// mailboxIdleTimeout is how long after its last member leaves a mailbox
// runs its idle callback. The callbacks passed in this file do nothing, so
// mailboxes are never removed, and nameplates are removed only by release.
const mailboxIdleTimeout = 30 * time.Minute

var stats = struct {
	connections *expvar.Int
	allocations *expvar.Int
	claims      *expvar.Int
	noSuchNameplate *expvar.Int
	badMessage  *expvar.Int
}{
	connections:     expvar.NewInt("connections"),
	allocations:     expvar.NewInt("allocations"),
	claims:          expvar.NewInt("claims"),
	noSuchNameplate: expvar.NewInt("nosuchnameplate"),
	badMessage:      expvar.NewInt("badmessage"),
}

var promMetrics = struct {
	connections prometheus.Counter
	messages    prometheus.Counter
}{
	connections: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wormhole_relay",
		Name:      "connections_total",
		Help:      "Total WebSocket connections accepted.",
	}),
	messages: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wormhole_relay",
		Name:      "messages_total",
		Help:      "Total phase messages fanned out through a mailbox.",
	}),
}

// envelope mirrors the wire format of package rendezvous; the relay and the
// client each maintain their own copy rather than sharing an internal type.
type envelope struct {
	Type       string           `json:"type"`
	AppID      string           `json:"appid,omitempty"`
	Side       string           `json:"side,omitempty"`
	Nameplate  string           `json:"nameplate,omitempty"`
	Nameplates []nameplateEntry `json:"nameplates,omitempty"`
	Mailbox    string           `json:"mailbox,omitempty"`
	Phase      string           `json:"phase,omitempty"`
	Body       string           `json:"body,omitempty"`
	Mood       string           `json:"mood,omitempty"`
	Ping       uint32           `json:"ping,omitempty"`
	Pong       uint32           `json:"pong,omitempty"`
	Error      string           `json:"error,omitempty"`
	Welcome    json.RawMessage  `json:"welcome,omitempty"`
}

type nameplateEntry struct {
	ID string `json:"id"`
}

type client struct {
	conn *websocket.Conn
	mbx  *mailbox
	side string
}

type mailbox struct {
	mu      sync.Mutex
	members map[*client]bool
	log     []envelope
	timer   *time.Timer
}

// hub owns all live nameplates and mailboxes.
type hub struct {
	mu         sync.Mutex
	nameplates map[string]string // nameplate -> mailbox id
	mailboxes  map[string]*mailbox
}

func newHub() *hub {
	return &hub{
		nameplates: make(map[string]string),
		mailboxes:  make(map[string]*mailbox),
	}
}

func (h *hub) allocate() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		np := strconv.Itoa(1 + rand.Intn(9999))
		if _, ok := h.nameplates[np]; !ok {
			h.nameplates[np] = np
			stats.allocations.Add(1)
			return np
		}
	}
}

func (h *hub) claim(np string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	mbxID, ok := h.nameplates[np]
	if !ok {
		mbxID = np
		h.nameplates[np] = mbxID
	}
	if _, ok := h.mailboxes[mbxID]; !ok {
		h.mailboxes[mbxID] = &mailbox{members: make(map[*client]bool)}
	}
	stats.claims.Add(1)
	return mbxID
}

func (h *hub) release(np string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nameplates, np)
}

func (h *hub) list() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.nameplates))
	for np := range h.nameplates {
		out = append(out, np)
	}
	return out
}

func (h *hub) mailboxFor(id string) *mailbox {
	h.mu.Lock()
	defer h.mu.Unlock()
	mbx, ok := h.mailboxes[id]
	if !ok {
		mbx = &mailbox{members: make(map[*client]bool)}
		h.mailboxes[id] = mbx
	}
	return mbx
}

func (mbx *mailbox) join(c *client) []envelope {
	mbx.mu.Lock()
	defer mbx.mu.Unlock()
	if mbx.timer != nil {
		mbx.timer.Stop()
		mbx.timer = nil
	}
	mbx.members[c] = true
	return append([]envelope(nil), mbx.log...)
}

func (mbx *mailbox) leave(c *client, onIdle func()) {
	mbx.mu.Lock()
	delete(mbx.members, c)
	empty := len(mbx.members) == 0
	if empty {
		mbx.timer = time.AfterFunc(mailboxIdleTimeout, onIdle)
	}
	mbx.mu.Unlock()
}

func (mbx *mailbox) add(ctx context.Context, msg envelope) {
	mbx.mu.Lock()
	mbx.log = append(mbx.log, msg)
	members := make([]*client, 0, len(mbx.members))
	for m := range mbx.members {
		members = append(members, m)
	}
	mbx.mu.Unlock()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	promMetrics.messages.Add(1)
	for _, m := range members {
		_ = m.conn.Write(ctx, websocket.MessageText, data)
	}
}

func serveRelay(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
			Subprotocols:       []string{wormhole.Protocol},
		})
		if err != nil {
			log.Println(err)
			return
		}
		stats.connections.Add(1)
		promMetrics.connections.Inc()
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		c := &client{conn: conn}
		var mbxID string

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if c.mbx != nil {
					c.mbx.leave(c, func() {})
				}
				return
			}
			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				stats.badMessage.Add(1)
				continue
			}
			reply, newMbxID := handleMessage(ctx, h, c, mbxID, env)
			if newMbxID != "" {
				mbxID = newMbxID
			}
			if reply == nil {
				continue
			}
			out, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
				return
			}
		}
	}
}

func handleMessage(ctx context.Context, h *hub, c *client, mbxID string, env envelope) (*envelope, string) {
	switch env.Type {
	case "bind":
		c.side = env.Side
		return &envelope{Type: "welcome", Welcome: json.RawMessage(`{}`)}, ""
	case "list":
		var entries []nameplateEntry
		for _, np := range h.list() {
			entries = append(entries, nameplateEntry{ID: np})
		}
		return &envelope{Type: "nameplates", Nameplates: entries}, ""
	case "allocate":
		return &envelope{Type: "allocated", Nameplate: h.allocate()}, ""
	case "claim":
		newID := h.claim(env.Nameplate)
		return &envelope{Type: "claimed", Mailbox: newID}, ""
	case "release":
		h.release(env.Nameplate)
		return &envelope{Type: "released"}, ""
	case "open":
		c.mbx = h.mailboxFor(env.Mailbox)
		backlog := c.mbx.join(c)
		go func() {
			for _, msg := range backlog {
				data, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				_ = c.conn.Write(ctx, websocket.MessageText, data)
			}
		}()
		return nil, env.Mailbox
	case "add":
		if c.mbx == nil {
			stats.noSuchNameplate.Add(1)
			return nil, ""
		}
		c.mbx.add(ctx, envelope{Type: "message", Side: c.side, Phase: env.Phase, Body: env.Body})
		return nil, ""
	case "close":
		if c.mbx != nil {
			c.mbx.leave(c, func() {})
		}
		return &envelope{Type: "closed"}, ""
	case "ping":
		return &envelope{Type: "pong", Pong: env.Ping}, ""
	default:
		return &envelope{Type: "error", Error: "unknown message type"}, ""
	}
}

func main() {
	rand.Seed(time.Now().UnixNano())

	httpaddr := flag.String("http", ":4000", "http listen address")
	httpsaddr := flag.String("https", "", "https listen address")
	whitelist := flag.String("hosts", "", "comma separated list of hosts to request let's encrypt certs for")
	secretpath := flag.String("secrets", os.Getenv("HOME")+"/keys", "path to put let's encrypt cache")
	flag.Parse()

	h := newHub()

	mux := http.NewServeMux()
	mux.Handle("/v1", serveRelay(h))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/vars", expvar.Handler())

	srv := &http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Minute,
		IdleTimeout:  20 * time.Second,
		Addr:         *httpaddr,
		Handler:      mux,
	}

	if *httpsaddr != "" {
		m := &autocert.Manager{
			Cache:      autocert.DirCache(*secretpath),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(strings.Split(*whitelist, ",")...),
		}
		ssrv := &http.Server{
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Minute,
			IdleTimeout:  20 * time.Second,
			Addr:         *httpsaddr,
			Handler:      mux,
			TLSConfig:    &tls.Config{GetCertificate: m.GetCertificate},
		}
		srv.Handler = m.HTTPHandler(mux)
		go func() { log.Fatal(ssrv.ListenAndServeTLS("", "")) }()
	}
	fmt.Fprintf(os.Stderr, "wormhole-relay listening on %s\n", *httpaddr)
	log.Fatal(srv.ListenAndServe())
}
