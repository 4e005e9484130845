package machine

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"wormhole.dev/core/internal/crypto"
	"wormhole.dev/core/internal/crypto/pake"
	"wormhole.dev/core/wordlist"
)

// RCSender is the subset of *rendezvous.Client the core drives. Kept as an
// interface so tests can substitute a recorder.
type RCSender interface {
	Bind(appid, side string)
	List()
	Allocate()
	Claim(np string)
	Release(np string)
	Open(mbx string)
	Add(phase string, body []byte)
	Close(mbx, mood string)
	Stop()
}

// Core wires together every sub-machine of spec.md §4 around a single event
// bus. It is driven exclusively by Dispatch: every public mutator posts one
// event and drains the bus to fixpoint before returning, matching the
// single-task cooperative model of spec.md §5.
type Core struct {
	rc    RCSender
	appid string
	side  string

	bus bus

	// Out carries every event the application (the boss, in package
	// wormhole) should observe: welcome, code, keys, versions, messages,
	// and the terminal close.
	Out chan Event

	alloc      allocatorState
	lister     listerState
	nameplate  nameplateState
	mailboxSub mailboxState
	order      orderState
	send       sendState
	recv       receiveState
	term       terminatorState

	code      string
	pakeRole  bool // true if this side plays SPAKE2 role A
	pakeM     *pake.Machine
	sessKey   []byte
	connected bool
}

// New returns a Core for appid, communicating outbound through rc. side must
// be a random per-session identifier (spec.md §3).
func New(appid, side string, rc RCSender) *Core {
	return &Core{
		rc:    rc,
		appid: appid,
		side:  side,
		Out:   make(chan Event, 64),
		term:  terminatorState{mood: "lonely"},
	}
}

// NewSide returns a fresh random 5-byte hex side identifier.
func NewSide() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("machine: generating side: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (c *Core) emit(e Event) {
	select {
	case c.Out <- e:
	default:
	}
}

// Dispatch posts e and drains the bus to fixpoint, running every sub-machine
// transition it triggers.
func (c *Core) Dispatch(e Event) {
	c.bus.post(e)
	for {
		ev, ok := c.bus.pop()
		if !ok {
			return
		}
		c.handle(ev)
	}
}

func (c *Core) handle(e Event) {
	switch e.Kind {
	case EvRCConnected:
		c.connected = true
		c.handleAllocatorRC(e)
		c.handleListerRC(e)
		c.handleNameplateRC(e)
	case EvRCLost:
		c.connected = false
		c.handleAllocatorRC(e)
		c.handleListerRC(e)
		c.handleNameplateRC(e)
	case EvRCWelcome:
		c.emit(e)
	case EvRCNameplates:
		c.lister.wanting = false
		c.bus.post(Event{Kind: EvGotNameplates, Nameplates: e.Nameplates})
	case EvRCAllocated:
		c.handleAllocated(e)
	case EvRCClaimed:
		c.bus.post(Event{Kind: EvGotMailbox, Mailbox: e.Mailbox})
	case EvRCReleased:
		c.bus.post(Event{Kind: EvNameplateDone})
	case EvRCMessage:
		c.handleMailboxRx(e)
	case EvRCClosed:
		c.bus.post(Event{Kind: EvMailboxDone})
	case EvRCError:
		if e.ErrKind == "unwelcome" {
			c.term.mood = "unwelcome"
			c.emit(e)
			c.closeOut()
		} else {
			c.emit(e)
		}
	case EvRCStopped:
		c.emit(Event{Kind: EvClosed, Mood: c.term.mood})

	case EvAllocateCode:
		c.pakeRole = true // the allocating side leads, and plays SPAKE2 role A
		c.allocStart(e.Length)
	case EvCodeAllocated:
		c.bus.post(Event{Kind: EvSetNameplate, Nameplate: e.Nameplate})
		c.finishCode(e.Nameplate, e.Code)
	case EvSetCode:
		c.pakeRole = false // the side setting a received code follows, role B
		parts := splitCode(e.Code)
		c.bus.post(Event{Kind: EvSetNameplate, Nameplate: parts.nameplate})
		c.finishCode(parts.nameplate, e.Code)
	case EvInputCode:
		c.pakeRole = false // input, like SetCode, is always the follower role
		c.listerRefresh()
	case EvRefreshNameplates:
		c.listerRefresh()
	case EvGotNameplates:
		c.emit(Event{Kind: EvGotNameplates, Nameplates: e.Nameplates})

	case EvSetNameplate:
		c.nameplateSet(e.Nameplate)
	case EvGotMailbox:
		c.gotMailbox(e.Mailbox)
	case EvNameplateDone:
		c.nameplate.state = npDone
		c.checkTerminated()
	case EvMailboxDone:
		c.mailboxSub.state = mbxClosedFinal
		c.checkTerminated()

	case EvAddMessage:
		c.mailboxSend(e.Phase, e.Body)
	case EvGotPeerMessage:
		c.orderDispatch(e)

	case EvGotUnverifiedKey:
		c.emit(e)
		c.sendDrain()
	case EvGotVersions:
		c.emit(e)

	case EvGotDecryptedMessage:
		c.emit(Event{Kind: EvGotDecryptedMessage, Phase: e.Phase, Message: e.Body})
	case EvFirstVerifiedMessage:
		c.emit(e)
	case EvScared:
		c.term.mood = "scared"
		c.closeOut()

	case EvSend:
		c.enqueueOrSend(e.Phase, e.Message)

	case EvClose:
		if e.Mood != "" {
			c.term.mood = e.Mood
		}
		c.closeOut()
	}
}

type codeParts struct {
	nameplate string
}

func splitCode(code string) codeParts {
	for i := 0; i < len(code); i++ {
		if code[i] == '-' {
			return codeParts{nameplate: code[:i]}
		}
	}
	return codeParts{nameplate: code}
}

func (c *Core) finishCode(nameplate, code string) {
	c.code = code
	c.emit(Event{Kind: EvBossGotCode, Code: code})
	c.startPake()
}

func derivePhraseWords(length int) ([]string, error) {
	return wordlist.Choose(length)
}

func deriveVerifier(key []byte) []byte {
	return crypto.DeriveVerifier(key)
}
