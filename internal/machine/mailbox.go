package machine

// mailboxState implements the Mailbox machine of spec.md §4.5: once opened,
// AddMessage requests become TxAdd, and RxMessage events either dedupe our
// own echoed sends or surface a genuine peer message.
type mailboxState struct {
	state mbxState
	id    string
	mood  string

	sentPhases map[string]bool // phases we've sent; attemptPake checks it so pake is sent once
}

type mbxState int

const (
	mbxClosed mbxState = iota
	mbxOpening
	mbxOpen
	mbxClosing
	mbxClosedFinal
)

func (c *Core) mailboxOpen(mbx string) {
	c.mailboxSub.id = mbx
	c.mailboxSub.state = mbxOpen
	if c.mailboxSub.sentPhases == nil {
		c.mailboxSub.sentPhases = make(map[string]bool)
	}
	c.rc.Open(mbx)
	c.attemptPake()
}

func (c *Core) mailboxSend(phase string, body []byte) {
	if c.mailboxSub.state != mbxOpen {
		return
	}
	c.mailboxSub.sentPhases[phase] = true
	c.rc.Add(phase, body)
}

func (c *Core) mailboxClose(mood string) {
	c.mailboxSub.mood = mood
	if c.mailboxSub.state != mbxOpen {
		c.bus.post(Event{Kind: EvMailboxDone})
		return
	}
	c.mailboxSub.state = mbxClosing
	c.rc.Close(c.mailboxSub.id, mood)
}

// handleMailboxRx routes an inbound RxMessage: our own echoed sends are
// dropped here (they've already been accounted for), peer messages are
// forwarded to the order machine.
func (c *Core) handleMailboxRx(e Event) {
	if e.Side == c.side {
		return
	}
	c.bus.post(Event{Kind: EvGotPeerMessage, Side: e.Side, Phase: e.Phase, Body: e.Body})
}
