package machine

// nameplateState implements the Nameplate machine of spec.md §4.4, tracking
// the claim/release lifecycle of the chosen nameplate so a reconnect can
// re-issue the outstanding request instead of losing it.
type nameplateState struct {
	state npState
	np    string
}

type npState int

const (
	npNone npState = iota
	npKnownDisconnected
	npClaiming
	npClaimed
	npReleasing
	npDone
)

func (c *Core) nameplateSet(np string) {
	c.nameplate.np = np
	if c.connected {
		c.nameplate.state = npClaiming
		c.rc.Claim(np)
	} else {
		c.nameplate.state = npKnownDisconnected
	}
}

func (c *Core) nameplateRelease() {
	if c.nameplate.np == "" {
		c.bus.post(Event{Kind: EvNameplateDone})
		return
	}
	c.nameplate.state = npReleasing
	c.rc.Release(c.nameplate.np)
}

func (c *Core) handleNameplateRC(e Event) {
	switch e.Kind {
	case EvRCConnected:
		switch c.nameplate.state {
		case npKnownDisconnected:
			c.nameplate.state = npClaiming
			c.rc.Claim(c.nameplate.np)
		case npClaiming, npClaimed:
			// re-claim on reconnect so the relay sees us again (spec.md §4.1).
			c.rc.Claim(c.nameplate.np)
		case npReleasing:
			c.rc.Release(c.nameplate.np)
		}
	case EvRCLost:
		if c.nameplate.state == npClaiming {
			c.nameplate.state = npKnownDisconnected
		}
	}
}

// gotMailbox handles EvGotMailbox: the nameplate is now claimed, and the
// mailbox it names should be opened.
func (c *Core) gotMailbox(mbx string) {
	c.nameplate.state = npClaimed
	c.mailboxOpen(mbx)
}
