package machine

// terminatorState orchestrates the ordered shutdown of spec.md §4.11 and
// invariant 5: release the nameplate, then close the mailbox, then stop the
// rendezvous client, in that order, before the terminal Closed event.
type terminatorState struct {
	mood string

	closing        bool
	hadNameplate   bool
	hadMailbox     bool
	nameplateDone  bool
	mailboxDone    bool
	stopped        bool
}

// closeOut begins the teardown chain if it hasn't started already.
func (c *Core) closeOut() {
	if c.term.closing {
		return
	}
	c.term.closing = true
	c.term.hadNameplate = c.nameplate.state != npNone && c.nameplate.state != npDone
	c.term.hadMailbox = c.mailboxSub.state == mbxOpen || c.mailboxSub.state == mbxOpening

	if c.term.hadNameplate {
		c.nameplateRelease()
	} else {
		c.term.nameplateDone = true
	}

	if c.term.hadMailbox {
		c.mailboxClose(c.term.mood)
	} else {
		c.term.mailboxDone = true
	}

	c.checkTerminated()
}

// checkTerminated advances the terminator once both legs it is waiting on
// have finished; it only ever issues rc.Stop() after the nameplate release
// has been ordered ahead of the mailbox close, per invariant 5.
func (c *Core) checkTerminated() {
	if !c.term.closing || c.term.stopped {
		return
	}
	if c.nameplate.state == npDone {
		c.term.nameplateDone = true
	}
	if c.mailboxSub.state == mbxClosedFinal {
		c.term.mailboxDone = true
	}
	if c.term.nameplateDone && c.term.mailboxDone {
		c.term.stopped = true
		c.rc.Stop()
	}
}
