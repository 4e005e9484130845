package machine

// listerState implements the Lister sub-machine of spec.md §4.3, grounded on
// original_source/core/src/lister.rs: {wanting?}×{connected?}.
type listerState struct {
	wanting bool
}

func (c *Core) listerRefresh() {
	c.lister.wanting = true
	if c.connected {
		c.rc.List()
	}
}

func (c *Core) handleListerRC(e Event) {
	switch e.Kind {
	case EvRCConnected:
		if c.lister.wanting {
			c.rc.List()
		}
	case EvRCLost:
		// wanting survives disconnection; resent once reconnected.
	}
}
