package machine

import "strings"

// allocatorState implements the Allocator sub-machine of spec.md §4.2.
type allocatorState struct {
	state allocState
	length int
}

type allocState int

const (
	allocIdleDisconnected allocState = iota
	allocIdleConnected
	allocAllocatingDisconnected
	allocAllocatingConnected
	allocDone
)

func (c *Core) allocStart(length int) {
	c.alloc.length = length
	if c.connected {
		c.alloc.state = allocAllocatingConnected
		c.rc.Allocate()
	} else {
		c.alloc.state = allocAllocatingDisconnected
	}
}

func (c *Core) handleAllocatorRC(e Event) {
	switch e.Kind {
	case EvRCConnected:
		if c.alloc.state == allocAllocatingDisconnected {
			c.alloc.state = allocAllocatingConnected
			c.rc.Allocate()
		} else if c.alloc.state == allocIdleDisconnected {
			c.alloc.state = allocIdleConnected
		}
	case EvRCLost:
		if c.alloc.state == allocAllocatingConnected {
			c.alloc.state = allocAllocatingDisconnected
		} else if c.alloc.state == allocIdleConnected {
			c.alloc.state = allocIdleDisconnected
		}
	}
}

func (c *Core) handleAllocated(e Event) {
	if c.alloc.state != allocAllocatingConnected && c.alloc.state != allocAllocatingDisconnected {
		return
	}
	words, err := derivePhraseWords(c.alloc.length)
	if err != nil {
		c.emit(Event{Kind: EvRCError, ErrKind: "protocol", Err: err})
		return
	}
	code := e.Nameplate + "-" + strings.Join(words, "-")
	c.alloc.state = allocDone
	c.bus.post(Event{Kind: EvCodeAllocated, Nameplate: e.Nameplate, Code: code})
}
