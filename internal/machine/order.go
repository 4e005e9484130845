package machine

// orderState implements the Order machine of spec.md §4.8: peer messages
// arriving before the pake phase are queued and replayed, in arrival order,
// once the pake phase itself has been processed.
type orderState struct {
	sawPake bool
	queue   []Event
}

// orderDispatch implements EvGotPeerMessage. Everything before the pake
// phase queues; the pake phase itself is handled once and drains the queue
// into the receive machine.
func (c *Core) orderDispatch(e Event) {
	if e.Phase == phasePake {
		if c.order.sawPake {
			c.protocolError(errDuplicatePake)
			return
		}
		c.order.sawPake = true
		c.keyGotPake(e.Body)
		queue := c.order.queue
		c.order.queue = nil
		for _, q := range queue {
			c.receiveGotPeerMessage(q)
		}
		return
	}
	if !c.order.sawPake {
		c.order.queue = append(c.order.queue, e)
		return
	}
	c.receiveGotPeerMessage(e)
}
