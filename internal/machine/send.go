package machine

import (
	"strconv"

	"wormhole.dev/core/internal/crypto"
)

// sendState implements the Send machine of spec.md §4.9: messages queue
// until the SPAKE2 session key is known (EvGotUnverifiedKey), then drain in
// FIFO order. A message's phase is the fixed name it was sent with, if any,
// and is otherwise auto-assigned from the monotonic counter.
type sendState struct {
	haveKey bool
	key     []byte
	nextSeq int
	queue   []queuedSend
}

type queuedSend struct {
	phase     string
	plaintext []byte
}

// enqueueOrSend implements EvSend: phase, if set, names a reserved phase
// (e.g. "version"); otherwise the next numeric application phase is
// assigned.
func (c *Core) enqueueOrSend(phase string, plaintext []byte) {
	if phase == "" {
		phase = strconv.Itoa(c.send.nextSeq)
		c.send.nextSeq++
	}
	if !c.send.haveKey {
		c.send.queue = append(c.send.queue, queuedSend{phase: phase, plaintext: plaintext})
		return
	}
	c.encryptAndAdd(phase, plaintext)
}

func (c *Core) encryptAndAdd(phase string, plaintext []byte) {
	phaseKey := crypto.DerivePhaseKey(c.send.key, c.side, phase)
	ct, err := crypto.Seal(phaseKey, plaintext)
	if err != nil {
		c.protocolError(err)
		return
	}
	c.bus.post(Event{Kind: EvAddMessage, Phase: phase, Body: ct})
}

// sendDrain implements the have-key transition: drain the queue in order,
// encrypting each entry with its own phase key.
func (c *Core) sendDrain() {
	c.send.haveKey = true
	c.send.key = c.sessKey
	queue := c.send.queue
	c.send.queue = nil
	for _, q := range queue {
		c.encryptAndAdd(q.phase, q.plaintext)
	}
}
