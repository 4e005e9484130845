package machine

import (
	"encoding/json"
	"errors"

	"wormhole.dev/core/internal/crypto"
)

var errDuplicatePake = errors.New("machine: received a second pake phase")

// receiveState implements the Receive machine of spec.md §4.10: decrypt
// inbound application/version phases once the key is known, deduplicate
// relay replays, and surface the first successfully-decrypted message as
// verification of the shared key.
type receiveState struct {
	verified bool
	scared   bool
	seen     map[seenKey]bool
}

type seenKey struct {
	side  string
	phase string
}

// receiveGotPeerMessage handles a non-pake peer message once the order
// machine has released it (immediately if pake was already seen, or during
// queue drain otherwise).
func (c *Core) receiveGotPeerMessage(e Event) {
	if c.recv.scared {
		return
	}
	if c.recv.seen == nil {
		c.recv.seen = make(map[seenKey]bool)
	}
	key := seenKey{side: e.Side, phase: e.Phase}
	if c.recv.seen[key] {
		return // relay replay; surface at most once (invariant/testable property 4)
	}
	c.recv.seen[key] = true

	phaseKey := crypto.DerivePhaseKey(c.sessKey, e.Side, e.Phase)
	plaintext, err := crypto.Open(phaseKey, e.Body)
	if err != nil {
		c.recv.scared = true
		c.bus.post(Event{Kind: EvScared})
		return
	}

	first := !c.recv.verified
	if first {
		c.recv.verified = true
		verifier := deriveVerifier(c.sessKey)
		c.bus.post(Event{Kind: EvFirstVerifiedMessage, Verifier: verifier, Key: c.sessKey})
		c.term.mood = "happy"
	}

	if e.Phase == phaseVersion {
		var versions map[string]interface{}
		if err := json.Unmarshal(plaintext, &versions); err != nil {
			versions = map[string]interface{}{}
		}
		c.bus.post(Event{Kind: EvGotVersions, Versions: versions})
		return
	}

	c.bus.post(Event{Kind: EvGotDecryptedMessage, Phase: e.Phase, Body: plaintext})
}
