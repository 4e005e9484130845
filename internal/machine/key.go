package machine

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"wormhole.dev/core/internal/crypto/pake"
)

const phasePake = "pake"
const phaseVersion = "version"

// pakeMessage is the JSON body of the "pake" phase, matching the reference
// implementation's wrapping of the raw SPAKE2 element in a named field.
type pakeMessage struct {
	PakeV1 string `json:"pake_v1"`
}

// startPake creates this session's SPAKE2 machine once both the code and
// the PAKE role (set when the code path was chosen, see core.go) are known.
// The actual wire send is deferred to attemptPake until the mailbox is open.
func (c *Core) startPake() {
	if c.pakeM != nil {
		return
	}
	c.pakeM = pake.New(c.appid, c.code, c.pakeRole)
	c.attemptPake()
}

// attemptPake sends our SPAKE2 start message through the mailbox as soon as
// both the machine exists and the mailbox is open to carry it.
func (c *Core) attemptPake() {
	if c.pakeM == nil || c.mailboxSub.state != mbxOpen {
		return
	}
	if c.mailboxSub.sentPhases[phasePake] {
		return
	}
	msg := pakeMessage{PakeV1: hex.EncodeToString(c.pakeM.Start())}
	body, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.bus.post(Event{Kind: EvAddMessage, Phase: phasePake, Body: body})
}

// keyGotPake finishes the SPAKE2 exchange on receipt of the peer's pake
// phase body, producing the unverified shared key.
func (c *Core) keyGotPake(body []byte) {
	var msg pakeMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.protocolError(fmt.Errorf("machine: malformed pake body: %w", err))
		return
	}
	peerMsg, err := hex.DecodeString(msg.PakeV1)
	if err != nil {
		c.protocolError(fmt.Errorf("machine: malformed pake hex: %w", err))
		return
	}
	key, err := c.pakeM.Finish(peerMsg)
	if err != nil {
		c.protocolError(fmt.Errorf("machine: pake finish: %w", err))
		return
	}
	c.sessKey = key
	c.bus.post(Event{Kind: EvGotUnverifiedKey, Key: key})

	versions, _ := json.Marshal(map[string]interface{}{})
	c.bus.post(Event{Kind: EvSend, Phase: phaseVersion, Message: versions})
}

func (c *Core) protocolError(err error) {
	c.emit(Event{Kind: EvRCError, ErrKind: "protocol", Err: err})
	c.term.mood = "errory"
	c.closeOut()
}
