// Package pake wraps SPAKE2 over the Ed25519 group for the wormhole key
// machine. It fixes the identity strings to "appid:A" and "appid:B" as
// required by the core protocol, and lets the caller decide which side plays
// A — the rule (the side that allocates the code leads and plays A; the
// side that sets or inputs a received code follows and plays B) lives in the
// key machine, not here.
package pake

import (
	"fmt"

	spake2 "salsa.debian.org/vasudev/gospake2"
	_ "salsa.debian.org/vasudev/gospake2/ed25519group"
)

// Machine holds one side's SPAKE2 state for the lifetime of a single
// exchange. It is used exactly once: Start, then Finish.
type Machine struct {
	state spake2.SPAKE2
}

// New creates a SPAKE2 machine for appid and password (the wormhole code),
// playing role A if isA is true, B otherwise. Both sides must derive the
// same appid and password and pick complementary roles.
func New(appid, password string, isA bool) *Machine {
	pw := spake2.NewPassword(password)
	idA := spake2.NewIdentityA(appid + ":A")
	idB := spake2.NewIdentityB(appid + ":B")
	var state spake2.SPAKE2
	if isA {
		state = spake2.SPAKE2A(pw, idA, idB)
	} else {
		state = spake2.SPAKE2B(pw, idA, idB)
	}
	return &Machine{state: state}
}

// Start returns this side's outbound SPAKE2 message.
func (m *Machine) Start() []byte {
	return m.state.Start()
}

// Finish consumes the peer's SPAKE2 message and returns the shared 32-byte
// session key material (pre-HKDF).
func (m *Machine) Finish(peerMsg []byte) ([]byte, error) {
	key, err := m.state.Finish(peerMsg)
	if err != nil {
		return nil, fmt.Errorf("pake: finish: %w", err)
	}
	return key, nil
}
