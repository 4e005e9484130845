// Package rendezvous implements the client side of the magic-wormhole
// rendezvous relay wire protocol: JSON objects over a text-frame duplex,
// each tagged with a kebab-case "type" field.
package rendezvous

import "encoding/json"

// messageType enumerates the "type" field values of the wire protocol.
type messageType string

const (
	typeBind       messageType = "bind"
	typeList       messageType = "list"
	typeAllocate   messageType = "allocate"
	typeClaim      messageType = "claim"
	typeRelease    messageType = "release"
	typeOpen       messageType = "open"
	typeAdd        messageType = "add"
	typeClose      messageType = "close"
	typePing       messageType = "ping"
	typeWelcome    messageType = "welcome"
	typeNameplates messageType = "nameplates"
	typeAllocated  messageType = "allocated"
	typeClaimed    messageType = "claimed"
	typeReleased   messageType = "released"
	typeMessage    messageType = "message"
	typeClosed     messageType = "closed"
	typeAck        messageType = "ack"
	typePong       messageType = "pong"
	typeError      messageType = "error"
)

// nameplateEntry is one element of a server "nameplates" listing.
type nameplateEntry struct {
	ID string `json:"id"`
}

// envelope is the full superset of fields across every message type on the
// wire. Client and server both marshal/unmarshal through it, leaving unused
// fields at their zero value; this mirrors the single tagged-union message
// of the original protocol (core/src/server_messages.rs) without requiring
// Go's weaker sum-type support to get in the way.
type envelope struct {
	Type       messageType      `json:"type"`
	AppID      string           `json:"appid,omitempty"`
	Side       string           `json:"side,omitempty"`
	Nameplate  string           `json:"nameplate,omitempty"`
	Nameplates []nameplateEntry `json:"nameplates,omitempty"`
	Mailbox    string           `json:"mailbox,omitempty"`
	Phase      string           `json:"phase,omitempty"`
	Body       string           `json:"body,omitempty"`
	ID         string           `json:"id,omitempty"`
	Mood       string           `json:"mood,omitempty"`
	Ping       uint32           `json:"ping,omitempty"`
	Pong       uint32           `json:"pong,omitempty"`
	Error      string           `json:"error,omitempty"`
	Orig       *envelope        `json:"orig,omitempty"`
	Welcome    json.RawMessage  `json:"welcome,omitempty"`
	ServerTX   float64          `json:"server_tx,omitempty"`
}

func marshal(e envelope) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshal(data []byte) (envelope, error) {
	var e envelope
	err := json.Unmarshal(data, &e)
	return e, err
}

func txBind(appid, side string) envelope {
	return envelope{Type: typeBind, AppID: appid, Side: side}
}

func txList() envelope { return envelope{Type: typeList} }

func txAllocate() envelope { return envelope{Type: typeAllocate} }

func txClaim(nameplate string) envelope {
	return envelope{Type: typeClaim, Nameplate: nameplate}
}

func txRelease(nameplate string) envelope {
	return envelope{Type: typeRelease, Nameplate: nameplate}
}

func txOpen(mailbox string) envelope {
	return envelope{Type: typeOpen, Mailbox: mailbox}
}

func txAdd(phase, bodyHex string) envelope {
	return envelope{Type: typeAdd, Phase: phase, Body: bodyHex}
}

func txClose(mailbox, mood string) envelope {
	return envelope{Type: typeClose, Mailbox: mailbox, Mood: mood}
}

func txPing(n uint32) envelope {
	return envelope{Type: typePing, Ping: n}
}
