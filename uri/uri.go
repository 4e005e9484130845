// Package uri implements the wormhole-transfer: URI scheme used to share
// codes out of band, grounded on original_source/src/uri.rs.
package uri

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrMissingCode is returned when a URI carries no code in its path.
var ErrMissingCode = errors.New("uri: missing code")

// ErrHasHost is returned when a URI has an authority component; wormhole
// transfer URIs are opaque (scheme:path), never scheme://host/path.
var ErrHasHost = errors.New("uri: wormhole-transfer URIs do not have a host")

// UnsupportedVersionError is returned for any "version" query value other
// than "0" (the only version this core understands).
type UnsupportedVersionError struct{ Version string }

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("uri: unsupported scheme version %q", e.Version)
}

// InvalidRoleError is returned for a "role" query value other than "leader"
// or "follower".
type InvalidRoleError struct{ Role string }

func (e *InvalidRoleError) Error() string {
	return fmt.Sprintf("uri: invalid role parameter %q", e.Role)
}

const scheme = "wormhole-transfer"

// TransferURI is a parsed wormhole-transfer: URI.
type TransferURI struct {
	Code string
	// RendezvousServer, if non-empty, requests a non-default relay.
	RendezvousServer string
	// IsLeader is true when role=leader was requested; default is follower
	// (the code recipient).
	IsLeader bool
}

// New returns a TransferURI for code with default rendezvous server and
// follower role.
func New(code string) TransferURI {
	return TransferURI{Code: code}
}

// Parse parses s as a wormhole-transfer: URI.
func Parse(s string) (TransferURI, error) {
	u, err := url.Parse(s)
	if err != nil {
		return TransferURI{}, fmt.Errorf("uri: %w", err)
	}
	if u.Scheme != scheme {
		return TransferURI{}, fmt.Errorf("uri: wrong scheme %q, must be %q", u.Scheme, scheme)
	}
	if u.Host != "" {
		return TransferURI{}, ErrHasHost
	}
	q := u.Query()

	if v := q.Get("version"); v != "" && v != "0" {
		return TransferURI{}, &UnsupportedVersionError{Version: v}
	}

	isLeader := false
	switch role := q.Get("role"); role {
	case "", "follower":
		isLeader = false
	case "leader":
		isLeader = true
	default:
		return TransferURI{}, &InvalidRoleError{Role: role}
	}

	// Opaque URIs put everything after the scheme colon into Opaque, not
	// Path, until a '?' is seen.
	code := u.Opaque
	if code == "" {
		code = u.Path
	}
	decoded, err := url.PathUnescape(code)
	if err != nil {
		return TransferURI{}, fmt.Errorf("uri: %w", err)
	}
	if decoded == "" {
		return TransferURI{}, ErrMissingCode
	}

	return TransferURI{
		Code:             decoded,
		RendezvousServer: q.Get("rendezvous"),
		IsLeader:         isLeader,
	}, nil
}

// String serializes the URI back to wire form.
func (t TransferURI) String() string {
	u := url.URL{
		Scheme: scheme,
		Opaque: url.PathEscape(t.Code),
	}
	q := url.Values{}
	if t.RendezvousServer != "" {
		q.Set("rendezvous", t.RendezvousServer)
	}
	if t.IsLeader {
		q.Set("role", "leader")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
