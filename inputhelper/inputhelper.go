// Package inputhelper implements code completion for interactive code entry,
// grounded on original_source/core/src/inputhelper.rs: it tracks the
// server-listed nameplates and offers prefix completion against the
// nameplate list before a '-' is typed, and against the even/odd wordlist
// after it.
package inputhelper

import (
	"errors"
	"strings"

	"wormhole.dev/core/wordlist"
)

// Errors reported synchronously to the caller on misuse; the session itself
// is unaffected (spec.md §4.6).
var (
	ErrInactive                = errors.New("inputhelper: not active")
	ErrMustChooseNameplateFirst = errors.New("inputhelper: must choose a nameplate before words")
	ErrAlreadyChoseNameplate   = errors.New("inputhelper: nameplate already chosen")
	ErrAlreadyChoseWords       = errors.New("inputhelper: words already chosen")
)

// Helper tracks nameplate/wordlist state for one code-entry session.
type Helper struct {
	active bool

	nameplates []string
	haveNameplates bool

	chosenNameplate string
	gotNameplate    bool
	chosenWords     bool
}

// New returns an inactive Helper. Start activates it.
func New() *Helper {
	return &Helper{}
}

// Start marks the helper active, ready to receive nameplates and serve
// completions. Until GotNameplates is called, NeedsRefresh reports true.
func (h *Helper) Start() {
	h.active = true
}

// GotNameplates records the current server-side nameplate listing.
func (h *Helper) GotNameplates(nameplates []string) {
	h.nameplates = nameplates
	h.haveNameplates = true
}

// ChooseNameplate records the user's nameplate choice.
func (h *Helper) ChooseNameplate(np string) error {
	if !h.active {
		return ErrInactive
	}
	if h.gotNameplate {
		return ErrAlreadyChoseNameplate
	}
	h.chosenNameplate = np
	h.gotNameplate = true
	return nil
}

// ChooseWords records that the user has finished choosing code words.
// Must follow ChooseNameplate.
func (h *Helper) ChooseWords() error {
	if !h.active {
		return ErrInactive
	}
	if !h.gotNameplate {
		return ErrMustChooseNameplateFirst
	}
	if h.chosenWords {
		return ErrAlreadyChoseWords
	}
	h.chosenWords = true
	return nil
}

// NeedsRefresh reports whether the caller should fetch the nameplate list
// before completions can be meaningful, per the documented open question in
// spec.md §9: a helper with no nameplate listing yet returns an empty
// completion set and asks for a refresh, rather than guessing.
func (h *Helper) NeedsRefresh() bool {
	return h.active && !h.haveNameplates
}

// Completions returns completion candidates for the text the user has typed
// so far. If prefix contains a '-', the portion before it is a nameplate
// choice and the portion after completes against the wordlist at the
// appropriate even/odd position; otherwise it completes against the known
// nameplates. It returns nil until a nameplate listing has arrived.
func (h *Helper) Completions(prefix string) []string {
	if !h.active {
		return nil
	}
	if !h.haveNameplates {
		return nil
	}
	if i := strings.IndexByte(prefix, '-'); i >= 0 {
		nameplate := prefix[:i]
		rest := prefix[i+1:]
		return h.wordCompletions(nameplate, rest)
	}
	var out []string
	for _, np := range h.nameplates {
		if strings.HasPrefix(np, prefix) {
			out = append(out, np+"-")
		}
	}
	return out
}

// wordCompletions completes the word at the position implied by the number
// of already-typed words in rest (rest may itself contain further hyphens
// for words typed after the first).
func (h *Helper) wordCompletions(nameplate, rest string) []string {
	parts := strings.Split(rest, "-")
	position := len(parts) - 1
	partial := parts[position]

	matches := wordlist.Match(partial, position)
	var out []string
	for _, w := range matches {
		full := append(append([]string{}, parts[:position]...), w)
		out = append(out, nameplate+"-"+strings.Join(full, "-"))
	}
	return out
}
