package httpuv

import (
	"strings"

	"golang.org/x/net/http/httpguts"
)

// headerPair is one (name, value) entry in insertion order.
type headerPair struct {
	name  string
	value string
}

// Header is a case-insensitive, case-preserving multimap of HTTP header
// fields. Lookups fold case; the first-seen spelling of a name is what gets
// stored and later iterated.
type Header struct {
	pairs []headerPair
}

// NewHeader returns an empty Header.
func NewHeader() *Header {
	return &Header{}
}

func (h *Header) indexOf(name string) int {
	for i := range h.pairs {
		if strings.EqualFold(h.pairs[i].name, name) {
			return i
		}
	}
	return -1
}

// Get returns the value stored for name and whether it was present.
func (h *Header) Get(name string) (string, bool) {
	if i := h.indexOf(name); i >= 0 {
		return h.pairs[i].value, true
	}
	return "", false
}

// Combine merges value into any existing entry for name, following the
// comma-join rule: two non-empty values are joined with ",", an empty new
// value is a no-op, and a missing entry is simply created.
func (h *Header) Combine(name, value string) {
	if i := h.indexOf(name); i >= 0 {
		existing := h.pairs[i].value
		if existing != "" && value != "" {
			h.pairs[i].value = existing + "," + value
		} else if existing == "" {
			h.pairs[i].value = value
		}
		return
	}
	h.pairs = append(h.pairs, headerPair{name: name, value: value})
}

// Add appends name/value as a new pair, even if name already exists.
// Used by Response.AddHeader, which allows duplicate header lines.
func (h *Header) Add(name, value string) {
	h.pairs = append(h.pairs, headerPair{name: name, value: value})
}

// Set removes every existing entry matching name (case-insensitively), then
// appends name/value as the new (and only) entry.
func (h *Header) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Del removes every entry matching name, case-insensitively.
func (h *Header) Del(name string) {
	out := h.pairs[:0]
	for _, p := range h.pairs {
		if !strings.EqualFold(p.name, name) {
			out = append(out, p)
		}
	}
	h.pairs = out
}

// ContainsToken reports whether name is present with a case-insensitive,
// comma-separated token equal to token (used for Connection/Upgrade checks).
func (h *Header) ContainsToken(name, token string) bool {
	v, ok := h.Get(name)
	if !ok {
		return false
	}
	return httpguts.HeaderValuesContainsToken([]string{v}, token)
}

// ContainsSubstring reports whether name's value contains substr as a plain
// substring, used for the Accept-Encoding gzip sniff rather than a token
// match.
func (h *Header) ContainsSubstring(name, substr string) bool {
	v, ok := h.Get(name)
	if !ok {
		return false
	}
	return strings.Contains(v, substr)
}

// Pairs returns the header pairs in insertion order. The returned slice must
// not be mutated by the caller.
func (h *Header) Pairs() []headerPair {
	return h.pairs
}

// Len reports the number of stored pairs.
func (h *Header) Len() int {
	return len(h.pairs)
}
