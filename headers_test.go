package httpuv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderCaseInsensitiveLookup(t *testing.T) {
	h := NewHeader()
	h.Combine("Content-Type", "text/plain")

	v, ok := h.Get("content-type")
	require.True(t, ok)
	assert.Equal(t, "text/plain", v)
}

func TestHeaderCombineJoinsWithComma(t *testing.T) {
	h := NewHeader()
	h.Combine("X-Forwarded-For", "1.1.1.1")
	h.Combine("X-Forwarded-For", "2.2.2.2")

	v, _ := h.Get("x-forwarded-for")
	assert.Equal(t, "1.1.1.1,2.2.2.2", v)
}

func TestHeaderSetReplacesAllExisting(t *testing.T) {
	h := NewHeader()
	h.Add("Set-Cookie", "a=1")
	h.Add("Set-Cookie", "b=2")
	h.Set("Set-Cookie", "c=3")

	assert.Equal(t, 1, h.Len())
	v, _ := h.Get("set-cookie")
	assert.Equal(t, "c=3", v)
}

func TestHeaderAddAllowsDuplicates(t *testing.T) {
	h := NewHeader()
	h.Add("Set-Cookie", "a=1")
	h.Add("Set-Cookie", "b=2")

	assert.Equal(t, 2, h.Len())
}

func TestHeaderContainsToken(t *testing.T) {
	h := NewHeader()
	h.Set("Connection", "keep-alive, Upgrade")

	assert.True(t, h.ContainsToken("Connection", "upgrade"))
	assert.False(t, h.ContainsToken("Connection", "close"))
}

func TestHeaderContainsSubstring(t *testing.T) {
	h := NewHeader()
	h.Set("Accept-Encoding", "gzip, deflate, br")

	assert.True(t, h.ContainsSubstring("Accept-Encoding", "gzip"))
	assert.False(t, h.ContainsSubstring("Accept-Encoding", "zstd"))
}

func TestHeaderDelRemovesAllMatches(t *testing.T) {
	h := NewHeader()
	h.Add("X-A", "1")
	h.Add("x-a", "2")
	h.Del("X-a")

	assert.Equal(t, 0, h.Len())
}

// casePermutations returns every way of upper/lower-casing the letters of
// name, e.g. "ab" -> ["ab", "Ab", "aB", "AB"]. Deterministic bit-enumeration
// over the letter positions, not random sampling.
func casePermutations(name string) []string {
	letterIdx := make([]int, 0, len(name))
	for i, r := range name {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			letterIdx = append(letterIdx, i)
		}
	}
	n := len(letterIdx)
	out := make([]string, 0, 1<<uint(n))
	for mask := 0; mask < 1<<uint(n); mask++ {
		b := []byte(name)
		for bit, idx := range letterIdx {
			if mask&(1<<uint(bit)) != 0 {
				b[idx] = upperByte(b[idx])
			} else {
				b[idx] = lowerByte(b[idx])
			}
		}
		out = append(out, string(b))
	}
	return out
}

func upperByte(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

func lowerByte(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// TestHeaderCaseInsensitivityAcrossAllCasings is a property test: every
// upper/lower-case permutation of a stored header name must resolve to the
// same value via Get/ContainsToken/ContainsSubstring, and Del using any
// permutation must remove the entry, regardless of which permutation was
// used to store it.
func TestHeaderCaseInsensitivityAcrossAllCasings(t *testing.T) {
	const name = "X-Custom-Header"
	permutations := casePermutations(name)
	require.NotEmpty(t, permutations)

	for _, stored := range permutations {
		h := NewHeader()
		h.Set(stored, "alpha beta")

		for _, lookup := range permutations {
			v, ok := h.Get(lookup)
			require.True(t, ok, "stored as %q, looked up as %q", stored, lookup)
			assert.Equal(t, "alpha beta", v)

			assert.True(t, h.ContainsToken(lookup, "alpha"))
			assert.True(t, h.ContainsSubstring(lookup, "beta"))
		}
	}

	for _, stored := range permutations {
		h := NewHeader()
		h.Set(stored, "v")
		h.Del(permutations[len(permutations)-1-indexOf(permutations, stored)])
		assert.Equal(t, 0, h.Len(), "stored as %q", stored)
	}
}

func indexOf(ss []string, s string) int {
	for i, v := range ss {
		if v == s {
			return i
		}
	}
	return -1
}
