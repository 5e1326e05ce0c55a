package caps

import (
	"strings"
)

const wordBits = 64

// FlagSet is a dense bit-indexed set over the closed Flag enumeration.
// The zero value is an empty set, ready to use.
type FlagSet struct {
	words []uint64
}

func wordsFor(n int) int {
	return (n + wordBits - 1) / wordBits
}

func (s *FlagSet) ensure(f Flag) {
	need := wordsFor(int(f) + 1)
	if len(s.words) >= need {
		return
	}
	grown := make([]uint64, need)
	copy(grown, s.words)
	s.words = grown
}

// Set marks f as present. Idempotent.
func (s *FlagSet) Set(f Flag) {
	if f < 0 {
		return
	}
	s.ensure(f)
	s.words[int(f)/wordBits] |= 1 << uint(int(f)%wordBits)
}

// SetAll marks every flag in fs as present.
func (s *FlagSet) SetAll(fs ...Flag) {
	for _, f := range fs {
		s.Set(f)
	}
}

// Clear marks f as absent. Idempotent, including on a flag that was
// never set.
func (s *FlagSet) Clear(f Flag) {
	if f < 0 || int(f)/wordBits >= len(s.words) {
		return
	}
	s.words[int(f)/wordBits] &^= 1 << uint(int(f)%wordBits)
}

// Test reports whether f is present. Total: any Flag value, including
// one outside the current enumeration, returns false rather than
// panicking.
func (s *FlagSet) Test(f Flag) bool {
	if f < 0 || int(f)/wordBits >= len(s.words) {
		return false
	}
	return s.words[int(f)/wordBits]&(1<<uint(int(f)%wordBits)) != 0
}

// Copy returns an independent copy of s.
func (s *FlagSet) Copy() FlagSet {
	words := make([]uint64, len(s.words))
	copy(words, s.words)
	return FlagSet{words: words}
}

// Equal reports whether s and other have exactly the same flags set,
// independent of either set's underlying word-slice capacity.
func (s *FlagSet) Equal(other *FlagSet) bool {
	n := len(s.words)
	if len(other.words) > n {
		n = len(other.words)
	}
	for i := 0; i < n; i++ {
		var a, b uint64
		if i < len(s.words) {
			a = s.words[i]
		}
		if i < len(other.words) {
			b = other.words[i]
		}
		if a != b {
			return false
		}
	}
	return true
}

// Names returns the set flags' persisted names, in enumeration order.
func (s *FlagSet) Names() []string {
	names := make([]string, 0, numFlags)
	for i := 0; i < numFlags; i++ {
		if s.Test(Flag(i)) {
			names = append(names, flagNames[i])
		}
	}
	return names
}

// String renders a stable, whitespace-free representation of the set,
// decoupled from the in-memory word layout: widening FlagSet's storage
// in a future release does not change this output, so persisted status
// files stay stable across upgrades.
func (s *FlagSet) String() string {
	return strings.Join(s.Names(), ",")
}

// ParseFlagSet parses the output of FlagSet.String. Names that are not
// part of the current enumeration are ignored, for forward compatibility
// with status files written by a newer build.
func ParseFlagSet(s string) FlagSet {
	var fs FlagSet
	if s == "" {
		return fs
	}
	for _, name := range strings.Split(s, ",") {
		if f, ok := flagFromName(name); ok {
			fs.Set(f)
		}
	}
	return fs
}
