package drivers

import (
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"

	"lukechampine.com/blake3"
)

const (
	// maxNameBytes keeps names, plus the temp-file decoration added during
	// writes, below the common 255-byte filename limit.
	maxNameBytes = 200
	// keptNameBytes is how much of an over-long name survives before the hash suffix.
	keptNameBytes  = 160
	fallbackPrefix = "key_"
)

// SanitizeKey maps an arbitrary key to a filename safe to place directly
// under the storage root.
//
// Path separators become "_", then every rune that is not a letter, a number
// or one of "._-" is dropped. Keys that end up empty or as "." / ".." get
// "key_" plus a BLAKE3 digest of the raw key instead. BLAKE3 is stable across
// runs, so such keys stay reachable after a restart.
//
// Distinct keys can map to the same name ("a/b" and "a_b" both become "a_b").
// Such keys overwrite each other.
func SanitizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r == '/' || r == '\\':
			b.WriteByte('_')
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
		}
	}

	safe := b.String()
	switch safe {
	case "", ".", "..":
		return fallbackPrefix + keyDigest(key)
	}

	if len(safe) > maxNameBytes {
		return truncateRunes(safe, keptNameBytes) + "_" + keyDigest(key)
	}
	return safe
}

// keyDigest returns the first 16 bytes of the BLAKE3-256 digest of key, hex encoded
func keyDigest(key string) string {
	sum := blake3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

// truncateRunes cuts s to at most n bytes without splitting a rune
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
