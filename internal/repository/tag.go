package repository

import (
	"crypto/rand"
	"encoding/base32"
)

// newTag generates a fresh, URL-safe document tag. Tags need no external
// structure (unlike citations or names) so a plain random identifier,
// base32-encoded without padding, is sufficient; no pack example carries a
// dedicated ID-generation library for this narrow a need.
func newTag() string {
	var buf [20]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err) // crypto/rand failing indicates a broken host RNG
	}
	return "#" + base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf[:])
}
