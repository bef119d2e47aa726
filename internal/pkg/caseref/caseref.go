// Package caseref generates human-readable case references of the form
// CS-<year>-<6 base62 characters>.
package caseref

import (
	crypto_rand "crypto/rand"
	"fmt"
	"regexp"
	"time"
)

// Base62 alphabet: 0-9, A-Z, a-z
const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const suffixLength = 6

var pattern = regexp.MustCompile(`^CS-\d{4}-[0-9A-Za-z]{6}$`)

// New returns a reference stamped with the year of now
func New(now time.Time) string {
	return fmt.Sprintf("CS-%04d-%s", now.Year(), randomBase62(suffixLength))
}

// Valid reports whether s has the reference shape
func Valid(s string) bool {
	return pattern.MatchString(s)
}

// randomBase62 draws 6-bit values from crypto/rand and rejects those >= 62
// so every character is uniformly distributed.
func randomBase62(length int) string {
	out := make([]byte, 0, length)
	buf := make([]byte, length+4)

	for len(out) < length {
		if _, err := crypto_rand.Read(buf); err != nil {
			panic("failed to read random bytes: " + err.Error())
		}
		for _, b := range buf {
			v := b & 0x3f
			if v < 62 {
				out = append(out, base62Alphabet[v])
				if len(out) == length {
					break
				}
			}
		}
	}
	return string(out)
}
