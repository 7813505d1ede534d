// Package shortid generates compact random identifiers used to name
// runtime resources.
package shortid

import "crypto/rand"

// Lowercase base36 keeps the output valid inside container names and
// Kubernetes object name segments.
const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Generate returns a 10-character random identifier.
func Generate() string {
	return New(10)
}

// New returns an n-character random identifier drawn uniformly from the
// alphabet.
func New(n int) string {
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		rand.Read(buf)
		for _, b := range buf {
			// Reject bytes past the largest multiple of len(alphabet) so
			// every character is equally likely.
			if b >= 252 {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out)
}
