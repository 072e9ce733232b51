// Package shortid generates short random link identifiers.
package shortid

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Alphabet is the set of characters identifiers are drawn from.
const Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// DefaultLength is the length of identifiers handed out for new links.
const DefaultLength = 6

// New returns an identifier of n characters from Alphabet.
func New(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("shortid: length must be positive, got %d", n)
	}
	size := big.NewInt(int64(len(Alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("shortid: %w", err)
		}
		b[i] = Alphabet[idx.Int64()]
	}
	return string(b), nil
}

// Must is like New with DefaultLength but panics if the system random source fails.
func Must() string {
	id, err := New(DefaultLength)
	if err != nil {
		panic(err)
	}
	return id
}
