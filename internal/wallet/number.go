package wallet

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// AccountNumberLength is the number of decimal digits in an external account number.
const AccountNumberLength = 10

const maxDraws = 64

// ErrNumberExhausted is returned when the random source could not produce
// enough decimal digits for an account number.
var ErrNumberExhausted = errors.New("account number generator produced malformed output")

// NumberGenerator derives 10-digit account numbers from random UUIDs. Only the
// decimal digits of each hex token are kept; when a token carries fewer than
// ten of them the generator draws again and keeps accumulating.
type NumberGenerator struct {
	source io.Reader
}

// NewNumberGenerator returns a generator backed by crypto/rand.
func NewNumberGenerator() *NumberGenerator {
	return &NumberGenerator{source: rand.Reader}
}

// NewNumberGeneratorFromReader uses r as the 128-bit entropy source.
func NewNumberGeneratorFromReader(r io.Reader) *NumberGenerator {
	return &NumberGenerator{source: r}
}

// Generate returns a string of exactly AccountNumberLength decimal digits.
// Uniqueness is not checked here; the wallet store enforces it.
func (g *NumberGenerator) Generate() (string, error) {
	var digits strings.Builder
	digits.Grow(AccountNumberLength)

	for draw := 0; draw < maxDraws; draw++ {
		id, err := uuid.NewRandomFromReader(g.source)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNumberExhausted, err)
		}
		token := strings.ReplaceAll(id.String(), "-", "")
		for i := 0; i < len(token); i++ {
			if isDigit(token[i]) {
				digits.WriteByte(token[i])
				if digits.Len() == AccountNumberLength {
					return digits.String(), nil
				}
			}
		}
	}
	return "", fmt.Errorf("%w: fewer than %d digits after %d draws", ErrNumberExhausted, AccountNumberLength, maxDraws)
}

// ValidAccountNumber reports whether s has the shape of an account number.
func ValidAccountNumber(s string) bool {
	if len(s) != AccountNumberLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
