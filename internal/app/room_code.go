package app

import (
	"crypto/rand"
	"math/big"
	"strings"
	"unicode"

	"quizzana/internal/domain"
)

const (
	roomCodeLength   = 6
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// CodeGenerator returns a candidate room code. Uniqueness is enforced by the store.
type CodeGenerator func() (string, error)

// RandomCode draws a six character code from A-Z and 0-9.
func RandomCode() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(roomCodeAlphabet)))
	for i := 0; i < roomCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(roomCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode trims and upper-cases user input and checks its shape.
func NormalizeCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != roomCodeLength {
		return "", domain.ErrInvalidCode
	}
	for _, r := range code {
		if r > unicode.MaxASCII || !(unicode.IsUpper(r) || unicode.IsDigit(r)) {
			return "", domain.ErrInvalidCode
		}
	}
	return code, nil
}
