package verify

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// ErrInvalidHandle is returned for handles that are not valid X usernames.
var ErrInvalidHandle = errors.New("invalid X handle")

var handlePattern = regexp.MustCompile(`^[a-z0-9_]{1,15}$`)

// NormalizeHandle trims, strips a leading '@' and lowercases an X handle.
func NormalizeHandle(raw string) (string, error) {
	h := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "@"))
	if !handlePattern.MatchString(h) {
		return "", ErrInvalidHandle
	}
	return h, nil
}

// codeAlphabet omits characters that are easily confused (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 8

func newCode() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// Sentence is the text an owner must post to prove control of a handle.
func Sentence(agentName, code string) string {
	return fmt.Sprintf("I am verifying my OpenClapp agent \"%s\" with code clap-%s", agentName, code)
}
