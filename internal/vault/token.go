package vault

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// tokenLen is the hex length of a minted token (128 random bits).
	tokenLen = 32

	sharePrefix = "share_"
)

// RecordKey is the parsed form of a deep-link argument. Exactly one of
// Token or ID is set.
type RecordKey struct {
	Token string
	ID    int64
}

// ParseRecordKey parses the argument carried by a deep link. Two shapes are
// accepted: a bare hex token, and the legacy "share_<id>" integer form.
// Anything else returns ErrNotFound so malformed links surface as a plain
// not-found response rather than a fault.
func ParseRecordKey(arg string) (RecordKey, error) {
	arg = strings.TrimSpace(arg)

	if rest, ok := strings.CutPrefix(arg, sharePrefix); ok {
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || id <= 0 {
			return RecordKey{}, fmt.Errorf("invalid share id %q: %w", arg, ErrNotFound)
		}
		return RecordKey{ID: id}, nil
	}

	if len(arg) != tokenLen || !isHex(arg) {
		return RecordKey{}, fmt.Errorf("invalid token %q: %w", arg, ErrNotFound)
	}
	return RecordKey{Token: strings.ToLower(arg)}, nil
}

// GateKey returns the stable string identity of the key, used by policies
// and the session ledger so that retries of the same link line up across
// both argument shapes.
func (k RecordKey) GateKey() string {
	if k.Token != "" {
		return k.Token
	}
	return fmt.Sprintf("%s%d", sharePrefix, k.ID)
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// DeepLink builds the canonical redemption URL for a token.
func DeepLink(botHost, botName, token string) string {
	return fmt.Sprintf("https://%s/%s?start=%s", botHost, botName, token)
}
