package idempotency

import (
	"errors"
	"net/http"
	"strings"
	"unicode"
)

const Header = "Idempotency-Key"

// MaxLen bounds a key so it fits the orders.idempotency_key index.
const MaxLen = 128

var ErrInvalidKey = errors.New("invalid idempotency key")

// Key returns the request's idempotency key, or "" when none was sent.
func Key(r *http.Request) (string, error) {
	k := strings.TrimSpace(r.Header.Get(Header))
	if len(k) > MaxLen {
		return "", ErrInvalidKey
	}
	for _, c := range k {
		if !unicode.IsPrint(c) {
			return "", ErrInvalidKey
		}
	}
	return k, nil
}
