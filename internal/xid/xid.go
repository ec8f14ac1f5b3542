// Package xid generates prefixed identifiers for entities and audit
// entries, combining a nanosecond timestamp with random bytes.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns an ID of the form "<prefix>-<nanos>-<hex>". When the
// random source fails the timestamp alone is used.
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
