// Package idgen generates collision-resistant job identifiers: a
// 64-hex-char SHA-256 digest over the client address, the wall clock, and a
// uuid nonce. Only collision resistance matters, not unpredictability.
package idgen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobID derives a 64-hex-char job identifier from the client address, the
// current wall-clock time, and a random nonce.
func JobID(clientAddr string, now time.Time) string {
	nonce := uuid.New()
	payload := fmt.Sprintf("%s|%d|%s", clientAddr, now.UnixNano(), nonce.String())
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
