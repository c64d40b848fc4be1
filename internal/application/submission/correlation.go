package submission

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// NewCorrelationID returns an id of the form SUNAT-{yyyymmddHHMMSS}-{6 hex}.
func NewCorrelationID(now time.Time) string {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		id := uuid.New()
		copy(b[:], id[:3])
	}
	return "SUNAT-" + now.UTC().Format("20060102150405") + "-" + hex.EncodeToString(b[:])
}
