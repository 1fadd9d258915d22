package payments

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewReference returns a unique payment reference: a millisecond timestamp
// followed by 80 random bits, Crockford base32 encoded. References sort by
// creation time and are not retried on collision.
func NewReference(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}
