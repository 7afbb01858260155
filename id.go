package telescope

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var idEntropy = ulid.DefaultEntropy() // safe for concurrent use

// NewULID returns a new ULID string. ULIDs sort by creation time, and use a
// monotonic source of entropy, so ids generated within the same millisecond
// are still unique. This is the default id generator.
func NewULID() string {
	return ulid.MustNew(ulid.Now(), idEntropy).String()
}

// NewUUID returns a new random (version 4) UUID string. It can be used as an
// alternative id generator via Config.NewID.
func NewUUID() string {
	return uuid.NewString()
}
