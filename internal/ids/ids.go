package ids

import (
	"fmt"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

// CallID derives a call id from the start time and the caller. The ULID
// suffix keeps two calls by the same caller in the same millisecond apart.
func CallID(at time.Time, callerID string) string {
	suffix := New(at)
	// the first 10 chars of a ULID encode the timestamp already present in the id
	return fmt.Sprintf("call_%d_%s_%s", at.UnixMilli(), callerID, strings.ToLower(suffix[10:]))
}

// NotificationID returns a random id for notification documents
func NotificationID() string {
	return uuid.NewString()
}
