// Package ids generates identifiers for audit rows and sessions.
package ids

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// NewULID returns a time-sortable identifier. IDs created within the same
// millisecond stay lexicographically increasing.
func NewULID() string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		// Only possible if entropy is exhausted within one millisecond.
		return ulid.Make().String()
	}
	return id.String()
}

// NewSessionID returns a random process session id.
func NewSessionID() string {
	return uuid.NewString()
}
