// Package journal is a write-only audit trail of every trade command the
// guardian issues. It records outcomes, it is never read back to rebuild
// state.
package journal

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Command is one issued trade command and its venue outcome.
type Command struct {
	ID      string // ULID, time-sortable
	At      time.Time
	Kind    string // market_close | modify_stops | place_pending | cancel_order
	Symbol  string
	Ticket  int64 // position or order the command targeted, 0 if none
	Price   float64
	Volume  float64
	Tag     string
	OK      bool
	Code    int
	OrderID int64 // ticket created by the command, 0 if none
}

type Recorder interface {
	RecordCommand(Command) error
	Close() error
}

var (
	idMu   sync.Mutex
	idMono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	// Monotonic entropy keeps IDs generated within one millisecond
	// lexicographically increasing.
	idMono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// NewID returns a time-sortable ULID string.
func NewID(t time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t.UTC()), idMono)
	if err != nil {
		panic(err)
	}
	return id.String()
}
