// Package identifier provides the 12-byte, time-ordered identifier used
// for session records and room keys.
//
// The layout is big-endian: 4 bytes of Unix seconds, 5 bytes of
// per-process entropy, 3 bytes of counter. Because the timestamp leads
// and the encoding is fixed-width, byte-wise (and hex string)
// comparison preserves chronological order. A Generator guarantees
// per-process monotonicity: the clock is pinned against regression, and
// a counter overflow within one second waits for the next second.
package identifier

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// ID is a 12-byte, lexicographically sortable identifier.
type ID [12]byte

// EncodedLen is the length of the hex representation of an ID.
const EncodedLen = 24

var (
	// ErrInvalidID reports a string that is not 24 lowercase/uppercase
	// hex characters.
	ErrInvalidID = errors.New("identifier must be a 24-character hex string")
)

// Nil is the zero identifier. It compares less than every generated ID.
var Nil ID

// Bytes returns the raw 12-byte representation.
func (i ID) Bytes() []byte {
	b := make([]byte, 12)
	copy(b, i[:])
	return b
}

// Hex returns the lowercase hex representation.
func (i ID) Hex() string {
	return hex.EncodeToString(i[:])
}

// String implements fmt.Stringer.
func (i ID) String() string { return i.Hex() }

// IsZero reports whether the ID is the zero value.
func (i ID) IsZero() bool { return i == Nil }

// Compare returns -1, 0 or 1 based on byte-wise comparison, which is
// also chronological order for generated IDs.
func (i ID) Compare(other ID) int {
	for idx := 0; idx < len(i); idx++ {
		if i[idx] < other[idx] {
			return -1
		}
		if i[idx] > other[idx] {
			return 1
		}
	}
	return 0
}

// Time returns the timestamp embedded in the leading four bytes,
// truncated to seconds.
func (i ID) Time() time.Time {
	sec := int64(binary.BigEndian.Uint32(i[0:4]))
	return time.Unix(sec, 0).UTC()
}

// MarshalJSON encodes the ID as its hex string.
func (i ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + i.Hex() + `"`), nil
}

// UnmarshalJSON decodes a hex string into the ID.
func (i *ID) UnmarshalJSON(data []byte) error {
	if len(data) != EncodedLen+2 || data[0] != '"' || data[len(data)-1] != '"' {
		return ErrInvalidID
	}
	id, err := FromHex(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*i = id
	return nil
}

// FromHex parses a 24-character hex string into an ID.
func FromHex(s string) (ID, error) {
	var id ID
	if len(s) != EncodedLen {
		return Nil, ErrInvalidID
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Nil, ErrInvalidID
	}
	copy(id[:], b)
	return id, nil
}

// IsValidHex reports whether s parses as an ID.
func IsValidHex(s string) bool {
	_, err := FromHex(s)
	return err == nil
}

// Generator produces monotonically increasing IDs for one process. The
// 5-byte entropy segment is fixed per generator, so ordering within a
// process reduces to (seconds, counter).
type Generator struct {
	mu      sync.Mutex
	entropy [5]byte
	lastSec int64
	counter uint32 // only the low 24 bits are encoded
}

// NowSec returns the current Unix time in seconds. Tests may replace it.
var NowSec = func() int64 { return time.Now().Unix() }

// NewGenerator creates a Generator with fresh process entropy.
func NewGenerator() *Generator {
	g := &Generator{}
	if _, err := rand.Read(g.entropy[:]); err != nil {
		// crypto/rand failure leaves no safe source of uniqueness.
		panic("identifier: cannot seed generator entropy: " + err.Error())
	}
	return g
}

const counterMask = 0xFFFFFF

// Next returns a new ID strictly greater than every ID this generator
// has returned before.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	sec := NowSec()
	if sec < g.lastSec {
		// Clock regression: pin to the last seen second so ordering holds.
		sec = g.lastSec
	}

	if sec == g.lastSec {
		if g.counter == counterMask {
			// Counter exhausted within this second; wait for the clock.
			for {
				sec = NowSec()
				if sec > g.lastSec {
					break
				}
				time.Sleep(time.Millisecond)
			}
			g.counter = 0
		} else {
			g.counter++
		}
	} else {
		g.counter = 0
	}

	g.lastSec = sec
	return g.make(sec, g.counter)
}

func (g *Generator) make(sec int64, counter uint32) ID {
	var id ID
	binary.BigEndian.PutUint32(id[0:4], uint32(sec))
	copy(id[4:9], g.entropy[:])
	id[9] = byte(counter >> 16)
	id[10] = byte(counter >> 8)
	id[11] = byte(counter)
	return id
}
