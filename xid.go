package funk

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/hupe1980/funk/internal/hashmap"
)

// NullIndex is the compressed index value meaning "no transaction" or
// "no record". It is also the largest supported map capacity.
const NullIndex = hashmap.Null

// XID identifies a transaction. The zero value is the root xid, which
// names the canonical state.
type XID [4]uint64

// RootXID is the xid of the canonical state.
var RootXID XID

// NewXID returns a random non-root xid.
func NewXID() XID {
	for {
		u := uuid.New()
		x := XID{
			binary.LittleEndian.Uint64(u[0:8]),
			binary.LittleEndian.Uint64(u[8:16]),
		}
		if !x.IsRoot() {
			return x
		}
	}
}

// XIDFromUint64 returns a deterministic xid for v. Zero maps to the root xid.
func XIDFromUint64(v uint64) XID {
	return XID{v}
}

// IsRoot reports whether x is the root xid.
func (x XID) IsRoot() bool { return x == RootXID }

func (x XID) String() string {
	var b [32]byte
	for i, w := range x {
		binary.BigEndian.PutUint64(b[i*8:], w)
	}
	return hex.EncodeToString(b[:])
}

// ParseXID parses the 64-digit hex form produced by XID.String. Up to 16
// hex digits are read as XIDFromUint64 of their value.
func ParseXID(s string) (XID, error) {
	if len(s) <= 16 {
		v, err := strconv.ParseUint(s, 16, 64)
		if err != nil {
			return XID{}, fmt.Errorf("%w: xid %q: %w", ErrInvalid, s, err)
		}
		return XIDFromUint64(v), nil
	}

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return XID{}, fmt.Errorf("%w: xid %q is not 64 hex digits", ErrInvalid, s)
	}
	var x XID
	for i := range x {
		x[i] = binary.BigEndian.Uint64(b[i*8:])
	}
	return x, nil
}

// KeySize is the size of a record key in bytes.
const KeySize = 64

// Key identifies a logical record independent of any transaction.
type Key [8]uint64

// KeyFromUint64 returns a key whose first word is v and the rest zero.
func KeyFromUint64(v uint64) Key {
	return Key{v}
}

// KeyFromBytes packs b into a key, zero padded. It fails if b is longer
// than KeySize.
func KeyFromBytes(b []byte) (Key, error) {
	if len(b) > KeySize {
		return Key{}, fmt.Errorf("%w: key of %d bytes exceeds %d", ErrInvalid, len(b), KeySize)
	}
	var buf [KeySize]byte
	copy(buf[:], b)

	var k Key
	for i := range k {
		k[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return k, nil
}

// Bytes returns the key in the byte order KeyFromBytes reads.
func (k Key) Bytes() [KeySize]byte {
	var buf [KeySize]byte
	for i, w := range k {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}
	return buf
}

func (k Key) String() string {
	b := k.Bytes()
	return hex.EncodeToString(b[:])
}

// Pair is the composite (transaction, record) key of a record.
type Pair struct {
	XID XID
	Key Key
}

func (p Pair) String() string {
	return p.XID.String() + ":" + p.Key.String()
}
