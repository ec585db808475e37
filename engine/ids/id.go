// Package ids provides the strongly-typed identifier used throughout the
// engine for MessageId and StreamId values: time-ordered when minted by
// New, name-based when derived by Derive.
package ids

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID is a newtype around a UUID. IDs minted by New are UUIDv7, giving them
// temporal order without a separate sequence column; IDs from Derive (as
// StreamIds are) are SHA-1 name-based and carry no temporal order.
// MessageId, StreamId and InstanceId are all ID values.
type ID struct {
	value uuid.UUID
}

// Nil is the zero ID.
var Nil = ID{}

// New mints a fresh time-ordered ID.
func New() (ID, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return ID{}, fmt.Errorf("ids: generate uuidv7: %w", err)
	}
	return ID{value: u}, nil
}

// MustNew mints a fresh ID and panics on generator failure, for call sites
// (tests, seed data) that cannot propagate an error.
func MustNew() ID {
	id, err := New()
	if err != nil {
		panic(err)
	}
	return id
}

// Parse reads a 36-char UUID string into an ID.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("ids: parse %q: %w", s, err)
	}
	return ID{value: u}, nil
}

// FromBytes wraps 16 raw bytes as an ID, used when reading UUID columns.
func FromBytes(b []byte) (ID, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return ID{}, fmt.Errorf("ids: from bytes: %w", err)
	}
	return ID{value: u}, nil
}

// IsNil reports whether the ID is the zero value.
func (id ID) IsNil() bool { return id.value == uuid.Nil }

// String renders the canonical 36-char UUID form.
func (id ID) String() string { return id.value.String() }

// Bytes returns the 16 raw bytes, used for hashing (partition assignment,
// dedup keys).
func (id ID) Bytes() []byte {
	b := id.value
	return b[:]
}

// Before reports whether id was minted earlier than other — valid because
// both are UUIDv7 and thus monotonically time-ordered at the millisecond
// granularity used by consistent-hash and stream-ordering comparisons.
func (id ID) Before(other ID) bool {
	for i := 0; i < len(id.value); i++ {
		if id.value[i] != other.value[i] {
			return id.value[i] < other.value[i]
		}
	}
	return false
}

// MarshalJSON renders the ID as its inner UUID string, per the wire format
// contract (strongly-typed IDs serialise as their inner UUID string).
func (id ID) MarshalJSON() ([]byte, error) {
	return id.value.MarshalText()
}

// UnmarshalJSON parses a UUID string into the ID.
func (id *ID) UnmarshalJSON(data []byte) error {
	return id.value.UnmarshalText(trimQuotes(data))
}

func trimQuotes(data []byte) []byte {
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		return data[1 : len(data)-1]
	}
	return data
}

// Value implements driver.Valuer so ID can be written directly by database/sql
// and pgx.
func (id ID) Value() (driver.Value, error) {
	if id.IsNil() {
		return nil, nil
	}
	return id.value.String(), nil
}

// Scan implements sql.Scanner.
func (id *ID) Scan(src any) error {
	if src == nil {
		*id = ID{}
		return nil
	}
	switch v := src.(type) {
	case string:
		parsed, err := uuid.Parse(v)
		if err != nil {
			return fmt.Errorf("ids: scan string: %w", err)
		}
		id.value = parsed
		return nil
	case []byte:
		parsed, err := uuid.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("ids: scan bytes: %w", err)
		}
		id.value = parsed
		return nil
	default:
		return fmt.Errorf("ids: cannot scan %T into ID", src)
	}
}

// HashPartition returns a deterministic bucket in [0, partitionCount) for
// this ID, used to compute OutboxRecord/InboxRecord/Checkpoint
// PartitionNumber from a StreamId.
func (id ID) HashPartition(partitionCount int) int {
	if partitionCount <= 0 {
		return 0
	}
	var h uint64 = 14695981039346656037 // FNV-1a offset basis
	for _, b := range id.Bytes() {
		h ^= uint64(b)
		h *= 1099511628211 // FNV-1a prime
	}
	return int(h % uint64(partitionCount))
}
