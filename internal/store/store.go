// Package store holds the contracts shared by every service's entity store:
// optimistic-concurrency sentinels and the version gate consumers use to
// decide whether an incoming event may be applied to a local snapshot.
package store

import "errors"

var (
	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrVersionConflict means a versioned update lost the
	// compare-and-increment race. The caller re-reads and reapplies.
	ErrVersionConflict = errors.New("version conflict")
)

// MaxRetries bounds re-read-and-reapply loops after a version conflict.
const MaxRetries = 3

// GateResult classifies an incoming versioned event against the version
// last applied locally.
type GateResult int

const (
	// Apply: the event is the immediate successor of the local state.
	Apply GateResult = iota
	// Duplicate: the event was already applied. Acknowledge without reapplying.
	Duplicate
	// OutOfOrder: a predecessor is missing. The message is retried in
	// place until the gap fills.
	OutOfOrder
)

// Gate compares the version carried by an event with the version currently
// persisted for the same entity. Versions impose a total order per entity,
// which is how ordering is recovered from an unordered delivery substrate.
func Gate(current, incoming int64) GateResult {
	switch {
	case incoming == current+1:
		return Apply
	case incoming <= current:
		return Duplicate
	default:
		return OutOfOrder
	}
}
