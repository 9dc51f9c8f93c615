package stream

import (
	"errors"
	"fmt"
)

// DefaultHistoryDepth keeps the current running hash plus the three before it.
const DefaultHistoryDepth = 4

var (
	// ErrHashNotAvailable is returned when a history slot has not been filled yet,
	// for example n-3 right after initializing from a single genesis hash.
	ErrHashNotAvailable = errors.New("running hash not yet available")

	// ErrHistoryDepth is returned when asking for a hash older than the history keeps.
	ErrHistoryDepth = errors.New("requested running hash is beyond history depth")
)

// HashHistory is an immutable, fixed depth window over the most recent running
// hashes, newest first. Push returns a new history, so a value can be shared
// between goroutines without synchronization.
type HashHistory struct {
	hashes []HashObject
}

// NewHashHistory creates a history of the given depth seeded with the given
// hashes, newest first. Slots without a seed value stay empty.
func NewHashHistory(depth int, newestFirst ...HashObject) (HashHistory, error) {
	if depth < 1 {
		return HashHistory{}, fmt.Errorf("invalid history depth %d", depth)
	}
	if len(newestFirst) > depth {
		return HashHistory{}, fmt.Errorf("got %d seed hashes for history of depth %d", len(newestFirst), depth)
	}
	if len(newestFirst) == 0 || newestFirst[0].IsEmpty() {
		return HashHistory{}, fmt.Errorf("current running hash must not be empty")
	}

	hashes := make([]HashObject, depth)
	copy(hashes, newestFirst)
	return HashHistory{hashes: hashes}, nil
}

// Push returns a copy of the history with next as the current hash and every
// other slot shifted back by one. The oldest hash is dropped.
func (h HashHistory) Push(next HashObject) HashHistory {
	hashes := make([]HashObject, len(h.hashes))
	hashes[0] = next
	copy(hashes[1:], h.hashes[:len(h.hashes)-1])
	return HashHistory{hashes: hashes}
}

// Current returns the newest running hash.
func (h HashHistory) Current() HashObject {
	if len(h.hashes) == 0 {
		return HashObject{}
	}
	return h.hashes[0]
}

// Back returns the running hash n items before the current one.
//
// Expected errors:
//   - ErrHistoryDepth if n is outside the window
//   - ErrHashNotAvailable if the slot has not been filled yet
func (h HashHistory) Back(n int) (HashObject, error) {
	if n < 0 || n >= len(h.hashes) {
		return HashObject{}, fmt.Errorf("n-%d of depth %d: %w", n, len(h.hashes), ErrHistoryDepth)
	}
	hash := h.hashes[n]
	if hash.IsEmpty() {
		return HashObject{}, fmt.Errorf("n-%d: %w", n, ErrHashNotAvailable)
	}
	return hash, nil
}

// NMinus3 returns the running hash three items before the current one.
func (h HashHistory) NMinus3() (HashObject, error) {
	return h.Back(3)
}

func (h HashHistory) Depth() int {
	return len(h.hashes)
}

// IsZero returns true for the zero value, which has not been initialized.
func (h HashHistory) IsZero() bool {
	return len(h.hashes) == 0
}

// RunningHashes exports the filled slots, newest first.
func (h HashHistory) RunningHashes() RunningHashes {
	out := make([]HashObject, 0, len(h.hashes))
	for _, hash := range h.hashes {
		if hash.IsEmpty() {
			break
		}
		out = append(out, hash)
	}
	return RunningHashes{Hashes: out}
}

// RunningHashes is the set of most recent running hashes, newest first. It is
// what a producer is initialized from and what gets persisted for recovery.
type RunningHashes struct {
	Hashes []HashObject `msgpack:"hashes"`
}

// NewRunningHashes builds a running hash set from the given hashes, newest first.
func NewRunningHashes(newestFirst ...HashObject) RunningHashes {
	return RunningHashes{Hashes: newestFirst}
}

// Current returns the newest hash, or an empty hash if the set is empty.
func (r RunningHashes) Current() HashObject {
	if len(r.Hashes) == 0 {
		return HashObject{}
	}
	return r.Hashes[0]
}

// History converts the set into a history of the given depth. Hashes older than
// the depth are dropped.
func (r RunningHashes) History(depth int) (HashHistory, error) {
	hashes := r.Hashes
	if len(hashes) > depth {
		hashes = hashes[:depth]
	}
	return NewHashHistory(depth, hashes...)
}

// Checkpoint is the recovery record written after a block has been closed. It
// carries everything needed to resume the stream at BlockNumber+1.
type Checkpoint struct {
	BlockNumber   uint64        `msgpack:"block_number"`
	RunningHashes RunningHashes `msgpack:"running_hashes"`
}
