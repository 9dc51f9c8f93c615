package storage

import (
	"github.com/onflow/flow-blockstream/model/stream"
)

// Checkpoints persists the recovery state of a block stream: the running hashes
// at the end of each closed block.
type Checkpoints interface {
	// Store persists the checkpoint of a closed block and makes it the latest
	// one. Checkpoints must be stored in increasing block order.
	// Expected errors:
	//   - storage.ErrAlreadyExists if a checkpoint for the block exists
	Store(checkpoint *stream.Checkpoint) error

	// Latest returns the checkpoint of the most recently closed block.
	// Expected errors:
	//   - storage.ErrNotFound if no block has been closed yet
	Latest() (*stream.Checkpoint, error)

	// ByBlockNumber returns the checkpoint stored for the given block.
	// Expected errors:
	//   - storage.ErrNotFound if there is none
	ByBlockNumber(blockNumber uint64) (*stream.Checkpoint, error)
}
