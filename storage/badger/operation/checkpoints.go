package operation

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/onflow/flow-blockstream/model/stream"
)

func InsertCheckpoint(checkpoint *stream.Checkpoint) func(*badger.Txn) error {
	return insert(makePrefix(codeCheckpoint, checkpoint.BlockNumber), checkpoint)
}

func RetrieveCheckpoint(blockNumber uint64, checkpoint *stream.Checkpoint) func(*badger.Txn) error {
	return retrieve(makePrefix(codeCheckpoint, blockNumber), checkpoint)
}

// HasCheckpoint reports whether a checkpoint exists for the block.
func HasCheckpoint(blockNumber uint64, found *bool) func(*badger.Txn) error {
	return exists(makePrefix(codeCheckpoint, blockNumber), found)
}
