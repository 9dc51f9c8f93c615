package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/storage"
	"github.com/onflow/flow-blockstream/storage/badger/operation"
)

// Checkpoints stores block stream checkpoints keyed by block number and
// tracks the latest one through the boundary marker.
type Checkpoints struct {
	db *badger.DB
}

var _ storage.Checkpoints = (*Checkpoints)(nil)

func NewCheckpoints(db *badger.DB) *Checkpoints {
	return &Checkpoints{db: db}
}

func (c *Checkpoints) Store(checkpoint *stream.Checkpoint) error {
	return c.db.Update(func(tx *badger.Txn) error {
		var last uint64
		err := operation.RetrieveBoundary(&last)(tx)
		if err == nil && checkpoint.BlockNumber <= last {
			return fmt.Errorf("checkpoint for block %d does not follow last closed block %d", checkpoint.BlockNumber, last)
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("could not retrieve last closed block: %w", err)
		}

		err = operation.InsertCheckpoint(checkpoint)(tx)
		if err != nil {
			return fmt.Errorf("could not insert checkpoint for block %d: %w", checkpoint.BlockNumber, err)
		}
		err = operation.SetBoundary(checkpoint.BlockNumber)(tx)
		if err != nil {
			return fmt.Errorf("could not update last closed block: %w", err)
		}
		return nil
	})
}

func (c *Checkpoints) Latest() (*stream.Checkpoint, error) {
	var checkpoint stream.Checkpoint
	err := c.db.View(func(tx *badger.Txn) error {
		var last uint64
		err := operation.RetrieveBoundary(&last)(tx)
		if err != nil {
			return fmt.Errorf("could not retrieve last closed block: %w", err)
		}
		return operation.RetrieveCheckpoint(last, &checkpoint)(tx)
	})
	if err != nil {
		return nil, err
	}
	return &checkpoint, nil
}

func (c *Checkpoints) ByBlockNumber(blockNumber uint64) (*stream.Checkpoint, error) {
	var checkpoint stream.Checkpoint
	err := c.db.View(operation.RetrieveCheckpoint(blockNumber, &checkpoint))
	if err != nil {
		return nil, fmt.Errorf("could not retrieve checkpoint for block %d: %w", blockNumber, err)
	}
	return &checkpoint, nil
}
