// Package streaming drives a block stream producer from the rounds decided by
// consensus and keeps its recovery checkpoints.
package streaming

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module"
	"github.com/onflow/flow-blockstream/module/irrecoverable"
	"github.com/onflow/flow-blockstream/storage"
	"github.com/onflow/flow-blockstream/utils/logging"
)

// Manager owns a producer for the lifetime of a node. It resumes the stream
// from the latest checkpoint, turns every round into a block and stores a
// checkpoint once the block's writer has closed it.
//
// A checkpoint records the running hash chain at the end of a block. It is
// only stored after the producer has been flushed, so a checkpoint never
// names a block that was not persisted.
type Manager struct {
	log         zerolog.Logger
	producer    module.StreamProducer
	checkpoints storage.Checkpoints
	genesis     stream.RunningHashes
}

func NewManager(
	log zerolog.Logger,
	producer module.StreamProducer,
	checkpoints storage.Checkpoints,
	genesis stream.RunningHashes,
) *Manager {
	return &Manager{
		log:         log.With().Str("component", "block_stream_manager").Logger(),
		producer:    producer,
		checkpoints: checkpoints,
		genesis:     genesis,
	}
}

// Start initializes the producer from the latest checkpoint, or from the
// genesis hashes when no block has been closed yet.
func (m *Manager) Start() error {
	checkpoint, err := m.checkpoints.Latest()
	if errors.Is(err, storage.ErrNotFound) {
		logging.Hash(m.log.Info(), "running_hash", m.genesis.Current()).Msg("no checkpoint found, starting stream from genesis")
		return m.producer.InitRunningHash(m.genesis)
	}
	if err != nil {
		return fmt.Errorf("could not load latest checkpoint: %w", err)
	}

	logging.Hash(m.log.Info(), "running_hash", checkpoint.RunningHashes.Current()).
		Uint64("last_block_number", checkpoint.BlockNumber).
		Msg("resuming stream from checkpoint")
	return m.producer.InitFromLastBlock(checkpoint.RunningHashes, checkpoint.BlockNumber)
}

// ProcessRound writes the round as one block and stores its checkpoint. It
// returns the number of the block.
func (m *Manager) ProcessRound(round Round) (uint64, error) {
	err := m.producer.BeginBlock(round.FirstTxnTime)
	if err != nil {
		return 0, fmt.Errorf("could not begin block: %w", err)
	}
	block, err := m.producer.CurrentBlock()
	if err != nil {
		return 0, fmt.Errorf("could not get open block: %w", err)
	}

	for i, input := range round.Inputs {
		err := m.apply(input)
		if err != nil {
			return block.Number, fmt.Errorf("could not write input %d of block %d: %w", i, block.Number, err)
		}
	}

	err = m.producer.EndBlock()
	if err != nil {
		return block.Number, fmt.Errorf("could not end block %d: %w", block.Number, err)
	}
	err = m.producer.Flush()
	if err != nil {
		return block.Number, fmt.Errorf("could not persist block %d: %w", block.Number, err)
	}

	hashes, err := m.producer.RunningHashes()
	if err != nil {
		return block.Number, fmt.Errorf("could not get running hashes of block %d: %w", block.Number, err)
	}
	err = m.checkpoints.Store(&stream.Checkpoint{
		BlockNumber:   block.Number,
		RunningHashes: hashes,
	})
	if err != nil {
		return block.Number, irrecoverable.NewExceptionf("could not store checkpoint of block %d: %w", block.Number, err)
	}

	logging.Hash(logging.Block(m.log, block.Number, "process_round").Debug(), "end_hash", hashes.Current()).
		Int("inputs", len(round.Inputs)).
		Msg("block checkpointed")
	return block.Number, nil
}

func (m *Manager) apply(input Input) error {
	switch {
	case input.ConsensusEvent != nil:
		return m.producer.WriteConsensusEvent(*input.ConsensusEvent)
	case input.SystemTransaction != nil:
		return m.producer.WriteSystemTransaction(*input.SystemTransaction)
	case len(input.Transactions) > 0:
		return m.producer.WriteUserTransactionItems(input.Transactions...)
	case input.StateChanges != nil:
		return m.producer.WriteStateChanges(*input.StateChanges)
	case input.FilteredItem != nil:
		return m.producer.WriteFilteredItem(*input.FilteredItem)
	default:
		return fmt.Errorf("empty input")
	}
}

// Run processes rounds until the channel is closed or the context is done,
// then closes the producer. Any failure to produce a round is thrown on the
// context: a block stream with a gap cannot be continued.
func (m *Manager) Run(ctx irrecoverable.SignalerContext, rounds <-chan Round) {
	for {
		select {
		case <-ctx.Done():
			m.shutdown(ctx)
			return
		case round, ok := <-rounds:
			if !ok {
				m.shutdown(ctx)
				return
			}
			_, err := m.ProcessRound(round)
			if err != nil {
				ctx.Throw(multierror.Append(err, m.Close()).ErrorOrNil())
				return
			}
		}
	}
}

func (m *Manager) shutdown(ctx irrecoverable.SignalerContext) {
	err := m.Close()
	if err != nil {
		ctx.Throw(fmt.Errorf("could not close block stream: %w", err))
	}
}

// LatestCheckpoint returns the checkpoint of the last closed block.
// Expected errors:
//   - storage.ErrNotFound if no block has been closed yet
func (m *Manager) LatestCheckpoint() (*stream.Checkpoint, error) {
	return m.checkpoints.Latest()
}

// Close closes the open block, if any, and the producer.
func (m *Manager) Close() error {
	err := m.producer.Close()
	if err != nil {
		return err
	}
	m.log.Info().Msg("block stream closed")
	return nil
}
