package producer

import (
	"fmt"
	"sync"
	"time"

	"github.com/onflow/flow-go/crypto/hash"
	"github.com/rs/zerolog"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module"
	"github.com/onflow/flow-blockstream/module/blockstream"
	"github.com/onflow/flow-blockstream/utils/logging"
)

// SyncProducer runs serialization, hashing and writing inline on the calling
// goroutine. The mutex only makes Close and the accessors safe to call from
// other goroutines.
type SyncProducer struct {
	log        zerolog.Logger
	metrics    module.BlockStreamMetrics
	serializer serializer
	writers    module.WriterFactory
	config     config

	mu          sync.Mutex
	initialized bool
	halted      error
	hasher      hash.Hasher
	history     stream.HashHistory
	blocks      blockNumbers
	blockStart  stream.HashObject
	writer      module.StreamWriter
}

var _ module.StreamProducer = (*SyncProducer)(nil)

func NewSyncProducer(
	log zerolog.Logger,
	metrics module.BlockStreamMetrics,
	format module.StreamFormat,
	writers module.WriterFactory,
	opts ...Option,
) *SyncProducer {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &SyncProducer{
		log:        log.With().Str("component", "sync_stream_producer").Logger(),
		metrics:    metrics,
		serializer: serializer{format: format, metrics: metrics},
		writers:    writers,
		config:     cfg,
	}
}

func (p *SyncProducer) InitRunningHash(hashes stream.RunningHashes) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.init(hashes, blockNumbers{})
}

func (p *SyncProducer) InitFromLastBlock(hashes stream.RunningHashes, lastBlockNumber uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.init(hashes, blockNumbers{known: true, number: lastBlockNumber})
}

func (p *SyncProducer) init(hashes stream.RunningHashes, blocks blockNumbers) error {
	if p.initialized {
		return blockstream.NewIllegalStatef("producer is already initialized")
	}
	history, err := initialHistory(hashes, p.config.historyDepth)
	if err != nil {
		return err
	}
	p.initialized = true
	p.history = history
	p.hasher = p.serializer.format.NewHasher()
	p.blocks = blocks

	logging.Hash(p.log.Info(), "running_hash", history.Current()).
		Bool("last_block_known", blocks.known).
		Uint64("last_block_number", blocks.number).
		Msg("producer initialized")
	return nil
}

// checkReady must be called with the lock held.
func (p *SyncProducer) checkReady() error {
	if p.halted != nil {
		return blockstream.NewProducerHaltedError(p.halted)
	}
	if !p.initialized {
		return blockstream.NewIllegalStatef("producer is not initialized")
	}
	return nil
}

func (p *SyncProducer) SwitchBlocks(lastBlockNumber uint64, newBlockNumber uint64, firstTxnTime time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkReady(); err != nil {
		return err
	}
	if err := p.blocks.checkSwitch(lastBlockNumber, newBlockNumber); err != nil {
		return err
	}
	if err := p.closeWriter(); err != nil {
		return err
	}
	return p.openWriter(newBlockNumber, firstTxnTime)
}

func (p *SyncProducer) BeginBlock(firstTxnTime time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkReady(); err != nil {
		return err
	}
	if p.blocks.open {
		return blockstream.NewIllegalStatef("block %d is still open", p.blocks.number)
	}
	number := p.blocks.next()
	if err := p.openWriter(number, firstTxnTime); err != nil {
		return err
	}
	return p.write("begin_block", func() ([]stream.SerializedItem, error) {
		return p.serializer.header(number, firstTxnTime)
	})
}

func (p *SyncProducer) EndBlock() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkReady(); err != nil {
		return err
	}
	if !p.blocks.open {
		return blockstream.NewIllegalStatef("no block is open")
	}
	err := p.write("end_block", func() ([]stream.SerializedItem, error) {
		return p.serializer.proof(p.blocks.number, p.blockStart, p.history.Current())
	})
	if err != nil {
		return err
	}
	return p.closeWriter()
}

func (p *SyncProducer) WriteItems(records ...stream.TransactionRecord) error {
	return p.locked("write_items", func() ([]stream.SerializedItem, error) {
		return p.serializer.records(records)
	})
}

func (p *SyncProducer) WriteUserTransactionItems(records ...stream.TransactionRecord) error {
	return p.WriteItems(records...)
}

func (p *SyncProducer) WriteConsensusEvent(event stream.ConsensusEvent) error {
	return p.locked("write_consensus_event", func() ([]stream.SerializedItem, error) {
		return p.serializer.consensusEvent(event)
	})
}

func (p *SyncProducer) WriteSystemTransaction(txn stream.SystemTransaction) error {
	return p.locked("write_system_transaction", func() ([]stream.SerializedItem, error) {
		return p.serializer.systemTransaction(txn)
	})
}

func (p *SyncProducer) WriteStateChanges(changes stream.StateChanges) error {
	return p.locked("write_state_changes", func() ([]stream.SerializedItem, error) {
		return p.serializer.stateChanges(changes)
	})
}

func (p *SyncProducer) WriteFilteredItem(item stream.FilteredItem) error {
	return p.locked("write_filtered_item", func() ([]stream.SerializedItem, error) {
		return p.serializer.filteredItem(item)
	})
}

func (p *SyncProducer) locked(op string, serialize func() ([]stream.SerializedItem, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkReady(); err != nil {
		return err
	}
	if !p.blocks.open {
		return blockstream.NewIllegalStatef("cannot %s: no block is open", op)
	}
	return p.write(op, serialize)
}

// write serializes, pushes the running hash of every item and hands each item
// to the open writer. Must be called with the lock held and a block open.
func (p *SyncProducer) write(op string, serialize func() ([]stream.SerializedItem, error)) error {
	log := logging.Block(p.log, p.blocks.number, op)

	items, err := serialize()
	if err != nil {
		return p.halt(log, fmt.Errorf("could not serialize items: %w", err))
	}
	history, hashes, err := p.serializer.chain(p.hasher, p.history, items)
	if err != nil {
		return p.halt(log, err)
	}
	p.history = history

	for i, item := range items {
		err := p.writer.WriteItem(item, hashes[i])
		if err == nil {
			continue
		}
		if p.config.policy == LogAndContinue {
			log.Error().Err(err).Str("kind", item.Kind.String()).Msg("writer failed, item is missing from the block")
			continue
		}
		return p.halt(log, err)
	}
	return nil
}

// openWriter creates and initializes the writer of a new block, starting at
// the current running hash.
func (p *SyncProducer) openWriter(number uint64, firstTxnTime time.Time) error {
	log := logging.Block(p.log, number, "open_block")

	w, err := p.writers.Create()
	if err != nil {
		return p.halt(log, fmt.Errorf("could not create writer for block %d: %w", number, err))
	}
	start := p.history.Current()
	if err := w.Init(p.serializer.format.Version(), start, firstTxnTime, number); err != nil {
		return p.halt(log, err)
	}

	p.writer = w
	p.blockStart = start
	p.blocks.begin(number, firstTxnTime)
	logging.Hash(log.Debug(), "start_hash", start).Msg("block opened")
	return nil
}

// closeWriter closes the open block, if any, with the current running hash.
func (p *SyncProducer) closeWriter() error {
	if p.writer == nil {
		return nil
	}
	w := p.writer
	p.writer = nil
	p.blocks.end()

	log := logging.Block(p.log, p.blocks.number, "close_block")
	end := p.history.Current()
	if err := w.Close(end); err != nil {
		if p.config.policy == LogAndContinue {
			log.Error().Err(err).Msg("writer failed to close block")
			return nil
		}
		return p.halt(log, err)
	}
	logging.Hash(log.Debug(), "end_hash", end).Msg("block closed")
	return nil
}

// halt stops the producer. Must be called with the lock held.
func (p *SyncProducer) halt(log zerolog.Logger, err error) error {
	p.halted = err
	log.Error().Err(err).Msg("block stream producer halted")
	return blockstream.NewProducerHaltedError(err)
}

// Flush has nothing to wait for, writes happen inline. It reports whether the
// producer is still usable.
func (p *SyncProducer) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkReady()
}

func (p *SyncProducer) RunningHash() (stream.HashObject, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkReady(); err != nil {
		return stream.HashObject{}, err
	}
	return p.history.Current(), nil
}

func (p *SyncProducer) NMinus3RunningHash() (stream.HashObject, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkReady(); err != nil {
		return stream.HashObject{}, err
	}
	return p.history.NMinus3()
}

func (p *SyncProducer) RunningHashes() (stream.RunningHashes, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkReady(); err != nil {
		return stream.RunningHashes{}, err
	}
	return p.history.RunningHashes(), nil
}

func (p *SyncProducer) CurrentBlock() (stream.BlockDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkReady(); err != nil {
		return stream.BlockDescriptor{}, err
	}
	return p.blocks.descriptor(p.blockStart)
}

// Close closes the open block with the final running hash and resets the
// producer. Closing a producer that is not initialized does nothing.
func (p *SyncProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return nil
	}

	var err error
	if p.writer != nil {
		end := p.history.Current()
		err = p.writer.Close(end)
		if err != nil {
			err = blockstream.NewWriteError(p.blocks.number, "close", err)
			p.log.Error().Err(err).Uint64("block_number", p.blocks.number).Msg("could not close block on shutdown")
		}
	}

	p.initialized = false
	p.halted = nil
	p.hasher = nil
	p.history = stream.HashHistory{}
	p.blocks = blockNumbers{}
	p.blockStart = stream.HashObject{}
	p.writer = nil
	p.log.Info().Msg("producer closed")
	return err
}
