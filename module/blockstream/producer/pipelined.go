package producer

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module"
	"github.com/onflow/flow-blockstream/module/blockstream"
	"github.com/onflow/flow-blockstream/module/util"
	"github.com/onflow/flow-blockstream/utils/logging"
)

// chainStep is the result of hashing one batch of items: the history after the
// batch, the items and the running hash after each of them.
type chainStep struct {
	history stream.HashHistory
	items   []stream.SerializedItem
	hashes  []stream.HashObject
}

// PipelinedProducer returns to the caller as soon as work is enqueued.
// Serialization of each call is scheduled right away and may run concurrently
// with earlier calls. Hashing is chained onto the previous hash step and
// writing onto the previous write step, so both happen in call order.
//
// The producer keeps two tails: the hash tail, a future of the latest
// chainStep, and the writer tail, a future of the writer that has received
// everything enqueued so far. mu only guards replacing these references.
type PipelinedProducer struct {
	log        zerolog.Logger
	metrics    module.BlockStreamMetrics
	serializer serializer
	writers    module.WriterFactory
	exec       util.Executor
	config     config
	halted     *atomic.Error

	// closeMu serializes Close calls
	closeMu sync.Mutex

	mu          sync.Mutex
	initialized bool
	closing     bool
	hashTail    *util.Future[chainStep]
	writerTail  *util.Future[module.StreamWriter]
	blockStart  *util.Future[chainStep]
	blocks      blockNumbers
}

var _ module.StreamProducer = (*PipelinedProducer)(nil)

// NewPipelinedProducer creates a producer scheduling its work on exec, which is
// typically a *workerpool.WorkerPool shared with other components.
func NewPipelinedProducer(
	log zerolog.Logger,
	metrics module.BlockStreamMetrics,
	format module.StreamFormat,
	writers module.WriterFactory,
	exec util.Executor,
	opts ...Option,
) *PipelinedProducer {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &PipelinedProducer{
		log:        log.With().Str("component", "pipelined_stream_producer").Logger(),
		metrics:    metrics,
		serializer: serializer{format: format, metrics: metrics},
		writers:    writers,
		exec:       exec,
		config:     cfg,
		halted:     atomic.NewError(nil),
	}
}

func (p *PipelinedProducer) InitRunningHash(hashes stream.RunningHashes) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.init(hashes, blockNumbers{})
}

func (p *PipelinedProducer) InitFromLastBlock(hashes stream.RunningHashes, lastBlockNumber uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.init(hashes, blockNumbers{known: true, number: lastBlockNumber})
}

func (p *PipelinedProducer) init(hashes stream.RunningHashes, blocks blockNumbers) error {
	if p.initialized {
		return blockstream.NewIllegalStatef("producer is already initialized")
	}
	history, err := initialHistory(hashes, p.config.historyDepth)
	if err != nil {
		return err
	}
	p.initialized = true
	p.hashTail = util.Completed(chainStep{history: history})
	p.writerTail = util.Completed[module.StreamWriter](nil)
	p.blockStart = nil
	p.blocks = blocks

	logging.Hash(p.log.Info(), "running_hash", history.Current()).
		Bool("last_block_known", blocks.known).
		Uint64("last_block_number", blocks.number).
		Msg("producer initialized")
	return nil
}

// checkReady must be called with mu held.
func (p *PipelinedProducer) checkReady() error {
	if cause := p.halted.Load(); cause != nil {
		return blockstream.NewProducerHaltedError(cause)
	}
	if !p.initialized {
		return blockstream.NewIllegalStatef("producer is not initialized")
	}
	if p.closing {
		return blockstream.NewIllegalStatef("producer is closing")
	}
	return nil
}

func (p *PipelinedProducer) SwitchBlocks(lastBlockNumber uint64, newBlockNumber uint64, firstTxnTime time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkReady(); err != nil {
		return err
	}
	if err := p.blocks.checkSwitch(lastBlockNumber, newBlockNumber); err != nil {
		return err
	}
	p.enqueueSwitch(newBlockNumber, firstTxnTime)
	return nil
}

func (p *PipelinedProducer) BeginBlock(firstTxnTime time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkReady(); err != nil {
		return err
	}
	if p.blocks.open {
		return blockstream.NewIllegalStatef("block %d is still open", p.blocks.number)
	}
	number := p.blocks.next()
	p.enqueueSwitch(number, firstTxnTime)
	p.enqueue("begin_block", func() ([]stream.SerializedItem, error) {
		return p.serializer.header(number, firstTxnTime)
	})
	return nil
}

func (p *PipelinedProducer) EndBlock() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkReady(); err != nil {
		return err
	}
	if !p.blocks.open {
		return blockstream.NewIllegalStatef("no block is open")
	}

	number := p.blocks.number
	log := logging.Block(p.log, number, "end_block")
	proof := util.Then2(p.exec, p.blockStart, p.hashTail, func(start chainStep, previous chainStep) ([]stream.SerializedItem, error) {
		items, err := p.serializer.proof(number, start.history.Current(), previous.history.Current())
		if err != nil {
			return nil, p.halt(log, fmt.Errorf("could not serialize block proof: %w", err))
		}
		return items, nil
	})
	p.appendItems(log, proof)
	p.enqueueClose()
	return nil
}

// WriteItems returns before the records are serialized. The batch is copied,
// so the caller may reuse the slice; the byte slices the records refer to
// must not be modified.
func (p *PipelinedProducer) WriteItems(records ...stream.TransactionRecord) error {
	records = append([]stream.TransactionRecord(nil), records...)
	return p.locked("write_items", func() ([]stream.SerializedItem, error) {
		return p.serializer.records(records)
	})
}

func (p *PipelinedProducer) WriteUserTransactionItems(records ...stream.TransactionRecord) error {
	return p.WriteItems(records...)
}

func (p *PipelinedProducer) WriteConsensusEvent(event stream.ConsensusEvent) error {
	return p.locked("write_consensus_event", func() ([]stream.SerializedItem, error) {
		return p.serializer.consensusEvent(event)
	})
}

func (p *PipelinedProducer) WriteSystemTransaction(txn stream.SystemTransaction) error {
	return p.locked("write_system_transaction", func() ([]stream.SerializedItem, error) {
		return p.serializer.systemTransaction(txn)
	})
}

func (p *PipelinedProducer) WriteStateChanges(changes stream.StateChanges) error {
	return p.locked("write_state_changes", func() ([]stream.SerializedItem, error) {
		return p.serializer.stateChanges(changes)
	})
}

func (p *PipelinedProducer) WriteFilteredItem(item stream.FilteredItem) error {
	return p.locked("write_filtered_item", func() ([]stream.SerializedItem, error) {
		return p.serializer.filteredItem(item)
	})
}

func (p *PipelinedProducer) locked(op string, serialize func() ([]stream.SerializedItem, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkReady(); err != nil {
		return err
	}
	if !p.blocks.open {
		return blockstream.NewIllegalStatef("cannot %s: no block is open", op)
	}
	p.enqueue(op, serialize)
	return nil
}

// enqueue schedules serialization right away and chains hashing and writing of
// the result onto the tails. Must be called with mu held.
func (p *PipelinedProducer) enqueue(op string, serialize func() ([]stream.SerializedItem, error)) {
	log := logging.Block(p.log, p.blocks.number, op)
	serialized := util.Go(p.exec, func() ([]stream.SerializedItem, error) {
		items, err := serialize()
		if err != nil {
			return nil, p.halt(log, fmt.Errorf("could not serialize items: %w", err))
		}
		return items, nil
	})
	p.appendItems(log, serialized)
}

// appendItems chains the hash step of serialized onto the hash tail and its
// write step onto the writer tail. Must be called with mu held.
func (p *PipelinedProducer) appendItems(log zerolog.Logger, serialized *util.Future[[]stream.SerializedItem]) {
	step := util.Then2(p.exec, p.hashTail, serialized, func(previous chainStep, items []stream.SerializedItem) (chainStep, error) {
		history, hashes, err := p.serializer.chain(p.serializer.format.NewHasher(), previous.history, items)
		if err != nil {
			return chainStep{}, p.halt(log, err)
		}
		return chainStep{history: history, items: items, hashes: hashes}, nil
	})
	p.hashTail = step

	p.writerTail = util.Then2(p.exec, p.writerTail, step, func(w module.StreamWriter, step chainStep) (module.StreamWriter, error) {
		for i, item := range step.items {
			err := w.WriteItem(item, step.hashes[i])
			if err == nil {
				continue
			}
			if p.config.policy == LogAndContinue {
				log.Error().Err(err).Str("kind", item.Kind.String()).Msg("writer failed, item is missing from the block")
				continue
			}
			return nil, p.halt(log, err)
		}
		return w, nil
	})
}

// enqueueSwitch chains closing the open writer, if any, and opening a writer
// for number once the running hash at this point is known. Must be called
// with mu held.
func (p *PipelinedProducer) enqueueSwitch(number uint64, firstTxnTime time.Time) {
	previous := p.blocks.number
	log := logging.Block(p.log, number, "open_block")
	version := p.serializer.format.Version()
	start := p.hashTail

	p.writerTail = util.Then2(p.exec, p.writerTail, start, func(w module.StreamWriter, step chainStep) (module.StreamWriter, error) {
		end := step.history.Current()
		if w != nil {
			if err := p.closeWriter(w, previous, end); err != nil {
				return nil, err
			}
		}

		next, err := p.writers.Create()
		if err != nil {
			return nil, p.halt(log, fmt.Errorf("could not create writer for block %d: %w", number, err))
		}
		if err := next.Init(version, end, firstTxnTime, number); err != nil {
			return nil, p.halt(log, err)
		}
		logging.Hash(log.Debug(), "start_hash", end).Msg("block opened")
		return next, nil
	})
	p.blockStart = start
	p.blocks.begin(number, firstTxnTime)
}

// enqueueClose chains closing the open writer with the running hash at this
// point. Must be called with mu held.
func (p *PipelinedProducer) enqueueClose() {
	number := p.blocks.number
	p.writerTail = util.Then2(p.exec, p.writerTail, p.hashTail, func(w module.StreamWriter, step chainStep) (module.StreamWriter, error) {
		if w == nil {
			return nil, nil
		}
		if err := p.closeWriter(w, number, step.history.Current()); err != nil {
			return nil, err
		}
		return nil, nil
	})
	p.blocks.end()
}

func (p *PipelinedProducer) closeWriter(w module.StreamWriter, number uint64, end stream.HashObject) error {
	log := logging.Block(p.log, number, "close_block")
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

// halt records the first fatal failure and returns it. Pool tasks may halt
// concurrently; all of them, and every later call, report the same cause.
func (p *PipelinedProducer) halt(log zerolog.Logger, err error) error {
	if p.halted.CompareAndSwap(nil, err) {
		log.Error().Err(err).Msg("block stream producer halted")
		return blockstream.NewProducerHaltedError(err)
	}
	log.Error().Err(err).Msg("block stream producer already halted")
	return blockstream.NewProducerHaltedError(p.halted.Load())
}

// tail returns the current hash tail, or an error if the producer is not usable.
func (p *PipelinedProducer) tail() (*util.Future[chainStep], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkReady(); err != nil {
		return nil, err
	}
	return p.hashTail, nil
}

// Flush waits for the writer tail. Once it returns without error every block
// ended so far has been closed by its writer.
func (p *PipelinedProducer) Flush() error {
	p.mu.Lock()
	if err := p.checkReady(); err != nil {
		p.mu.Unlock()
		return err
	}
	writerTail := p.writerTail
	p.mu.Unlock()

	if _, err := writerTail.Wait(); err != nil {
		return err
	}
	if cause := p.halted.Load(); cause != nil {
		return blockstream.NewProducerHaltedError(cause)
	}
	return nil
}

// RunningHash blocks until every enqueued item has been hashed.
func (p *PipelinedProducer) RunningHash() (stream.HashObject, error) {
	tail, err := p.tail()
	if err != nil {
		return stream.HashObject{}, err
	}
	step, err := tail.Wait()
	if err != nil {
		return stream.HashObject{}, err
	}
	return step.history.Current(), nil
}

func (p *PipelinedProducer) NMinus3RunningHash() (stream.HashObject, error) {
	tail, err := p.tail()
	if err != nil {
		return stream.HashObject{}, err
	}
	step, err := tail.Wait()
	if err != nil {
		return stream.HashObject{}, err
	}
	return step.history.NMinus3()
}

func (p *PipelinedProducer) RunningHashes() (stream.RunningHashes, error) {
	tail, err := p.tail()
	if err != nil {
		return stream.RunningHashes{}, err
	}
	step, err := tail.Wait()
	if err != nil {
		return stream.RunningHashes{}, err
	}
	return step.history.RunningHashes(), nil
}

func (p *PipelinedProducer) CurrentBlock() (stream.BlockDescriptor, error) {
	p.mu.Lock()
	if err := p.checkReady(); err != nil {
		p.mu.Unlock()
		return stream.BlockDescriptor{}, err
	}
	blocks := p.blocks
	start := p.blockStart
	p.mu.Unlock()

	var startHash stream.HashObject
	if start != nil {
		step, err := start.Wait()
		if err != nil {
			return stream.BlockDescriptor{}, err
		}
		startHash = step.history.Current()
	}
	return blocks.descriptor(startHash)
}

// Close waits for all enqueued work, closes the open block with the final
// running hash and resets the producer. It may be called from any goroutine.
// Closing a producer that is not initialized does nothing.
func (p *PipelinedProducer) Close() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()

	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return nil
	}
	p.closing = true
	hashTail := p.hashTail
	writerTail := p.writerTail
	number := p.blocks.number
	p.mu.Unlock()

	step, hashErr := hashTail.Wait()
	w, writerErr := writerTail.Wait()

	var result *multierror.Error
	switch {
	case writerErr != nil:
		result = multierror.Append(result, writerErr)
	case hashErr != nil:
		result = multierror.Append(result, hashErr)
	case w != nil:
		if err := w.Close(step.history.Current()); err != nil {
			result = multierror.Append(result, blockstream.NewWriteError(number, "close", err))
		}
	}
	err := result.ErrorOrNil()
	if err != nil {
		p.log.Error().Err(err).Uint64("block_number", number).Msg("could not close block on shutdown")
	}

	p.mu.Lock()
	p.initialized = false
	p.closing = false
	p.hashTail = nil
	p.writerTail = nil
	p.blockStart = nil
	p.blocks = blockNumbers{}
	p.halted.Store(nil)
	p.mu.Unlock()

	p.log.Info().Msg("producer closed")
	return err
}
