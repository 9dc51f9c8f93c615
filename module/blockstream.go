package module

import (
	"time"

	"github.com/onflow/flow-go/crypto/hash"

	"github.com/onflow/flow-blockstream/model/stream"
)

// StreamFormat converts stream inputs into their canonical byte form and folds
// serialized items into a running hash. Implementations are pure and safe for
// concurrent use, except for the Hasher values they hand out.
type StreamFormat interface {
	// Version is the format version written into every block.
	Version() uint32

	// Algorithm is the digest used for the running hash.
	Algorithm() stream.HashAlgorithm

	// NewHasher returns a fresh digest that can be reused across calls to
	// ComputeNewHashWithHasher. A Hasher must not be shared between goroutines.
	NewHasher() hash.Hasher

	SerializeBlockHeader(header stream.BlockHeader) (stream.SerializedItem, error)
	SerializeConsensusEvent(event stream.ConsensusEvent) (stream.SerializedItem, error)
	SerializeSystemTransaction(txn stream.SystemTransaction) (stream.SerializedItem, error)

	// SerializeTransaction returns one or more items for a transaction record,
	// in the order they must be written.
	SerializeTransaction(record stream.TransactionRecord) ([]stream.SerializedItem, error)

	SerializeStateChanges(changes stream.StateChanges) (stream.SerializedItem, error)
	SerializeFilteredItem(item stream.FilteredItem) (stream.SerializedItem, error)
	SerializeBlockProof(proof stream.BlockProof) (stream.SerializedItem, error)

	// ComputeNewHash folds the items into prior, in order. With no items the
	// prior hash is returned unchanged.
	ComputeNewHash(prior stream.HashObject, items ...stream.SerializedItem) (stream.HashObject, error)

	// ComputeNewHashWithHasher is ComputeNewHash using a caller owned digest.
	ComputeNewHashWithHasher(hasher hash.Hasher, prior stream.HashObject, items ...stream.SerializedItem) (stream.HashObject, error)
}

// StreamWriter persists the items of exactly one block. A writer moves through
// Unopened -> Open -> Closed and is never reused.
//
// Writers are called from a single goroutine at a time; they need not be safe
// for concurrent use.
type StreamWriter interface {
	// Init opens the writer for the given block. The start hash is the running
	// hash before the first item of the block.
	// Expected errors:
	//   - ErrIllegalState if the writer is not Unopened
	Init(version uint32, startHash stream.HashObject, startTime time.Time, blockNumber uint64) error

	// WriteItem persists one serialized item. runningHash is the running hash
	// after the item.
	// Expected errors:
	//   - ErrIllegalState if the writer is not Open
	WriteItem(item stream.SerializedItem, runningHash stream.HashObject) error

	// Close finalizes the block with the given end hash. Closing a closed
	// writer is a no-op.
	// Expected errors:
	//   - ErrIllegalState if the writer was never opened
	Close(endHash stream.HashObject) error
}

// WriterFactory creates fresh, unopened writers.
type WriterFactory interface {
	Create() (StreamWriter, error)
}

// StreamProducer accepts the ordered outcome of consensus and turns it into a
// chained block stream handed to writers.
//
// Calls to a producer must be made from a single goroutine, except Close and
// the running hash accessors, which may be called from any goroutine.
//
// Write methods may return before their input has been serialized. Byte
// slices reachable from an input belong to the producer once the call
// returns and must not be modified by the caller.
type StreamProducer interface {
	// InitRunningHash sets the starting running hashes. Must be called exactly
	// once before any other method.
	InitRunningHash(hashes stream.RunningHashes) error

	// InitFromLastBlock is InitRunningHash for a stream that already contains
	// blocks. BeginBlock continues with lastBlockNumber+1.
	InitFromLastBlock(hashes stream.RunningHashes, lastBlockNumber uint64) error

	// SwitchBlocks closes the open block, if any, and opens newBlockNumber,
	// which must be lastBlockNumber+1.
	SwitchBlocks(lastBlockNumber uint64, newBlockNumber uint64, firstTxnTime time.Time) error

	// BeginBlock opens the next block and writes its header.
	BeginBlock(firstTxnTime time.Time) error

	// EndBlock writes the block proof and closes the block. A pipelined
	// producer may return before the writer has closed the block; use Flush
	// to wait for it.
	EndBlock() error

	// Flush blocks until every call enqueued so far, including closing a
	// block, has been applied to the writers. It returns the failure that
	// halted the producer, if any.
	Flush() error

	WriteItems(records ...stream.TransactionRecord) error
	WriteUserTransactionItems(records ...stream.TransactionRecord) error
	WriteConsensusEvent(event stream.ConsensusEvent) error
	WriteSystemTransaction(txn stream.SystemTransaction) error
	WriteStateChanges(changes stream.StateChanges) error
	WriteFilteredItem(item stream.FilteredItem) error

	// RunningHash returns the running hash after the last enqueued item.
	RunningHash() (stream.HashObject, error)

	// NMinus3RunningHash returns the running hash three items before the last
	// enqueued item.
	NMinus3RunningHash() (stream.HashObject, error)

	// RunningHashes returns the full hash history, newest first.
	RunningHashes() (stream.RunningHashes, error)

	// CurrentBlock describes the block currently being written.
	CurrentBlock() (stream.BlockDescriptor, error)

	// Close closes the open block, waits for all outstanding work and resets
	// the producer so it can be initialized again.
	Close() error
}
