package stream

import (
	"fmt"
	"time"
)

// ItemKind tags a serialized stream item.
type ItemKind uint8

const (
	KindUnknown ItemKind = iota
	KindBlockHeader
	KindConsensusEvent
	KindSystemTransaction
	KindTransaction
	KindTransactionResult
	KindTransactionOutput
	KindStateChanges
	KindFilteredItem
	KindBlockProof
	// KindRecord is a whole transaction record, as written by record formats
	// that do not split a transaction into separate items.
	KindRecord
)

func (k ItemKind) String() string {
	switch k {
	case KindBlockHeader:
		return "block_header"
	case KindConsensusEvent:
		return "consensus_event"
	case KindSystemTransaction:
		return "system_transaction"
	case KindTransaction:
		return "transaction"
	case KindTransactionResult:
		return "transaction_result"
	case KindTransactionOutput:
		return "transaction_output"
	case KindStateChanges:
		return "state_changes"
	case KindFilteredItem:
		return "filtered_item"
	case KindBlockProof:
		return "block_proof"
	case KindRecord:
		return "record"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// SidecarKind identifies the type of data carried in a transaction sidecar.
type SidecarKind uint8

const (
	SidecarStateChanges SidecarKind = iota + 1
	SidecarActions
	SidecarBytecode
)

func (k SidecarKind) String() string {
	switch k {
	case SidecarStateChanges:
		return "state_changes"
	case SidecarActions:
		return "actions"
	case SidecarBytecode:
		return "bytecode"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// TransactionSidecar is auxiliary data attached to a transaction. It is stored
// next to the stream but does not take part in the running hash.
type TransactionSidecar struct {
	Kind               SidecarKind
	ConsensusTimestamp time.Time
	Payload            []byte
}

// Transfer is a single balance change caused by a transaction.
type Transfer struct {
	Account string
	Amount  int64
}

// TransactionResult is the outcome of executing a transaction.
type TransactionResult struct {
	Status    uint32
	Memo      string
	Fee       uint64
	Transfers []Transfer
}

// TransactionRecord is one finalized transaction outcome handed to a producer,
// together with its sidecars. Producers never modify it.
type TransactionRecord struct {
	TransactionID      string
	ConsensusTimestamp time.Time
	// Transaction holds the signed transaction bytes as submitted.
	Transaction []byte
	Result      TransactionResult
	// Output is opaque, type specific transaction output. Nil when the
	// transaction produced none.
	Output   []byte
	Sidecars []TransactionSidecar
}

// ConsensusEvent marks the start of the items that came out of one consensus
// event.
type ConsensusEvent struct {
	Creator   uint64
	Round     uint64
	Timestamp time.Time
	Payload   []byte
}

// SystemTransaction is a transaction synthesized by the node rather than
// submitted by a user.
type SystemTransaction struct {
	ConsensusTimestamp time.Time
	Body               []byte
}

// StateChange is a single key update. Removed entries carry no value.
type StateChange struct {
	Key     []byte
	Value   []byte
	Removed bool
}

// StateChanges is a batch of state updates applied at one consensus time.
type StateChanges struct {
	ConsensusTimestamp time.Time
	Changes            []StateChange
}

// FilteredItem stands in for an item that was removed from the stream. Only
// the hash of the original serialized item remains.
type FilteredItem struct {
	Kind     ItemKind
	ItemHash []byte
}

// BlockHeader is the first item of every block.
type BlockHeader struct {
	Number        uint64
	FirstItemTime time.Time
	Version       uint32
	HashAlgorithm HashAlgorithm
}

// BlockProof is the last item of every block. It links the block back to the
// running hash the block started from.
type BlockProof struct {
	Number              uint64
	StartRunningHash    HashObject
	PreviousRunningHash HashObject
}

// SerializedSidecar is a sidecar in its persisted form, with the original value
// kept for writers that route sidecars by kind.
type SerializedSidecar struct {
	Record TransactionSidecar
	Bytes  []byte
}

// SerializedItem is the canonical byte form of one stream item.
type SerializedItem struct {
	Kind ItemKind
	// Bytes is what gets persisted.
	Bytes []byte
	// HashingBytes is fed into the running hash instead of Bytes when set.
	HashingBytes []byte
	Sidecars     []SerializedSidecar
}

// BytesForHashing returns the bytes that take part in the running hash.
func (s SerializedItem) BytesForHashing() []byte {
	if len(s.HashingBytes) > 0 {
		return s.HashingBytes
	}
	return s.Bytes
}

// BlockDescriptor describes the block a producer currently writes to.
type BlockDescriptor struct {
	Number           uint64
	StartRunningHash HashObject
	FirstItemTime    time.Time
	Open             bool
}
