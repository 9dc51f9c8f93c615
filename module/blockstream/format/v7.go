package format

import (
	"fmt"
	"time"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module"
	"github.com/onflow/flow-blockstream/module/blockstream"
)

// VersionBlock is the block stream format. Every item is a BlockItem encoded
// with cramberry, and the running hash covers exactly the persisted bytes.
const VersionBlock uint32 = 7

// Timestamp is the wire form of a consensus time.
type Timestamp struct {
	Seconds int64 `cramberry:"1"`
	Nanos   int32 `cramberry:"2"`
}

func toTimestamp(t time.Time) Timestamp {
	return Timestamp{
		Seconds: t.Unix(),
		Nanos:   int32(t.Nanosecond()),
	}
}

func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
}

// WireHash is the wire form of a stream.HashObject.
type WireHash struct {
	Algorithm uint32 `cramberry:"1"`
	Hash      []byte `cramberry:"2"`
}

func toWireHash(h stream.HashObject) WireHash {
	return WireHash{Algorithm: uint32(h.Algorithm), Hash: h.Hash}
}

type BlockHeaderItem struct {
	Number        uint64    `cramberry:"1"`
	FirstItemTime Timestamp `cramberry:"2"`
	Version       uint32    `cramberry:"3"`
	HashAlgorithm uint32    `cramberry:"4"`
}

type EventHeaderItem struct {
	Creator   uint64    `cramberry:"1"`
	Round     uint64    `cramberry:"2"`
	Timestamp Timestamp `cramberry:"3"`
	Payload   []byte    `cramberry:"4"`
}

type SystemTransactionItem struct {
	ConsensusTimestamp Timestamp `cramberry:"1"`
	Body               []byte    `cramberry:"2"`
}

type TransactionItem struct {
	TransactionID     string `cramberry:"1"`
	SignedTransaction []byte `cramberry:"2"`
}

type TransferEntry struct {
	Account string `cramberry:"1"`
	Amount  int64  `cramberry:"2"`
}

type TransactionResultItem struct {
	ConsensusTimestamp Timestamp       `cramberry:"1"`
	Status             uint32          `cramberry:"2"`
	Memo               string          `cramberry:"3"`
	Fee                uint64          `cramberry:"4"`
	Transfers          []TransferEntry `cramberry:"5"`
}

type SidecarEntry struct {
	Kind               uint32    `cramberry:"1"`
	ConsensusTimestamp Timestamp `cramberry:"2"`
	Payload            []byte    `cramberry:"3"`
}

type TransactionOutputItem struct {
	Payload  []byte         `cramberry:"1"`
	Sidecars []SidecarEntry `cramberry:"2"`
}

type StateChangeEntry struct {
	Key     []byte `cramberry:"1"`
	Value   []byte `cramberry:"2"`
	Removed bool   `cramberry:"3"`
}

type StateChangesItem struct {
	ConsensusTimestamp Timestamp          `cramberry:"1"`
	Changes            []StateChangeEntry `cramberry:"2"`
}

type FilteredItemEntry struct {
	Kind     uint32 `cramberry:"1"`
	ItemHash []byte `cramberry:"2"`
}

type BlockProofItem struct {
	Number              uint64   `cramberry:"1"`
	StartRunningHash    WireHash `cramberry:"2"`
	PreviousRunningHash WireHash `cramberry:"3"`
}

// BlockItem is a tagged union; exactly one field is set.
type BlockItem struct {
	BlockHeader       *BlockHeaderItem       `cramberry:"1"`
	EventHeader       *EventHeaderItem       `cramberry:"2"`
	SystemTransaction *SystemTransactionItem `cramberry:"3"`
	Transaction       *TransactionItem       `cramberry:"4"`
	TransactionResult *TransactionResultItem `cramberry:"5"`
	TransactionOutput *TransactionOutputItem `cramberry:"6"`
	StateChanges      *StateChangesItem      `cramberry:"7"`
	FilteredItem      *FilteredItemEntry     `cramberry:"8"`
	BlockProof        *BlockProofItem        `cramberry:"9"`
}

// Kind returns the kind of the set union member.
func (b *BlockItem) Kind() stream.ItemKind {
	switch {
	case b.BlockHeader != nil:
		return stream.KindBlockHeader
	case b.EventHeader != nil:
		return stream.KindConsensusEvent
	case b.SystemTransaction != nil:
		return stream.KindSystemTransaction
	case b.Transaction != nil:
		return stream.KindTransaction
	case b.TransactionResult != nil:
		return stream.KindTransactionResult
	case b.TransactionOutput != nil:
		return stream.KindTransactionOutput
	case b.StateChanges != nil:
		return stream.KindStateChanges
	case b.FilteredItem != nil:
		return stream.KindFilteredItem
	case b.BlockProof != nil:
		return stream.KindBlockProof
	default:
		return stream.KindUnknown
	}
}

// DecodeBlockItem parses the persisted bytes of a block format item.
func DecodeBlockItem(data []byte) (*BlockItem, error) {
	item := new(BlockItem)
	if err := cramberry.Unmarshal(data, item); err != nil {
		return nil, fmt.Errorf("could not decode block item: %w", err)
	}
	if item.Kind() == stream.KindUnknown {
		return nil, fmt.Errorf("decoded block item has no member set")
	}
	return item, nil
}

// BlockFormat is the current stream format.
type BlockFormat struct {
	chainHasher
}

var _ module.StreamFormat = (*BlockFormat)(nil)

func NewBlockFormat() *BlockFormat {
	return &BlockFormat{}
}

func (f *BlockFormat) Version() uint32 {
	return VersionBlock
}

func (f *BlockFormat) encode(kind stream.ItemKind, item *BlockItem) (stream.SerializedItem, error) {
	data, err := cramberry.Marshal(item)
	if err != nil {
		return stream.SerializedItem{}, fmt.Errorf("could not encode %s item: %v: %w", kind, err, blockstream.ErrSerialization)
	}
	return stream.SerializedItem{
		Kind:  kind,
		Bytes: data,
	}, nil
}

func (f *BlockFormat) SerializeBlockHeader(header stream.BlockHeader) (stream.SerializedItem, error) {
	return f.encode(stream.KindBlockHeader, &BlockItem{
		BlockHeader: &BlockHeaderItem{
			Number:        header.Number,
			FirstItemTime: toTimestamp(header.FirstItemTime),
			Version:       header.Version,
			HashAlgorithm: uint32(header.HashAlgorithm),
		},
	})
}

func (f *BlockFormat) SerializeConsensusEvent(event stream.ConsensusEvent) (stream.SerializedItem, error) {
	return f.encode(stream.KindConsensusEvent, &BlockItem{
		EventHeader: &EventHeaderItem{
			Creator:   event.Creator,
			Round:     event.Round,
			Timestamp: toTimestamp(event.Timestamp),
			Payload:   event.Payload,
		},
	})
}

func (f *BlockFormat) SerializeSystemTransaction(txn stream.SystemTransaction) (stream.SerializedItem, error) {
	return f.encode(stream.KindSystemTransaction, &BlockItem{
		SystemTransaction: &SystemTransactionItem{
			ConsensusTimestamp: toTimestamp(txn.ConsensusTimestamp),
			Body:               txn.Body,
		},
	})
}

// SerializeTransaction splits a record into its transaction, result and output
// items. Sidecars are carried inside the output item.
func (f *BlockFormat) SerializeTransaction(record stream.TransactionRecord) ([]stream.SerializedItem, error) {
	transfers := make([]TransferEntry, 0, len(record.Result.Transfers))
	for _, t := range record.Result.Transfers {
		transfers = append(transfers, TransferEntry{Account: t.Account, Amount: t.Amount})
	}
	sidecars := make([]SidecarEntry, 0, len(record.Sidecars))
	for _, s := range record.Sidecars {
		sidecars = append(sidecars, SidecarEntry{
			Kind:               uint32(s.Kind),
			ConsensusTimestamp: toTimestamp(s.ConsensusTimestamp),
			Payload:            s.Payload,
		})
	}

	items := []struct {
		kind stream.ItemKind
		item *BlockItem
	}{
		{stream.KindTransaction, &BlockItem{Transaction: &TransactionItem{
			TransactionID:     record.TransactionID,
			SignedTransaction: record.Transaction,
		}}},
		{stream.KindTransactionResult, &BlockItem{TransactionResult: &TransactionResultItem{
			ConsensusTimestamp: toTimestamp(record.ConsensusTimestamp),
			Status:             record.Result.Status,
			Memo:               record.Result.Memo,
			Fee:                record.Result.Fee,
			Transfers:          transfers,
		}}},
		{stream.KindTransactionOutput, &BlockItem{TransactionOutput: &TransactionOutputItem{
			Payload:  record.Output,
			Sidecars: sidecars,
		}}},
	}

	serialized := make([]stream.SerializedItem, 0, len(items))
	for _, it := range items {
		s, err := f.encode(it.kind, it.item)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", record.TransactionID, err)
		}
		serialized = append(serialized, s)
	}
	return serialized, nil
}

func (f *BlockFormat) SerializeStateChanges(changes stream.StateChanges) (stream.SerializedItem, error) {
	entries := make([]StateChangeEntry, 0, len(changes.Changes))
	for _, c := range changes.Changes {
		entries = append(entries, StateChangeEntry{Key: c.Key, Value: c.Value, Removed: c.Removed})
	}
	return f.encode(stream.KindStateChanges, &BlockItem{
		StateChanges: &StateChangesItem{
			ConsensusTimestamp: toTimestamp(changes.ConsensusTimestamp),
			Changes:            entries,
		},
	})
}

func (f *BlockFormat) SerializeFilteredItem(item stream.FilteredItem) (stream.SerializedItem, error) {
	return f.encode(stream.KindFilteredItem, &BlockItem{
		FilteredItem: &FilteredItemEntry{
			Kind:     uint32(item.Kind),
			ItemHash: item.ItemHash,
		},
	})
}

func (f *BlockFormat) SerializeBlockProof(proof stream.BlockProof) (stream.SerializedItem, error) {
	return f.encode(stream.KindBlockProof, &BlockItem{
		BlockProof: &BlockProofItem{
			Number:              proof.Number,
			StartRunningHash:    toWireHash(proof.StartRunningHash),
			PreviousRunningHash: toWireHash(proof.PreviousRunningHash),
		},
	})
}
