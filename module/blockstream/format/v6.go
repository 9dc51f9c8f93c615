package format

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v4"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module"
	"github.com/onflow/flow-blockstream/module/blockstream"
)

// VersionRecord is the record stream format that precedes the block format.
// Items are persisted as canonical CBOR, while the running hash covers a
// separate msgpack encoding of transaction records that leaves sidecars out.
const VersionRecord uint32 = 6

// EncMode is the canonical CBOR encoding used for persisted record items and
// for block file framing.
var EncMode = func() cbor.EncMode {
	encMode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Errorf("could not create canonical cbor encoding mode: %w", err))
	}
	return encMode
}()

// RecordEnvelope is the persisted form of a record item. Body holds the CBOR
// encoding of the kind specific payload.
type RecordEnvelope struct {
	Kind uint8           `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint"`
}

type recordTime struct {
	Seconds int64 `cbor:"1,keyasint" msgpack:"seconds"`
	Nanos   int32 `cbor:"2,keyasint" msgpack:"nanos"`
}

func toRecordTime(t time.Time) recordTime {
	return recordTime{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

type recordHeader struct {
	Number        uint64     `cbor:"1,keyasint"`
	FirstItemTime recordTime `cbor:"2,keyasint"`
	Version       uint32     `cbor:"3,keyasint"`
	HashAlgorithm uint8      `cbor:"4,keyasint"`
}

type recordEvent struct {
	Creator   uint64     `cbor:"1,keyasint"`
	Round     uint64     `cbor:"2,keyasint"`
	Timestamp recordTime `cbor:"3,keyasint"`
	Payload   []byte     `cbor:"4,keyasint"`
}

type recordSystemTransaction struct {
	ConsensusTimestamp recordTime `cbor:"1,keyasint"`
	Body               []byte     `cbor:"2,keyasint"`
}

type recordTransfer struct {
	Account string `cbor:"1,keyasint" msgpack:"account"`
	Amount  int64  `cbor:"2,keyasint" msgpack:"amount"`
}

type recordTransaction struct {
	TransactionID      string           `cbor:"1,keyasint"`
	ConsensusTimestamp recordTime       `cbor:"2,keyasint"`
	Transaction        []byte           `cbor:"3,keyasint"`
	Status             uint32           `cbor:"4,keyasint"`
	Memo               string           `cbor:"5,keyasint"`
	Fee                uint64           `cbor:"6,keyasint"`
	Transfers          []recordTransfer `cbor:"7,keyasint"`
	Output             []byte           `cbor:"8,keyasint"`
	SidecarCount       uint32           `cbor:"9,keyasint"`
}

// legacyRecord is the msgpack form hashed into the running hash for
// transaction records.
type legacyRecord struct {
	TransactionID      string           `msgpack:"id"`
	ConsensusTimestamp recordTime       `msgpack:"ts"`
	Transaction        []byte           `msgpack:"txn"`
	Status             uint32           `msgpack:"status"`
	Memo               string           `msgpack:"memo"`
	Fee                uint64           `msgpack:"fee"`
	Transfers          []recordTransfer `msgpack:"transfers"`
	Output             []byte           `msgpack:"output"`
}

type recordSidecar struct {
	Kind               uint8      `cbor:"1,keyasint"`
	ConsensusTimestamp recordTime `cbor:"2,keyasint"`
	Payload            []byte     `cbor:"3,keyasint"`
}

type recordStateChange struct {
	Key     []byte `cbor:"1,keyasint"`
	Value   []byte `cbor:"2,keyasint"`
	Removed bool   `cbor:"3,keyasint"`
}

type recordStateChanges struct {
	ConsensusTimestamp recordTime          `cbor:"1,keyasint"`
	Changes            []recordStateChange `cbor:"2,keyasint"`
}

type recordFiltered struct {
	Kind     uint8  `cbor:"1,keyasint"`
	ItemHash []byte `cbor:"2,keyasint"`
}

type recordHash struct {
	Algorithm uint8  `cbor:"1,keyasint"`
	Hash      []byte `cbor:"2,keyasint"`
}

type recordProof struct {
	Number              uint64     `cbor:"1,keyasint"`
	StartRunningHash    recordHash `cbor:"2,keyasint"`
	PreviousRunningHash recordHash `cbor:"3,keyasint"`
}

// RecordFormat is the prior stream format.
type RecordFormat struct {
	chainHasher
}

var _ module.StreamFormat = (*RecordFormat)(nil)

func NewRecordFormat() *RecordFormat {
	return &RecordFormat{}
}

func (f *RecordFormat) Version() uint32 {
	return VersionRecord
}

func (f *RecordFormat) encode(kind stream.ItemKind, body interface{}) (stream.SerializedItem, error) {
	data, err := encodeEnvelope(kind, body)
	if err != nil {
		return stream.SerializedItem{}, err
	}
	return stream.SerializedItem{
		Kind:  kind,
		Bytes: data,
	}, nil
}

func encodeEnvelope(kind stream.ItemKind, body interface{}) ([]byte, error) {
	raw, err := EncMode.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("could not encode %s body: %v: %w", kind, err, blockstream.ErrSerialization)
	}
	data, err := EncMode.Marshal(RecordEnvelope{Kind: uint8(kind), Body: raw})
	if err != nil {
		return nil, fmt.Errorf("could not encode %s envelope: %v: %w", kind, err, blockstream.ErrSerialization)
	}
	return data, nil
}

func (f *RecordFormat) SerializeBlockHeader(header stream.BlockHeader) (stream.SerializedItem, error) {
	return f.encode(stream.KindBlockHeader, recordHeader{
		Number:        header.Number,
		FirstItemTime: toRecordTime(header.FirstItemTime),
		Version:       header.Version,
		HashAlgorithm: uint8(header.HashAlgorithm),
	})
}

func (f *RecordFormat) SerializeConsensusEvent(event stream.ConsensusEvent) (stream.SerializedItem, error) {
	return f.encode(stream.KindConsensusEvent, recordEvent{
		Creator:   event.Creator,
		Round:     event.Round,
		Timestamp: toRecordTime(event.Timestamp),
		Payload:   event.Payload,
	})
}

func (f *RecordFormat) SerializeSystemTransaction(txn stream.SystemTransaction) (stream.SerializedItem, error) {
	return f.encode(stream.KindSystemTransaction, recordSystemTransaction{
		ConsensusTimestamp: toRecordTime(txn.ConsensusTimestamp),
		Body:               txn.Body,
	})
}

// SerializeTransaction produces a single record item. Its sidecars are
// serialized separately and are not part of the running hash.
func (f *RecordFormat) SerializeTransaction(record stream.TransactionRecord) ([]stream.SerializedItem, error) {
	transfers := make([]recordTransfer, 0, len(record.Result.Transfers))
	for _, t := range record.Result.Transfers {
		transfers = append(transfers, recordTransfer{Account: t.Account, Amount: t.Amount})
	}
	ts := toRecordTime(record.ConsensusTimestamp)

	item, err := f.encode(stream.KindRecord, recordTransaction{
		TransactionID:      record.TransactionID,
		ConsensusTimestamp: ts,
		Transaction:        record.Transaction,
		Status:             record.Result.Status,
		Memo:               record.Result.Memo,
		Fee:                record.Result.Fee,
		Transfers:          transfers,
		Output:             record.Output,
		SidecarCount:       uint32(len(record.Sidecars)),
	})
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", record.TransactionID, err)
	}

	item.HashingBytes, err = msgpack.Marshal(legacyRecord{
		TransactionID:      record.TransactionID,
		ConsensusTimestamp: ts,
		Transaction:        record.Transaction,
		Status:             record.Result.Status,
		Memo:               record.Result.Memo,
		Fee:                record.Result.Fee,
		Transfers:          transfers,
		Output:             record.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("could not encode hashing form of transaction %s: %v: %w", record.TransactionID, err, blockstream.ErrSerialization)
	}

	for _, sidecar := range record.Sidecars {
		data, err := EncMode.Marshal(recordSidecar{
			Kind:               uint8(sidecar.Kind),
			ConsensusTimestamp: toRecordTime(sidecar.ConsensusTimestamp),
			Payload:            sidecar.Payload,
		})
		if err != nil {
			return nil, fmt.Errorf("could not encode %s sidecar of transaction %s: %v: %w", sidecar.Kind, record.TransactionID, err, blockstream.ErrSerialization)
		}
		item.Sidecars = append(item.Sidecars, stream.SerializedSidecar{Record: sidecar, Bytes: data})
	}

	return []stream.SerializedItem{item}, nil
}

func (f *RecordFormat) SerializeStateChanges(changes stream.StateChanges) (stream.SerializedItem, error) {
	entries := make([]recordStateChange, 0, len(changes.Changes))
	for _, c := range changes.Changes {
		entries = append(entries, recordStateChange{Key: c.Key, Value: c.Value, Removed: c.Removed})
	}
	return f.encode(stream.KindStateChanges, recordStateChanges{
		ConsensusTimestamp: toRecordTime(changes.ConsensusTimestamp),
		Changes:            entries,
	})
}

func (f *RecordFormat) SerializeFilteredItem(item stream.FilteredItem) (stream.SerializedItem, error) {
	return f.encode(stream.KindFilteredItem, recordFiltered{
		Kind:     uint8(item.Kind),
		ItemHash: item.ItemHash,
	})
}

func (f *RecordFormat) SerializeBlockProof(proof stream.BlockProof) (stream.SerializedItem, error) {
	return f.encode(stream.KindBlockProof, recordProof{
		Number: proof.Number,
		StartRunningHash: recordHash{
			Algorithm: uint8(proof.StartRunningHash.Algorithm),
			Hash:      proof.StartRunningHash.Hash,
		},
		PreviousRunningHash: recordHash{
			Algorithm: uint8(proof.PreviousRunningHash.Algorithm),
			Hash:      proof.PreviousRunningHash.Hash,
		},
	})
}

// DecodeRecordEnvelope parses the persisted bytes of a record format item and
// returns its kind and the raw CBOR body.
func DecodeRecordEnvelope(data []byte) (stream.ItemKind, cbor.RawMessage, error) {
	var env RecordEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return stream.KindUnknown, nil, fmt.Errorf("could not decode record envelope: %w", err)
	}
	return stream.ItemKind(env.Kind), env.Body, nil
}
