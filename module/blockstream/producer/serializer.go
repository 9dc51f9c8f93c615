package producer

import (
	"fmt"
	"time"

	"github.com/onflow/flow-go/crypto/hash"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module"
	"github.com/onflow/flow-blockstream/module/blockstream"
)

// serializer adapts a StreamFormat to the producer inputs and records
// serialization and hashing metrics. It holds no state and is shared by both
// producers.
type serializer struct {
	format  module.StreamFormat
	metrics module.BlockStreamMetrics
}

func (s serializer) records(records []stream.TransactionRecord) ([]stream.SerializedItem, error) {
	start := time.Now()
	items := make([]stream.SerializedItem, 0, len(records))
	for _, record := range records {
		serialized, err := s.format.SerializeTransaction(record)
		if err != nil {
			return nil, err
		}
		items = append(items, serialized...)
	}
	s.metrics.ItemSerialized(stream.KindTransaction.String(), time.Since(start))
	return items, nil
}

func (s serializer) consensusEvent(event stream.ConsensusEvent) ([]stream.SerializedItem, error) {
	return s.one(stream.KindConsensusEvent, func() (stream.SerializedItem, error) {
		return s.format.SerializeConsensusEvent(event)
	})
}

func (s serializer) systemTransaction(txn stream.SystemTransaction) ([]stream.SerializedItem, error) {
	return s.one(stream.KindSystemTransaction, func() (stream.SerializedItem, error) {
		return s.format.SerializeSystemTransaction(txn)
	})
}

func (s serializer) stateChanges(changes stream.StateChanges) ([]stream.SerializedItem, error) {
	return s.one(stream.KindStateChanges, func() (stream.SerializedItem, error) {
		return s.format.SerializeStateChanges(changes)
	})
}

func (s serializer) filteredItem(item stream.FilteredItem) ([]stream.SerializedItem, error) {
	return s.one(stream.KindFilteredItem, func() (stream.SerializedItem, error) {
		return s.format.SerializeFilteredItem(item)
	})
}

func (s serializer) header(blockNumber uint64, firstItemTime time.Time) ([]stream.SerializedItem, error) {
	return s.one(stream.KindBlockHeader, func() (stream.SerializedItem, error) {
		return s.format.SerializeBlockHeader(stream.BlockHeader{
			Number:        blockNumber,
			FirstItemTime: firstItemTime,
			Version:       s.format.Version(),
			HashAlgorithm: s.format.Algorithm(),
		})
	})
}

func (s serializer) proof(blockNumber uint64, start stream.HashObject, previous stream.HashObject) ([]stream.SerializedItem, error) {
	return s.one(stream.KindBlockProof, func() (stream.SerializedItem, error) {
		return s.format.SerializeBlockProof(stream.BlockProof{
			Number:              blockNumber,
			StartRunningHash:    start,
			PreviousRunningHash: previous,
		})
	})
}

func (s serializer) one(kind stream.ItemKind, fn func() (stream.SerializedItem, error)) ([]stream.SerializedItem, error) {
	start := time.Now()
	item, err := fn()
	if err != nil {
		return nil, err
	}
	s.metrics.ItemSerialized(kind.String(), time.Since(start))
	return []stream.SerializedItem{item}, nil
}

// chain pushes the running hash of every item onto history. It returns the
// new history together with the running hash after each item.
func (s serializer) chain(hasher hash.Hasher, history stream.HashHistory, items []stream.SerializedItem) (stream.HashHistory, []stream.HashObject, error) {
	start := time.Now()
	hashes := make([]stream.HashObject, 0, len(items))
	for i, item := range items {
		next, err := s.format.ComputeNewHashWithHasher(hasher, history.Current(), item)
		if err != nil {
			return history, nil, fmt.Errorf("could not compute running hash of %s item %d: %w", item.Kind, i, err)
		}
		history = history.Push(next)
		hashes = append(hashes, next)
	}
	if len(items) > 0 {
		s.metrics.RunningHashUpdated(len(items), time.Since(start))
	}
	return history, hashes, nil
}

// initialHistory validates recovered running hashes.
func initialHistory(hashes stream.RunningHashes, depth int) (stream.HashHistory, error) {
	history, err := hashes.History(depth)
	if err != nil {
		return stream.HashHistory{}, blockstream.NewIllegalStatef("invalid initial running hashes: %v", err)
	}
	return history, nil
}
