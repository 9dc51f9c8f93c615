package unittest

import (
	crand "crypto/rand"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onflow/flow-blockstream/model/stream"
)

func RandomBytes(n int) []byte {
	b := make([]byte, n)
	_, err := crand.Read(b)
	if err != nil {
		panic(err)
	}
	return b
}

// HashFixture returns a random SHA2-384 sized running hash.
func HashFixture() stream.HashObject {
	return stream.NewHashObject(stream.SHA2_384, RandomBytes(stream.SHA384Size))
}

// GenesisHash is the all zero running hash a fresh stream starts from.
func GenesisHash() stream.HashObject {
	return stream.ZeroHash(stream.SHA2_384, 32)
}

// RunningHashesFixture returns n random running hashes, newest first.
func RunningHashesFixture(n int) stream.RunningHashes {
	hashes := make([]stream.HashObject, 0, n)
	for i := 0; i < n; i++ {
		hashes = append(hashes, HashFixture())
	}
	return stream.NewRunningHashes(hashes...)
}

// ConsensusTimeFixture returns a fixed consensus time shifted by the given
// number of nanoseconds.
func ConsensusTimeFixture(offset int) time.Time {
	return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Add(time.Duration(offset))
}

type RecordOption func(*stream.TransactionRecord)

// WithSidecars attaches n state change sidecars to the record.
func WithSidecars(n int) RecordOption {
	return func(r *stream.TransactionRecord) {
		for i := 0; i < n; i++ {
			r.Sidecars = append(r.Sidecars, stream.TransactionSidecar{
				Kind:               stream.SidecarStateChanges,
				ConsensusTimestamp: r.ConsensusTimestamp,
				Payload:            RandomBytes(16),
			})
		}
	}
}

// WithConsensusTime sets the consensus timestamp of the record.
func WithConsensusTime(ts time.Time) RecordOption {
	return func(r *stream.TransactionRecord) {
		r.ConsensusTimestamp = ts
	}
}

// TransactionRecordFixture returns a transaction record with random content.
func TransactionRecordFixture(opts ...RecordOption) stream.TransactionRecord {
	id := RandomBytes(8)
	record := stream.TransactionRecord{
		TransactionID:      fmt.Sprintf("0.0.%x", id),
		ConsensusTimestamp: ConsensusTimeFixture(rand.Intn(1_000_000)),
		Transaction:        RandomBytes(64),
		Result: stream.TransactionResult{
			Status: 22,
			Memo:   "fixture",
			Fee:    uint64(rand.Intn(10_000)),
			Transfers: []stream.Transfer{
				{Account: "0.0.2", Amount: -100},
				{Account: "0.0.98", Amount: 100},
			},
		},
		Output: RandomBytes(8),
	}
	for _, opt := range opts {
		opt(&record)
	}
	return record
}

// TransactionRecordListFixture returns n records with increasing consensus times.
func TransactionRecordListFixture(n int, opts ...RecordOption) []stream.TransactionRecord {
	records := make([]stream.TransactionRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, TransactionRecordFixture(append([]RecordOption{WithConsensusTime(ConsensusTimeFixture(i))}, opts...)...))
	}
	return records
}

func ConsensusEventFixture() stream.ConsensusEvent {
	return stream.ConsensusEvent{
		Creator:   uint64(rand.Intn(10)),
		Round:     uint64(rand.Intn(1000)),
		Timestamp: ConsensusTimeFixture(rand.Intn(1000)),
		Payload:   RandomBytes(32),
	}
}

func SystemTransactionFixture() stream.SystemTransaction {
	return stream.SystemTransaction{
		ConsensusTimestamp: ConsensusTimeFixture(rand.Intn(1000)),
		Body:               RandomBytes(32),
	}
}

func StateChangesFixture(n int) stream.StateChanges {
	changes := stream.StateChanges{ConsensusTimestamp: ConsensusTimeFixture(rand.Intn(1000))}
	for i := 0; i < n; i++ {
		changes.Changes = append(changes.Changes, stream.StateChange{
			Key:     RandomBytes(8),
			Value:   RandomBytes(16),
			Removed: i%3 == 2,
		})
	}
	return changes
}

// SerializedItemFixture returns an item whose bytes are the given payload.
func SerializedItemFixture(payload ...byte) stream.SerializedItem {
	return stream.SerializedItem{
		Kind:  stream.KindRecord,
		Bytes: payload,
	}
}

// RequireHashEqual fails the test if the two hashes differ.
func RequireHashEqual(t testing.TB, expected stream.HashObject, actual stream.HashObject) {
	require.Truef(t, expected.Equal(actual), "expected hash %s, got %s", expected, actual)
}
