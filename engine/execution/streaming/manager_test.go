package streaming

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/gammazero/workerpool"
	"github.com/stretchr/testify/assert"
	testifymock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module"
	"github.com/onflow/flow-blockstream/module/blockstream"
	"github.com/onflow/flow-blockstream/module/blockstream/format"
	"github.com/onflow/flow-blockstream/module/blockstream/producer"
	"github.com/onflow/flow-blockstream/module/blockstream/writer"
	"github.com/onflow/flow-blockstream/module/irrecoverable"
	"github.com/onflow/flow-blockstream/module/metrics"
	"github.com/onflow/flow-blockstream/storage"
	bstorage "github.com/onflow/flow-blockstream/storage/badger"
	storagemock "github.com/onflow/flow-blockstream/storage/mock"
	"github.com/onflow/flow-blockstream/utils/unittest"
)

func genesis() stream.RunningHashes {
	return stream.NewRunningHashes(unittest.GenesisHash())
}

func roundFixture(offset int) Round {
	return Round{
		FirstTxnTime: unittest.ConsensusTimeFixture(offset),
		Inputs: []Input{
			EventInput(unittest.ConsensusEventFixture()),
			TransactionsInput(unittest.TransactionRecordListFixture(2)...),
			StateChangesInput(unittest.StateChangesFixture(3)),
			SystemTransactionInput(unittest.SystemTransactionFixture()),
		},
	}
}

func newManager(t *testing.T, checkpoints storage.Checkpoints) (*Manager, *writer.MemoryWriterFactory) {
	f, err := format.ByVersion(format.CurrentVersion)
	require.NoError(t, err)
	writers := writer.NewMemoryWriterFactory(metrics.NewNoopCollector())
	p := producer.NewSyncProducer(unittest.Logger(), metrics.NewNoopCollector(), f, writers)
	return NewManager(unittest.Logger(), p, checkpoints, genesis()), writers
}

func newPipelinedManager(t *testing.T, checkpoints storage.Checkpoints, writers module.WriterFactory) *Manager {
	f, err := format.ByVersion(format.CurrentVersion)
	require.NoError(t, err)
	pool := workerpool.New(4)
	t.Cleanup(pool.StopWait)
	p := producer.NewPipelinedProducer(unittest.Logger(), metrics.NewNoopCollector(), f, writers, pool)
	return NewManager(unittest.Logger(), p, checkpoints, genesis())
}

// slowFailingWriter accepts a block but fails to close it, late enough for
// the caller to run ahead of the writer.
type slowFailingWriter struct {
	*writer.MemoryWriter
}

func (w *slowFailingWriter) Close(stream.HashObject) error {
	time.Sleep(50 * time.Millisecond)
	return errors.New("disk gone")
}

type slowFailingWriters struct{}

func (slowFailingWriters) Create() (module.StreamWriter, error) {
	return &slowFailingWriter{MemoryWriter: writer.NewMemoryWriter(metrics.NewNoopCollector())}, nil
}

func TestManager_StartsFromGenesis(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		checkpoints := bstorage.NewCheckpoints(db)
		m, writers := newManager(t, checkpoints)
		require.NoError(t, m.Start())

		for i := 0; i < 2; i++ {
			number, err := m.ProcessRound(roundFixture(i))
			require.NoError(t, err)
			assert.Equal(t, uint64(i), number)
		}
		require.NoError(t, m.Close())

		blocks := writers.Writers()
		require.Len(t, blocks, 2)
		unittest.RequireHashEqual(t, unittest.GenesisHash(), blocks[0].StartHash())
		unittest.RequireHashEqual(t, blocks[0].EndHash(), blocks[1].StartHash())
		// header, event, 3 items per transaction, state changes, system transaction, proof
		assert.Len(t, blocks[0].Items(), 1+1+2*3+1+1+1)

		latest, err := checkpoints.Latest()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), latest.BlockNumber)
		unittest.RequireHashEqual(t, blocks[1].EndHash(), latest.RunningHashes.Current())
	})
}

func TestManager_ResumesFromCheckpoint(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		checkpoints := bstorage.NewCheckpoints(db)

		first, firstWriters := newManager(t, checkpoints)
		require.NoError(t, first.Start())
		for i := 0; i < 3; i++ {
			_, err := first.ProcessRound(roundFixture(i))
			require.NoError(t, err)
		}
		require.NoError(t, first.Close())

		restarted, writers := newManager(t, checkpoints)
		require.NoError(t, restarted.Start())
		number, err := restarted.ProcessRound(roundFixture(3))
		require.NoError(t, err)
		assert.Equal(t, uint64(3), number)
		require.NoError(t, restarted.Close())

		previous := firstWriters.Writers()
		resumed := writers.Writers()
		require.Len(t, resumed, 1)
		assert.Equal(t, uint64(3), resumed[0].BlockNumber())
		unittest.RequireHashEqual(t, previous[len(previous)-1].EndHash(), resumed[0].StartHash())
	})
}

func TestManager_CheckpointFailure(t *testing.T) {
	checkpoints := storagemock.NewCheckpoints(t)
	checkpoints.On("Latest").Return(nil, storage.ErrNotFound).Once()
	checkpoints.On("Store", testifymock.Anything).Return(errors.New("disk i/o")).Once()

	m, _ := newManager(t, checkpoints)
	require.NoError(t, m.Start())

	_, err := m.ProcessRound(roundFixture(0))
	require.Error(t, err)
	assert.True(t, irrecoverable.IsException(err))
	require.NoError(t, m.Close())
}

func TestManager_StartFailure(t *testing.T) {
	checkpoints := storagemock.NewCheckpoints(t)
	checkpoints.On("Latest").Return(nil, errors.New("corrupted")).Once()

	m, _ := newManager(t, checkpoints)
	err := m.Start()
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}

func TestManager_EmptyInput(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		m, _ := newManager(t, bstorage.NewCheckpoints(db))
		require.NoError(t, m.Start())

		_, err := m.ProcessRound(Round{FirstTxnTime: unittest.ConsensusTimeFixture(0), Inputs: []Input{{}}})
		require.Error(t, err)
		require.NoError(t, m.Close())
	})
}

func TestManager_Run(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		checkpoints := bstorage.NewCheckpoints(db)
		m, writers := newManager(t, checkpoints)
		require.NoError(t, m.Start())

		ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
		defer cancel()

		rounds := make(chan Round)
		done := make(chan struct{})
		go func() {
			defer close(done)
			m.Run(ctx, rounds)
		}()

		for i := 0; i < 3; i++ {
			rounds <- roundFixture(i)
		}
		close(rounds)
		unittest.RequireReturnsBefore(t, func() { <-done }, time.Second)

		require.Len(t, writers.Writers(), 3)
		latest, err := m.LatestCheckpoint()
		require.NoError(t, err)
		assert.Equal(t, uint64(2), latest.BlockNumber)
	})
}

func TestManager_RunCanceled(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		m, _ := newManager(t, bstorage.NewCheckpoints(db))
		require.NoError(t, m.Start())

		ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			m.Run(ctx, make(chan Round))
		}()

		cancel()
		unittest.RequireReturnsBefore(t, func() { <-done }, time.Second)
	})
}

func TestManager_RunThrowsOnFailure(t *testing.T) {
	checkpoints := storagemock.NewCheckpoints(t)
	checkpoints.On("Latest").Return(nil, storage.ErrNotFound).Once()
	checkpoints.On("Store", testifymock.Anything).Return(errors.New("disk i/o")).Once()

	m, _ := newManager(t, checkpoints)
	require.NoError(t, m.Start())

	ctx, errs := irrecoverable.WithSignaler(context.Background())

	rounds := make(chan Round, 1)
	rounds <- roundFixture(0)
	go m.Run(ctx, rounds)

	select {
	case err := <-errs:
		assert.True(t, irrecoverable.IsException(err))
		assert.Contains(t, err.Error(), "disk i/o")
	case <-time.After(time.Second):
		require.Fail(t, "expected an irrecoverable error")
	}
}

func TestManager_PipelinedCheckpointsClosedBlocks(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		checkpoints := bstorage.NewCheckpoints(db)
		writers := writer.NewMemoryWriterFactory(metrics.NewNoopCollector())
		m := newPipelinedManager(t, checkpoints, writers)
		require.NoError(t, m.Start())

		for i := 0; i < 3; i++ {
			number, err := m.ProcessRound(roundFixture(i))
			require.NoError(t, err)

			// the block is closed by its writer before its checkpoint exists
			blocks := writers.Writers()
			require.Len(t, blocks, i+1)
			assert.True(t, blocks[i].IsClosed())
			latest, err := checkpoints.Latest()
			require.NoError(t, err)
			assert.Equal(t, number, latest.BlockNumber)
			unittest.RequireHashEqual(t, blocks[i].EndHash(), latest.RunningHashes.Current())
		}
		require.NoError(t, m.Close())
	})
}

func TestManager_PipelinedWriterFailureIsNotCheckpointed(t *testing.T) {
	checkpoints := storagemock.NewCheckpoints(t)
	checkpoints.On("Latest").Return(nil, storage.ErrNotFound).Once()

	m := newPipelinedManager(t, checkpoints, slowFailingWriters{})
	require.NoError(t, m.Start())

	_, err := m.ProcessRound(roundFixture(0))
	require.Error(t, err)
	assert.True(t, blockstream.IsProducerHaltedError(err))
	assert.Contains(t, err.Error(), "disk gone")
	checkpoints.AssertNotCalled(t, "Store", testifymock.Anything)

	err = m.Close()
	assert.Error(t, err)
}
