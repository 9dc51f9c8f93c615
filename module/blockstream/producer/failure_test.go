package producer

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/stretchr/testify/assert"
	testifymock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module"
	"github.com/onflow/flow-blockstream/module/blockstream"
	"github.com/onflow/flow-blockstream/module/blockstream/format"
	"github.com/onflow/flow-blockstream/module/blockstream/writer"
	"github.com/onflow/flow-blockstream/module/metrics"
	"github.com/onflow/flow-blockstream/module/mock"
	"github.com/onflow/flow-blockstream/utils/unittest"
)

var errBrokenPipe = errors.New("broken pipe")

// mockWriters returns a factory handing out w once.
func mockWriters(t *testing.T, w module.StreamWriter) *mock.WriterFactory {
	writers := mock.NewWriterFactory(t)
	writers.On("Create").Return(w, nil).Once()
	return writers
}

func TestProducer_WriterCreationFailureHalts(t *testing.T) {
	forEachProducer(t, func(t *testing.T, newProducer newProducerFunc) {
		writers := mock.NewWriterFactory(t)
		writers.On("Create").Return(nil, errors.New("disk full")).Once()

		p := newProducer(t, newRawFormat(), writers)
		require.NoError(t, p.InitRunningHash(genesis()))

		err := p.SwitchBlocks(0, 1, unittest.ConsensusTimeFixture(0))
		if err == nil {
			err = p.Close()
		}
		require.Error(t, err)
		assert.True(t, blockstream.IsProducerHaltedError(err))
		assert.Contains(t, err.Error(), "disk full")
		require.NoError(t, p.Close())
	})
}

func TestProducer_FailFast(t *testing.T) {
	t.Run("sync", func(t *testing.T) {
		w := mock.NewStreamWriter(t)
		w.On("Init", testifymock.Anything, testifymock.Anything, testifymock.Anything, uint64(1)).Return(nil).Once()
		w.On("WriteItem", testifymock.Anything, testifymock.Anything).Return(errBrokenPipe).Once()
		w.On("Close", testifymock.Anything).Return(nil).Once()

		p := newSync(t, newRawFormat(), mockWriters(t, w))
		require.NoError(t, p.InitRunningHash(genesis()))
		require.NoError(t, p.SwitchBlocks(0, 1, unittest.ConsensusTimeFixture(0)))

		err := p.WriteConsensusEvent(event(0x01))
		require.ErrorIs(t, err, errBrokenPipe)
		assert.True(t, blockstream.IsProducerHaltedError(err))

		// nothing reaches the writer once halted
		err = p.WriteConsensusEvent(event(0x02))
		assert.True(t, blockstream.IsProducerHaltedError(err))
		_, err = p.RunningHash()
		assert.True(t, blockstream.IsProducerHaltedError(err))
		err = p.SwitchBlocks(1, 2, unittest.ConsensusTimeFixture(1))
		assert.True(t, blockstream.IsProducerHaltedError(err))

		require.NoError(t, p.Close())
	})

	t.Run("pipelined", func(t *testing.T) {
		w := mock.NewStreamWriter(t)
		w.On("Init", testifymock.Anything, testifymock.Anything, testifymock.Anything, uint64(1)).Return(nil).Once()
		w.On("WriteItem", testifymock.Anything, testifymock.Anything).Return(errBrokenPipe).Once()

		p := newPipelined(t, newRawFormat(), mockWriters(t, w))
		require.NoError(t, p.InitRunningHash(genesis()))
		require.NoError(t, p.SwitchBlocks(0, 1, unittest.ConsensusTimeFixture(0)))
		require.NoError(t, p.WriteConsensusEvent(event(0x01)))

		// the failure is observed by later calls once the write step ran
		require.Eventually(t, func() bool {
			return blockstream.IsProducerHaltedError(p.WriteConsensusEvent(event(0x02)))
		}, time.Second, 5*time.Millisecond)

		err := p.Close()
		require.ErrorIs(t, err, errBrokenPipe)
		assert.True(t, blockstream.IsProducerHaltedError(err))
	})
}

func TestProducer_LogAndContinue(t *testing.T) {
	forEachProducer(t, func(t *testing.T, newProducer newProducerFunc) {
		f := newRawFormat()
		items := []stream.SerializedItem{
			unittest.SerializedItemFixture(0x01),
			unittest.SerializedItemFixture(0x02),
			unittest.SerializedItemFixture(0x03),
		}
		end, err := f.ComputeNewHash(unittest.GenesisHash(), items...)
		require.NoError(t, err)

		w := mock.NewStreamWriter(t)
		w.On("Init", f.Version(), unittest.GenesisHash(), testifymock.Anything, uint64(1)).Return(nil).Once()
		w.On("WriteItem", testifymock.Anything, testifymock.Anything).Return(errBrokenPipe).Once()
		w.On("WriteItem", testifymock.Anything, testifymock.Anything).Return(nil).Twice()
		w.On("Close", end).Return(errBrokenPipe).Once()

		p := newProducer(t, f, mockWriters(t, w), WithWriteFailurePolicy(LogAndContinue))
		require.NoError(t, p.InitRunningHash(genesis()))
		require.NoError(t, p.SwitchBlocks(0, 1, unittest.ConsensusTimeFixture(0)))
		for _, b := range []byte{0x01, 0x02, 0x03} {
			require.NoError(t, p.WriteConsensusEvent(event(b)))
		}

		// the chain covers the item the writer lost
		current, err := p.RunningHash()
		require.NoError(t, err)
		unittest.RequireHashEqual(t, end, current)

		// the shutdown path reports close failures regardless of policy
		err = p.Close()
		assert.ErrorIs(t, err, errBrokenPipe)
	})
}

// blockingWriter holds Init until released.
type blockingWriter struct {
	*writer.MemoryWriter
	release chan struct{}
}

func (w *blockingWriter) Init(version uint32, startHash stream.HashObject, startTime time.Time, blockNumber uint64) error {
	<-w.release
	return w.MemoryWriter.Init(version, startHash, startTime, blockNumber)
}

func TestPipelinedProducer_DoesNotWaitForWriter(t *testing.T) {
	w := &blockingWriter{
		MemoryWriter: writer.NewMemoryWriter(metrics.NewNoopCollector()),
		release:      make(chan struct{}),
	}
	p := newPipelined(t, newRawFormat(), mockWriters(t, w))
	require.NoError(t, p.InitRunningHash(genesis()))

	unittest.RequireReturnsBefore(t, func() {
		require.NoError(t, p.SwitchBlocks(0, 1, unittest.ConsensusTimeFixture(0)))
		require.NoError(t, p.WriteConsensusEvent(event(0x01)))
		require.NoError(t, p.WriteConsensusEvent(event(0x02)))
	}, time.Second)

	// hashing does not depend on the writer
	var current stream.HashObject
	unittest.RequireReturnsBefore(t, func() {
		var err error
		current, err = p.RunningHash()
		require.NoError(t, err)
	}, time.Second)
	assert.Empty(t, w.Items())

	closed := unittest.RequireNeverReturnBefore(t, func() {
		require.NoError(t, p.Close())
	}, 50*time.Millisecond)

	close(w.release)
	unittest.RequireReturnsBefore(t, func() { <-closed }, time.Second)

	assert.True(t, w.IsClosed())
	require.Len(t, w.Items(), 2)
	unittest.RequireHashEqual(t, current, w.EndHash())
}

func TestProducer_ConcurrentClose(t *testing.T) {
	forEachProducer(t, func(t *testing.T, newProducer newProducerFunc) {
		writers := writer.NewMemoryWriterFactory(metrics.NewNoopCollector())
		p := newProducer(t, newRawFormat(), writers)
		require.NoError(t, p.InitRunningHash(genesis()))
		require.NoError(t, p.SwitchBlocks(0, 1, unittest.ConsensusTimeFixture(0)))
		for i := 0; i < 50; i++ {
			require.NoError(t, p.WriteConsensusEvent(event(byte(i))))
		}
		current, err := p.RunningHash()
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 4)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = p.Close()
			}(i)
		}
		unittest.RequireReturnsBefore(t, wg.Wait, time.Second)
		for _, err := range errs {
			assert.NoError(t, err)
		}

		created := writers.Writers()
		require.Len(t, created, 1)
		assert.True(t, created[0].IsClosed())
		assert.Len(t, created[0].Items(), 50)
		unittest.RequireHashEqual(t, current, created[0].EndHash())
	})
}

func TestProducer_FlushReportsCloseFailure(t *testing.T) {
	forEachProducer(t, func(t *testing.T, newProducer newProducerFunc) {
		w := mock.NewStreamWriter(t)
		w.On("Init", testifymock.Anything, testifymock.Anything, testifymock.Anything, uint64(0)).Return(nil).Once()
		w.On("WriteItem", testifymock.Anything, testifymock.Anything).Return(nil)
		w.On("Close", testifymock.Anything).Return(errBrokenPipe).Once()

		p := newProducer(t, newRawFormat(), mockWriters(t, w))
		require.NoError(t, p.InitRunningHash(genesis()))
		require.NoError(t, p.BeginBlock(unittest.ConsensusTimeFixture(0)))
		require.NoError(t, p.WriteConsensusEvent(event(0x01)))

		// the sync producer fails right away, the pipelined one on Flush
		err := p.EndBlock()
		if err == nil {
			err = p.Flush()
		}
		require.ErrorIs(t, err, errBrokenPipe)
		assert.True(t, blockstream.IsProducerHaltedError(err))

		err = p.Flush()
		assert.True(t, blockstream.IsProducerHaltedError(err))
		_ = p.Close()
	})
}

func TestPipelinedProducer_FlushWaitsForWriter(t *testing.T) {
	w := &blockingWriter{
		MemoryWriter: writer.NewMemoryWriter(metrics.NewNoopCollector()),
		release:      make(chan struct{}),
	}
	p := newPipelined(t, newRawFormat(), mockWriters(t, w))
	require.NoError(t, p.InitRunningHash(genesis()))
	require.NoError(t, p.BeginBlock(unittest.ConsensusTimeFixture(0)))
	require.NoError(t, p.WriteConsensusEvent(event(0x01)))
	require.NoError(t, p.EndBlock())

	flushed := unittest.RequireNeverReturnBefore(t, func() {
		require.NoError(t, p.Flush())
	}, 50*time.Millisecond)

	close(w.release)
	unittest.RequireReturnsBefore(t, func() { <-flushed }, time.Second)
	assert.True(t, w.IsClosed())
	require.NoError(t, p.Close())
}

func TestPipelinedProducer_ConcurrentHaltsKeepOneCause(t *testing.T) {
	pool := workerpool.New(4)
	t.Cleanup(pool.StopWait)
	p := NewPipelinedProducer(unittest.Logger(), metrics.NewNoopCollector(), newRawFormat(),
		writer.NewMemoryWriterFactory(metrics.NewNoopCollector()), pool)
	require.NoError(t, p.InitRunningHash(genesis()))

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.halt(p.log, fmt.Errorf("failure %d", i))
		}(i)
	}
	unittest.RequireReturnsBefore(t, wg.Wait, time.Second)

	_, err := p.RunningHash()
	require.True(t, blockstream.IsProducerHaltedError(err))
	cause := p.halted.Load()
	require.Error(t, cause)
	assert.ErrorIs(t, err, cause)
	for _, err := range errs {
		assert.ErrorIs(t, err, cause)
	}
}

// gatedExecutor holds every task until gate is closed.
type gatedExecutor struct {
	pool *workerpool.WorkerPool
	gate chan struct{}
}

func (e *gatedExecutor) Submit(task func()) {
	e.pool.Submit(func() {
		<-e.gate
		task()
	})
}

func TestPipelinedProducer_CallerMayReuseBatch(t *testing.T) {
	f := format.NewBlockFormat()
	records := unittest.TransactionRecordListFixture(3, unittest.WithConsensusTime(unittest.ConsensusTimeFixture(0)))
	original := append([]stream.TransactionRecord(nil), records...)

	expectedWriters := writer.NewMemoryWriterFactory(metrics.NewNoopCollector())
	expected := newSync(t, f, expectedWriters)
	require.NoError(t, expected.InitRunningHash(genesis()))
	require.NoError(t, expected.SwitchBlocks(0, 1, unittest.ConsensusTimeFixture(0)))
	require.NoError(t, expected.WriteItems(original...))
	require.NoError(t, expected.Close())

	pool := workerpool.New(2)
	t.Cleanup(pool.StopWait)
	exec := &gatedExecutor{pool: pool, gate: make(chan struct{})}
	writers := writer.NewMemoryWriterFactory(metrics.NewNoopCollector())
	p := NewPipelinedProducer(unittest.Logger(), metrics.NewNoopCollector(), f, writers, exec)
	require.NoError(t, p.InitRunningHash(genesis()))
	require.NoError(t, p.SwitchBlocks(0, 1, unittest.ConsensusTimeFixture(0)))
	require.NoError(t, p.WriteItems(records...))

	// nothing has been serialized yet when the caller refills its batch
	for i := range records {
		records[i] = unittest.TransactionRecordFixture()
	}
	close(exec.gate)
	require.NoError(t, p.Close())

	want := expectedWriters.Writers()[0]
	got := writers.Writers()[0]
	require.Len(t, got.Items(), len(want.Items()))
	for i := range want.Items() {
		assert.Equal(t, want.Items()[i].Item.Bytes, got.Items()[i].Item.Bytes)
	}
	unittest.RequireHashEqual(t, want.EndHash(), got.EndHash())
}
