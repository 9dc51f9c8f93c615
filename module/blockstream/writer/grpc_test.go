package writer

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module"
	"github.com/onflow/flow-blockstream/module/blockstream"
	"github.com/onflow/flow-blockstream/module/blockstream/format"
	"github.com/onflow/flow-blockstream/module/metrics"
	"github.com/onflow/flow-blockstream/utils/unittest"
)

type failingFactory struct{}

func (failingFactory) Create() (module.StreamWriter, error) {
	return nil, errors.New("no writer available")
}

// startServer serves a BlockStreamServer on a random local port and returns
// a writer factory connected to it.
func startServer(t *testing.T, writers module.WriterFactory) *RemoteWriterFactory {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := grpc.NewServer()
	NewBlockStreamServer(unittest.Logger(), writers).Register(server)
	go func() {
		_ = server.Serve(lis)
	}()
	t.Cleanup(server.Stop)

	factory, err := NewRemoteWriterFactory(context.Background(), unittest.Logger(), metrics.NewNoopCollector(),
		lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = factory.Close()
	})
	return factory
}

func TestRemoteWriter_PublishesBlock(t *testing.T) {
	received := NewMemoryWriterFactory(metrics.NewNoopCollector())
	factory := startServer(t, received)
	f := format.NewBlockFormat()

	items := transactionItems(t, f, 3)
	items[2].Sidecars = []stream.SerializedSidecar{{
		Record: stream.TransactionSidecar{
			Kind:               stream.SidecarBytecode,
			ConsensusTimestamp: unittest.ConsensusTimeFixture(7),
			Payload:            []byte("payload"),
		},
		Bytes: []byte("encoded"),
	}}

	w, err := factory.Create()
	require.NoError(t, err)
	start := unittest.GenesisHash()
	end := writeBlock(t, w, f, 42, start, items...)

	writers := received.Writers()
	require.Len(t, writers, 1)
	mem := writers[0]
	assert.True(t, mem.IsClosed())
	assert.Equal(t, uint64(42), mem.BlockNumber())
	assert.Equal(t, f.Version(), mem.Version())
	assert.True(t, unittest.ConsensusTimeFixture(0).Equal(mem.StartTime()))
	unittest.RequireHashEqual(t, start, mem.StartHash())
	unittest.RequireHashEqual(t, end, mem.EndHash())

	got := mem.Items()
	require.Len(t, got, len(items))
	for i := range items {
		assert.Equal(t, items[i].Kind, got[i].Item.Kind)
		assert.Equal(t, items[i].Bytes, got[i].Item.Bytes)
	}
	require.Len(t, got[2].Item.Sidecars, 1)
	sidecar := got[2].Item.Sidecars[0]
	assert.Equal(t, stream.SidecarBytecode, sidecar.Record.Kind)
	assert.Equal(t, []byte("encoded"), sidecar.Bytes)
	assert.True(t, unittest.ConsensusTimeFixture(7).Equal(sidecar.Record.ConsensusTimestamp))
	unittest.RequireHashEqual(t, end, got[len(got)-1].RunningHash)
}

func TestRemoteWriter_ServerRejectsBlock(t *testing.T) {
	factory := startServer(t, failingFactory{})

	w, err := factory.Create()
	require.NoError(t, err)
	start := unittest.GenesisHash()
	require.NoError(t, w.Init(format.VersionBlock, start, unittest.ConsensusTimeFixture(0), 1))

	err = w.Close(start)
	require.Error(t, err)
	assert.True(t, blockstream.IsWriteError(err))
}

func TestRemoteWriter_Lifecycle(t *testing.T) {
	factory := startServer(t, NewMemoryWriterFactory(metrics.NewNoopCollector()))

	w, err := factory.Create()
	require.NoError(t, err)
	err = w.WriteItem(unittest.SerializedItemFixture(0x01), unittest.HashFixture())
	assert.ErrorIs(t, err, blockstream.ErrIllegalState)
	err = w.Close(unittest.HashFixture())
	assert.ErrorIs(t, err, blockstream.ErrIllegalState)
}
