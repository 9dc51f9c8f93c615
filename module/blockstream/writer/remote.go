package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module"
	"github.com/onflow/flow-blockstream/module/blockstream"
)

const KindGRPC = "grpc"

// RemoteWriter publishes one block to a BlockStreamServer over a client
// streaming gRPC call. The call is opened by Init and completed by Close, which
// waits for the receiving side to acknowledge the closed block.
type RemoteWriter struct {
	ctx       context.Context
	log       zerolog.Logger
	metrics   module.BlockStreamMetrics
	conn      *grpc.ClientConn
	lifecycle lifecycle

	sessionID   string
	blockNumber uint64
	items       uint64
	openedAt    time.Time
	stream      grpc.ClientStream
	cancel      context.CancelFunc
}

var _ module.StreamWriter = (*RemoteWriter)(nil)

func NewRemoteWriter(ctx context.Context, log zerolog.Logger, metrics module.BlockStreamMetrics, conn *grpc.ClientConn) *RemoteWriter {
	return &RemoteWriter{
		ctx:       ctx,
		log:       log.With().Str("writer", KindGRPC).Logger(),
		metrics:   metrics,
		conn:      conn,
		lifecycle: newLifecycle(),
	}
}

func (w *RemoteWriter) Init(version uint32, startHash stream.HashObject, startTime time.Time, blockNumber uint64) error {
	if err := w.lifecycle.open(); err != nil {
		return err
	}
	w.sessionID = uuid.New().String()
	w.blockNumber = blockNumber
	w.openedAt = time.Now()

	ctx, cancel := context.WithCancel(w.ctx)
	s, err := w.conn.NewStream(ctx, &publishStreamDesc, publishMethod(), grpc.ForceCodec(CramberryCodec{}))
	if err != nil {
		cancel()
		w.metrics.WriteFailed(KindGRPC, "init")
		return blockstream.NewWriteError(blockNumber, "init", fmt.Errorf("could not open publish stream: %w", err))
	}
	w.stream = s
	w.cancel = cancel

	err = s.SendMsg(&PublishMessage{Open: &OpenBlock{
		SessionID:   w.sessionID,
		Version:     version,
		BlockNumber: blockNumber,
		StartTime:   toWireTime(startTime),
		StartHash:   toWireHash(startHash),
	}})
	if err != nil {
		w.metrics.WriteFailed(KindGRPC, "init")
		return blockstream.NewWriteError(blockNumber, "init", fmt.Errorf("could not send open message: %w", err))
	}

	w.metrics.BlockOpened(blockNumber)
	w.log.Debug().Str("session_id", w.sessionID).Uint64("block_number", blockNumber).Msg("publish stream opened")
	return nil
}

func (w *RemoteWriter) WriteItem(item stream.SerializedItem, runningHash stream.HashObject) error {
	if err := w.lifecycle.checkOpen(); err != nil {
		return err
	}

	msg := &ItemMessage{
		Kind:         uint32(item.Kind),
		Bytes:        item.Bytes,
		HashingBytes: item.HashingBytes,
		RunningHash:  toWireHash(runningHash),
	}
	for _, s := range item.Sidecars {
		msg.Sidecars = append(msg.Sidecars, SidecarMessage{
			Kind:               uint32(s.Record.Kind),
			ConsensusTimestamp: toWireTime(s.Record.ConsensusTimestamp),
			Payload:            s.Record.Payload,
			Bytes:              s.Bytes,
		})
	}
	if err := w.stream.SendMsg(&PublishMessage{Item: msg}); err != nil {
		w.metrics.WriteFailed(KindGRPC, "write")
		return blockstream.NewWriteError(w.blockNumber, "write", fmt.Errorf("could not send item %d: %w", w.items, err))
	}
	w.items++
	w.metrics.ItemWritten(KindGRPC, len(item.Bytes))
	return nil
}

func (w *RemoteWriter) Close(endHash stream.HashObject) error {
	closeNeeded, err := w.lifecycle.close()
	if err != nil || !closeNeeded {
		return err
	}
	if w.stream == nil {
		return nil
	}
	defer w.cancel()

	if err := w.stream.SendMsg(&PublishMessage{Close: &CloseBlock{EndHash: toWireHash(endHash)}}); err != nil {
		w.metrics.WriteFailed(KindGRPC, "close")
		return blockstream.NewWriteError(w.blockNumber, "close", fmt.Errorf("could not send close message: %w", err))
	}
	if err := w.stream.CloseSend(); err != nil {
		w.metrics.WriteFailed(KindGRPC, "close")
		return blockstream.NewWriteError(w.blockNumber, "close", fmt.Errorf("could not half-close stream: %w", err))
	}

	ack := new(PublishAck)
	if err := w.stream.RecvMsg(ack); err != nil {
		w.metrics.WriteFailed(KindGRPC, "close")
		return blockstream.NewWriteError(w.blockNumber, "close", fmt.Errorf("block was not acknowledged: %w", err))
	}
	if ack.BlockNumber != w.blockNumber || ack.Items != w.items {
		w.metrics.WriteFailed(KindGRPC, "close")
		return blockstream.NewWriteError(w.blockNumber, "close",
			fmt.Errorf("acknowledged block %d with %d items, sent %d items", ack.BlockNumber, ack.Items, w.items))
	}

	w.metrics.BlockClosed(w.blockNumber, int(w.items), time.Since(w.openedAt))
	return nil
}

// RemoteWriterFactory creates RemoteWriters sharing one client connection.
type RemoteWriterFactory struct {
	ctx     context.Context
	log     zerolog.Logger
	metrics module.BlockStreamMetrics
	conn    *grpc.ClientConn
}

var _ module.WriterFactory = (*RemoteWriterFactory)(nil)

// NewRemoteWriterFactory creates a client for the block stream service at addr.
func NewRemoteWriterFactory(ctx context.Context, log zerolog.Logger, metrics module.BlockStreamMetrics, addr string, opts ...grpc.DialOption) (*RemoteWriterFactory, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.ForceCodec(CramberryCodec{})))
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create block stream client for %s: %w", addr, err)
	}
	return &RemoteWriterFactory{
		ctx:     ctx,
		log:     log,
		metrics: metrics,
		conn:    conn,
	}, nil
}

func (f *RemoteWriterFactory) Create() (module.StreamWriter, error) {
	if err := f.ctx.Err(); err != nil {
		return nil, fmt.Errorf("cannot create remote writer: %w", err)
	}
	return NewRemoteWriter(f.ctx, f.log, f.metrics, f.conn), nil
}

func (f *RemoteWriterFactory) Close() error {
	return f.conn.Close()
}
