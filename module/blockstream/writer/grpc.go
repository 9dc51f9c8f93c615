package writer

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module"
	"github.com/onflow/flow-blockstream/module/blockstream/format"
)

const (
	codecName   = "cramberry"
	serviceName = "flow.blockstream.v1.BlockStreamService"
	publishName = "PublishBlock"
)

// CramberryCodec implements grpc/encoding.Codec using cramberry
// for deterministic binary serialization.
type CramberryCodec struct{}

func (CramberryCodec) Marshal(v any) ([]byte, error) {
	data, err := cramberry.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cramberry marshal: %w", err)
	}
	return data, nil
}

func (CramberryCodec) Unmarshal(data []byte, v any) error {
	if err := cramberry.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cramberry unmarshal: %w", err)
	}
	return nil
}

func (CramberryCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(CramberryCodec{})
}

// OpenBlock is the first message of a PublishBlock stream.
type OpenBlock struct {
	SessionID   string           `cramberry:"1"`
	Version     uint32           `cramberry:"2"`
	BlockNumber uint64           `cramberry:"3"`
	StartTime   format.Timestamp `cramberry:"4"`
	StartHash   format.WireHash  `cramberry:"5"`
}

type SidecarMessage struct {
	Kind               uint32           `cramberry:"1"`
	ConsensusTimestamp format.Timestamp `cramberry:"2"`
	Payload            []byte           `cramberry:"3"`
	Bytes              []byte           `cramberry:"4"`
}

type ItemMessage struct {
	Kind         uint32           `cramberry:"1"`
	Bytes        []byte           `cramberry:"2"`
	HashingBytes []byte           `cramberry:"3"`
	RunningHash  format.WireHash  `cramberry:"4"`
	Sidecars     []SidecarMessage `cramberry:"5"`
}

type CloseBlock struct {
	EndHash format.WireHash `cramberry:"1"`
}

// PublishMessage is a tagged union carrying one step of a block.
type PublishMessage struct {
	Open  *OpenBlock   `cramberry:"1"`
	Item  *ItemMessage `cramberry:"2"`
	Close *CloseBlock  `cramberry:"3"`
}

// PublishAck is returned once the receiving side closed the block.
type PublishAck struct {
	SessionID   string `cramberry:"1"`
	BlockNumber uint64 `cramberry:"2"`
	Items       uint64 `cramberry:"3"`
}

func fromWireHash(h format.WireHash) stream.HashObject {
	return stream.NewHashObject(stream.HashAlgorithm(h.Algorithm), h.Hash)
}

func toWireHash(h stream.HashObject) format.WireHash {
	return format.WireHash{Algorithm: uint32(h.Algorithm), Hash: h.Hash}
}

func toWireTime(t time.Time) format.Timestamp {
	return format.Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

func (m *ItemMessage) serializedItem() stream.SerializedItem {
	item := stream.SerializedItem{
		Kind:         stream.ItemKind(m.Kind),
		Bytes:        m.Bytes,
		HashingBytes: m.HashingBytes,
	}
	for _, s := range m.Sidecars {
		item.Sidecars = append(item.Sidecars, stream.SerializedSidecar{
			Record: stream.TransactionSidecar{
				Kind:               stream.SidecarKind(s.Kind),
				ConsensusTimestamp: s.ConsensusTimestamp.Time(),
				Payload:            s.Payload,
			},
			Bytes: s.Bytes,
		})
	}
	return item
}

// BlockStreamServer receives blocks published by RemoteWriters and hands each
// of them to a writer created by a local factory.
type BlockStreamServer struct {
	log     zerolog.Logger
	writers module.WriterFactory
}

func NewBlockStreamServer(log zerolog.Logger, writers module.WriterFactory) *BlockStreamServer {
	return &BlockStreamServer{
		log:     log.With().Str("component", "block_stream_server").Logger(),
		writers: writers,
	}
}

// Register registers the service on a gRPC server.
func (s *BlockStreamServer) Register(server *grpc.Server) {
	server.RegisterService(&blockStreamServiceDesc, s)
}

// blockStreamService is the server-side interface of the service.
type blockStreamService interface {
	PublishBlock(grpc.ServerStream) error
}

func (s *BlockStreamServer) PublishBlock(srv grpc.ServerStream) error {
	first := new(PublishMessage)
	if err := srv.RecvMsg(first); err != nil {
		return err
	}
	if first.Open == nil {
		return fmt.Errorf("first PublishBlock message must open a block")
	}
	open := first.Open
	log := s.log.With().
		Str("session_id", open.SessionID).
		Uint64("block_number", open.BlockNumber).
		Logger()

	w, err := s.writers.Create()
	if err != nil {
		log.Error().Err(err).Msg("could not create writer for published block")
		return fmt.Errorf("could not create writer: %w", err)
	}
	err = w.Init(open.Version, fromWireHash(open.StartHash), open.StartTime.Time(), open.BlockNumber)
	if err != nil {
		return fmt.Errorf("could not open block %d: %w", open.BlockNumber, err)
	}

	var items uint64
	for {
		msg := new(PublishMessage)
		err := srv.RecvMsg(msg)
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("stream of block %d ended before the block was closed", open.BlockNumber)
		}
		if err != nil {
			return err
		}

		switch {
		case msg.Item != nil:
			if err := w.WriteItem(msg.Item.serializedItem(), fromWireHash(msg.Item.RunningHash)); err != nil {
				return fmt.Errorf("could not write item %d of block %d: %w", items, open.BlockNumber, err)
			}
			items++
		case msg.Close != nil:
			if err := w.Close(fromWireHash(msg.Close.EndHash)); err != nil {
				return fmt.Errorf("could not close block %d: %w", open.BlockNumber, err)
			}
			log.Debug().Uint64("items", items).Msg("published block received")
			return srv.SendMsg(&PublishAck{
				SessionID:   open.SessionID,
				BlockNumber: open.BlockNumber,
				Items:       items,
			})
		default:
			return fmt.Errorf("unexpected message in stream of block %d", open.BlockNumber)
		}
	}
}

func handlerPublishBlock(srv any, ss grpc.ServerStream) error {
	return srv.(blockStreamService).PublishBlock(ss)
}

func publishMethod() string {
	return fmt.Sprintf("/%s/%s", serviceName, publishName)
}

var publishStreamDesc = grpc.StreamDesc{
	StreamName:    publishName,
	Handler:       handlerPublishBlock,
	ServerStreams: false,
	ClientStreams: true,
}

// blockStreamServiceDesc is the manual gRPC service descriptor.
var blockStreamServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*blockStreamService)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams:     []grpc.StreamDesc{publishStreamDesc},
	Metadata:    "flow/blockstream/v1/service.cram",
}
