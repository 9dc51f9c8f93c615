package writer

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module/blockstream/format"
)

// A block file is a sequence of CBOR encoded frames: one header frame, one
// item frame per stream item and a footer frame written on close.

type HeaderFrame struct {
	Version          uint32            `cbor:"1,keyasint"`
	BlockNumber      uint64            `cbor:"2,keyasint"`
	StartTimeSeconds int64             `cbor:"3,keyasint"`
	StartTimeNanos   int32             `cbor:"4,keyasint"`
	StartRunningHash stream.HashObject `cbor:"5,keyasint"`
}

func (h *HeaderFrame) StartTime() time.Time {
	return time.Unix(h.StartTimeSeconds, int64(h.StartTimeNanos)).UTC()
}

type ItemFrame struct {
	Kind         uint8  `cbor:"1,keyasint"`
	Bytes        []byte `cbor:"2,keyasint"`
	HashingBytes []byte `cbor:"3,keyasint,omitempty"`
	// RunningHash is only present when the writer is configured to include
	// running hashes.
	RunningHash []byte `cbor:"4,keyasint,omitempty"`
}

func (f *ItemFrame) SerializedItem() stream.SerializedItem {
	return stream.SerializedItem{
		Kind:         stream.ItemKind(f.Kind),
		Bytes:        f.Bytes,
		HashingBytes: f.HashingBytes,
	}
}

type FooterFrame struct {
	BlockNumber    uint64            `cbor:"1,keyasint"`
	ItemCount      uint64            `cbor:"2,keyasint"`
	EndRunningHash stream.HashObject `cbor:"3,keyasint"`
	MetadataHash   []byte            `cbor:"4,keyasint"`
	// Sidecars commits to every sidecar file of the block, in roll order.
	Sidecars []SidecarMetadata `cbor:"5,keyasint,omitempty"`
}

// SidecarMetadata is the hash of one sidecar file as stored.
type SidecarMetadata struct {
	Index    uint32            `cbor:"1,keyasint"`
	FileHash stream.HashObject `cbor:"2,keyasint"`
}

// Frame is a tagged union; exactly one member is set.
type Frame struct {
	Header *HeaderFrame `cbor:"1,keyasint,omitempty"`
	Item   *ItemFrame   `cbor:"2,keyasint,omitempty"`
	Footer *FooterFrame `cbor:"3,keyasint,omitempty"`
}

// SidecarFrame is one entry of a sidecar file.
type SidecarFrame struct {
	BlockNumber uint64 `cbor:"1,keyasint"`
	ItemIndex   uint64 `cbor:"2,keyasint"`
	Kind        uint8  `cbor:"3,keyasint"`
	Bytes       []byte `cbor:"4,keyasint"`
}

// frameEncoder writes frames of one block and tracks what the footer needs.
type frameEncoder struct {
	enc                  *cbor.Encoder
	includeRunningHashes bool

	version     uint32
	blockNumber uint64
	startHash   stream.HashObject
	items       uint64
	written     int
}

func newFrameEncoder(w io.Writer, includeRunningHashes bool) *frameEncoder {
	return &frameEncoder{
		enc:                  format.EncMode.NewEncoder(w),
		includeRunningHashes: includeRunningHashes,
	}
}

func (e *frameEncoder) writeHeader(version uint32, startHash stream.HashObject, startTime time.Time, blockNumber uint64) error {
	e.version = version
	e.blockNumber = blockNumber
	e.startHash = startHash
	err := e.enc.Encode(Frame{Header: &HeaderFrame{
		Version:          version,
		BlockNumber:      blockNumber,
		StartTimeSeconds: startTime.Unix(),
		StartTimeNanos:   int32(startTime.Nanosecond()),
		StartRunningHash: startHash,
	}})
	if err != nil {
		return fmt.Errorf("could not write header frame: %w", err)
	}
	return nil
}

func (e *frameEncoder) writeItem(item stream.SerializedItem, runningHash stream.HashObject) error {
	frame := &ItemFrame{
		Kind:         uint8(item.Kind),
		Bytes:        item.Bytes,
		HashingBytes: item.HashingBytes,
	}
	if e.includeRunningHashes {
		frame.RunningHash = runningHash.Hash
	}
	if err := e.enc.Encode(Frame{Item: frame}); err != nil {
		return fmt.Errorf("could not write item frame %d: %w", e.items, err)
	}
	e.items++
	e.written += len(item.Bytes)
	return nil
}

func (e *frameEncoder) writeFooter(endHash stream.HashObject, sidecars []SidecarMetadata) error {
	err := e.enc.Encode(Frame{Footer: &FooterFrame{
		BlockNumber:    e.blockNumber,
		ItemCount:      e.items,
		EndRunningHash: endHash,
		MetadataHash:   e.metadataHash(endHash),
		Sidecars:       sidecars,
	}})
	if err != nil {
		return fmt.Errorf("could not write footer frame: %w", err)
	}
	return nil
}

func (e *frameEncoder) metadataHash(endHash stream.HashObject) []byte {
	return format.MetadataHash(e.version, e.startHash, endHash, e.blockNumber)
}

// BlockContents is a decoded block file.
type BlockContents struct {
	Header *HeaderFrame
	Items  []*ItemFrame
	Footer *FooterFrame
}

// DecodeBlock reads all frames of one block from r.
func DecodeBlock(r io.Reader) (*BlockContents, error) {
	dec := cbor.NewDecoder(r)
	contents := &BlockContents{}
	for {
		var frame Frame
		err := dec.Decode(&frame)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("could not decode frame %d: %w", len(contents.Items), err)
		}

		switch {
		case frame.Header != nil:
			if contents.Header != nil {
				return nil, fmt.Errorf("duplicate header frame")
			}
			contents.Header = frame.Header
		case frame.Item != nil:
			if contents.Header == nil {
				return nil, fmt.Errorf("item frame before header frame")
			}
			if contents.Footer != nil {
				return nil, fmt.Errorf("item frame after footer frame")
			}
			contents.Items = append(contents.Items, frame.Item)
		case frame.Footer != nil:
			if contents.Footer != nil {
				return nil, fmt.Errorf("duplicate footer frame")
			}
			contents.Footer = frame.Footer
		default:
			return nil, fmt.Errorf("empty frame")
		}
	}
	if contents.Header == nil {
		return nil, fmt.Errorf("block has no header frame")
	}
	return contents, nil
}
