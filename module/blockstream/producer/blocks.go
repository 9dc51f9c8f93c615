package producer

import (
	"time"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module/blockstream"
)

// blockNumbers tracks which block is open, or was last closed.
type blockNumbers struct {
	known         bool
	number        uint64
	open          bool
	firstItemTime time.Time
}

// checkSwitch validates a switch from last to next.
func (b *blockNumbers) checkSwitch(last uint64, next uint64) error {
	if next != last+1 {
		return blockstream.NewInvalidBlockNumberError(last, next)
	}
	if b.known && last != b.number {
		return blockstream.NewInvalidBlockNumberError(b.number, next)
	}
	return nil
}

// next is the number BeginBlock opens. A stream without any block starts at 0.
func (b *blockNumbers) next() uint64 {
	if !b.known {
		return 0
	}
	return b.number + 1
}

func (b *blockNumbers) begin(number uint64, firstItemTime time.Time) {
	b.known = true
	b.number = number
	b.open = true
	b.firstItemTime = firstItemTime
}

func (b *blockNumbers) end() {
	b.open = false
}

func (b *blockNumbers) descriptor(start stream.HashObject) (stream.BlockDescriptor, error) {
	if !b.known {
		return stream.BlockDescriptor{}, blockstream.NewIllegalStatef("no block has been started")
	}
	return stream.BlockDescriptor{
		Number:           b.number,
		StartRunningHash: start,
		FirstItemTime:    b.firstItemTime,
		Open:             b.open,
	}, nil
}
