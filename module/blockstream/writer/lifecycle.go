// Package writer contains the sinks a block stream producer hands blocks to.
package writer

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/onflow/flow-blockstream/module/blockstream"
)

type writerState uint32

const (
	stateUnopened writerState = iota
	stateOpen
	stateClosed
)

func (s writerState) String() string {
	switch s {
	case stateUnopened:
		return "Unopened"
	case stateOpen:
		return "Open"
	case stateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(s))
	}
}

// lifecycle enforces Unopened -> Open -> Closed for a single writer.
type lifecycle struct {
	state *atomic.Uint32
}

func newLifecycle() lifecycle {
	return lifecycle{state: atomic.NewUint32(uint32(stateUnopened))}
}

func (l lifecycle) current() writerState {
	return writerState(l.state.Load())
}

// open moves Unopened -> Open.
func (l lifecycle) open() error {
	if !l.state.CAS(uint32(stateUnopened), uint32(stateOpen)) {
		return blockstream.NewIllegalStatef("cannot init writer in state %s", l.current())
	}
	return nil
}

// checkOpen returns an error unless the writer is Open.
func (l lifecycle) checkOpen() error {
	if s := l.current(); s != stateOpen {
		return blockstream.NewIllegalStatef("cannot write item in state %s", s)
	}
	return nil
}

// close moves Open -> Closed. It returns false without error if the writer is
// already closed, in which case there is nothing left to do.
func (l lifecycle) close() (bool, error) {
	if l.state.CAS(uint32(stateOpen), uint32(stateClosed)) {
		return true, nil
	}
	switch s := l.current(); s {
	case stateClosed:
		return false, nil
	default:
		return false, blockstream.NewIllegalStatef("cannot close writer in state %s", s)
	}
}
