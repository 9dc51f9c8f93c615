package blockstream

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalState is returned when an operation is called in a lifecycle
	// state that does not allow it, e.g. writing to an unopened writer or
	// initializing a producer twice.
	ErrIllegalState = errors.New("illegal state")

	// ErrSerialization wraps failures to produce the canonical form of an item.
	ErrSerialization = errors.New("serialization failed")

	// ErrStorageExhausted is returned by writer factories that cannot provide
	// a writer because the backing storage is full.
	ErrStorageExhausted = errors.New("storage exhausted")

	// ErrUnsupportedVersion is returned for unknown stream format versions.
	ErrUnsupportedVersion = errors.New("unsupported stream format version")
)

// NewIllegalStatef wraps ErrIllegalState with a description of the violation.
func NewIllegalStatef(msg string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(msg, args...), ErrIllegalState)
}

// InvalidBlockNumberError indicates a block switch that does not move to the
// block directly following the last one.
type InvalidBlockNumberError struct {
	lastBlockNumber uint64
	newBlockNumber  uint64
}

func NewInvalidBlockNumberError(lastBlockNumber uint64, newBlockNumber uint64) *InvalidBlockNumberError {
	return &InvalidBlockNumberError{
		lastBlockNumber: lastBlockNumber,
		newBlockNumber:  newBlockNumber,
	}
}

func (e *InvalidBlockNumberError) Error() string {
	return fmt.Sprintf("invalid block number: new block %d does not follow last block %d", e.newBlockNumber, e.lastBlockNumber)
}

func IsInvalidBlockNumberError(err error) bool {
	var invalidBlockNumberError *InvalidBlockNumberError
	return errors.As(err, &invalidBlockNumberError)
}

// WriteError indicates that a writer failed to persist or finalize a block.
type WriteError struct {
	blockNumber uint64
	op          string
	err         error
}

func NewWriteError(blockNumber uint64, op string, err error) *WriteError {
	return &WriteError{
		blockNumber: blockNumber,
		op:          op,
		err:         err,
	}
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writer %s failed for block %d: %v", e.op, e.blockNumber, e.err)
}

func (e *WriteError) Unwrap() error {
	return e.err
}

func IsWriteError(err error) bool {
	var writeError *WriteError
	return errors.As(err, &writeError)
}

// ProducerHaltedError is returned by every producer operation after a fatal
// failure. It carries the failure that halted the producer.
type ProducerHaltedError struct {
	cause error
}

func NewProducerHaltedError(cause error) *ProducerHaltedError {
	return &ProducerHaltedError{cause: cause}
}

func (e *ProducerHaltedError) Error() string {
	return fmt.Sprintf("producer halted: %v", e.cause)
}

func (e *ProducerHaltedError) Unwrap() error {
	return e.cause
}

func IsProducerHaltedError(err error) bool {
	var producerHaltedError *ProducerHaltedError
	return errors.As(err, &producerHaltedError)
}
