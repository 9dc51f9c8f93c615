package streaming

import (
	"time"

	"github.com/onflow/flow-blockstream/model/stream"
)

// Input is one entry of a round. Exactly one field is set.
type Input struct {
	ConsensusEvent    *stream.ConsensusEvent
	SystemTransaction *stream.SystemTransaction
	Transactions      []stream.TransactionRecord
	StateChanges      *stream.StateChanges
	FilteredItem      *stream.FilteredItem
}

// Round is the ordered outcome of one consensus round. Each round becomes one
// block of the stream.
type Round struct {
	FirstTxnTime time.Time
	Inputs       []Input
}

func EventInput(event stream.ConsensusEvent) Input {
	return Input{ConsensusEvent: &event}
}

func SystemTransactionInput(txn stream.SystemTransaction) Input {
	return Input{SystemTransaction: &txn}
}

func TransactionsInput(records ...stream.TransactionRecord) Input {
	return Input{Transactions: records}
}

func StateChangesInput(changes stream.StateChanges) Input {
	return Input{StateChanges: &changes}
}

func FilteredInput(item stream.FilteredItem) Input {
	return Input{FilteredItem: &item}
}
