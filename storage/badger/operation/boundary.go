package operation

import (
	"github.com/dgraph-io/badger/v2"
)

// InsertBoundary stores the number of the last closed block. It fails if a
// boundary has been stored before.
func InsertBoundary(number uint64) func(*badger.Txn) error {
	return insert(makePrefix(codeBoundary), number)
}

func UpdateBoundary(number uint64) func(*badger.Txn) error {
	return update(makePrefix(codeBoundary), number)
}

// SetBoundary stores the number of the last closed block, replacing any
// previous one.
func SetBoundary(number uint64) func(*badger.Txn) error {
	return upsert(makePrefix(codeBoundary), number)
}

func RetrieveBoundary(number *uint64) func(*badger.Txn) error {
	return retrieve(makePrefix(codeBoundary), number)
}
