package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundGenerator_Deterministic(t *testing.T) {
	a := newRoundGenerator(42)
	b := newRoundGenerator(42)
	for i := 0; i < 3; i++ {
		assert.Equal(t, a.next(5, 2), b.next(5, 2))
	}
}

func TestRoundGenerator_Round(t *testing.T) {
	gen := newRoundGenerator(7)
	first := gen.next(4, 1)
	second := gen.next(0, 0)

	// event, transactions, state changes, system transaction
	require.Len(t, first.Inputs, 4)
	require.Len(t, first.Inputs[1].Transactions, 4)
	for _, record := range first.Inputs[1].Transactions {
		assert.Len(t, record.Sidecars, 1)
		assert.True(t, record.ConsensusTimestamp.After(first.FirstTxnTime))
	}
	// no transaction input without transactions
	require.Len(t, second.Inputs, 3)
	assert.True(t, second.FirstTxnTime.After(first.FirstTxnTime))
	assert.Equal(t, uint64(2), second.Inputs[0].ConsensusEvent.Round)
}
