package stream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onflow/flow-blockstream/model/stream"
)

func hashOf(b byte) stream.HashObject {
	return stream.NewHashObject(stream.SHA2_384, []byte{b})
}

func TestHashHistory_Push(t *testing.T) {
	h, err := stream.NewHashHistory(stream.DefaultHistoryDepth, hashOf(1))
	require.NoError(t, err)

	assert.Equal(t, hashOf(1), h.Current())
	_, err = h.Back(1)
	require.ErrorIs(t, err, stream.ErrHashNotAvailable)

	next := h.Push(hashOf(2)).Push(hashOf(3)).Push(hashOf(4))

	// the original value is untouched
	assert.Equal(t, hashOf(1), h.Current())

	assert.Equal(t, hashOf(4), next.Current())
	nMinus3, err := next.NMinus3()
	require.NoError(t, err)
	assert.Equal(t, hashOf(1), nMinus3)

	// pushing past the depth drops the oldest hash
	next = next.Push(hashOf(5))
	nMinus3, err = next.NMinus3()
	require.NoError(t, err)
	assert.Equal(t, hashOf(2), nMinus3)

	_, err = next.Back(4)
	require.ErrorIs(t, err, stream.ErrHistoryDepth)
}

func TestHashHistory_Validation(t *testing.T) {
	t.Run("zero depth", func(t *testing.T) {
		_, err := stream.NewHashHistory(0, hashOf(1))
		require.Error(t, err)
	})

	t.Run("too many seeds", func(t *testing.T) {
		_, err := stream.NewHashHistory(2, hashOf(1), hashOf(2), hashOf(3))
		require.Error(t, err)
	})

	t.Run("empty current", func(t *testing.T) {
		_, err := stream.NewHashHistory(4)
		require.Error(t, err)

		_, err = stream.NewHashHistory(4, stream.HashObject{})
		require.Error(t, err)
	})
}

func TestRunningHashes_RoundTripThroughHistory(t *testing.T) {
	hashes := stream.NewRunningHashes(hashOf(4), hashOf(3), hashOf(2), hashOf(1), hashOf(0))

	h, err := hashes.History(stream.DefaultHistoryDepth)
	require.NoError(t, err)
	assert.Equal(t, 4, h.Depth())

	exported := h.RunningHashes()
	require.Len(t, exported.Hashes, 4)
	assert.Equal(t, hashOf(4), exported.Current())
	assert.Equal(t, hashOf(1), exported.Hashes[3])

	// a partially filled history only exports filled slots
	partial, err := stream.NewRunningHashes(hashOf(9)).History(stream.DefaultHistoryDepth)
	require.NoError(t, err)
	assert.Len(t, partial.RunningHashes().Hashes, 1)
}
