package operation

import (
	"testing"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/storage"
	"github.com/onflow/flow-blockstream/utils/unittest"
)

func TestCheckpointInsertRetrieve(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		checkpoint := &stream.Checkpoint{
			BlockNumber:   42,
			RunningHashes: unittest.RunningHashesFixture(4),
		}

		var found bool
		require.NoError(t, db.View(HasCheckpoint(42, &found)))
		assert.False(t, found)

		require.NoError(t, db.Update(InsertCheckpoint(checkpoint)))

		var retrieved stream.Checkpoint
		require.NoError(t, db.View(RetrieveCheckpoint(42, &retrieved)))
		assert.Equal(t, checkpoint.BlockNumber, retrieved.BlockNumber)
		require.Len(t, retrieved.RunningHashes.Hashes, 4)
		for i, h := range checkpoint.RunningHashes.Hashes {
			unittest.RequireHashEqual(t, h, retrieved.RunningHashes.Hashes[i])
		}

		require.NoError(t, db.View(HasCheckpoint(42, &found)))
		assert.True(t, found)

		err := db.Update(InsertCheckpoint(checkpoint))
		require.ErrorIs(t, err, storage.ErrAlreadyExists)

		err = db.View(RetrieveCheckpoint(43, &retrieved))
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestCodec_Uncompressed(t *testing.T) {
	val, err := encodeEntityRaw(uint64(7))
	require.NoError(t, err)

	var out uint64
	err = decodeCompressed(val, &out)
	require.Error(t, err)
	assert.True(t, isErrUncompressedValue(err))

	require.NoError(t, decodeValRaw(val, &out))
	assert.Equal(t, uint64(7), out)
}
