package format_test

import (
	"crypto/sha512"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module/blockstream"
	"github.com/onflow/flow-blockstream/module/blockstream/format"
	"github.com/onflow/flow-blockstream/utils/unittest"
)

func sha384(parts ...[]byte) []byte {
	h := sha512.New384()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func raw(b ...byte) stream.SerializedItem {
	return stream.SerializedItem{Kind: stream.KindRecord, Bytes: b}
}

func TestComputeNewHash_Chain(t *testing.T) {
	f := format.NewBlockFormat()
	genesis := stream.ZeroHash(stream.SHA2_384, 32)

	h1, err := f.ComputeNewHash(genesis, raw(0x01))
	require.NoError(t, err)
	assert.Equal(t, sha384(make([]byte, 32), []byte{0x01}), h1.Hash)
	assert.Equal(t, stream.SHA2_384, h1.Algorithm)
	assert.EqualValues(t, stream.SHA384Size, h1.Length)

	h2, err := f.ComputeNewHash(h1, raw(0x02))
	require.NoError(t, err)
	assert.Equal(t, sha384(h1.Hash, []byte{0x02}), h2.Hash)

	// folding several items at once equals folding them one by one
	both, err := f.ComputeNewHash(genesis, raw(0x01), raw(0x02))
	require.NoError(t, err)
	assert.True(t, both.Equal(h2))
}

func TestComputeNewHash_EmptyIsIdentity(t *testing.T) {
	for _, version := range []uint32{format.VersionBlock, format.VersionRecord} {
		f, err := format.ByVersion(version)
		require.NoError(t, err)

		prior := unittest.HashFixture()
		next, err := f.ComputeNewHash(prior)
		require.NoError(t, err)
		assert.True(t, prior.Equal(next))

		next, err = f.ComputeNewHashWithHasher(f.NewHasher(), prior)
		require.NoError(t, err)
		assert.True(t, prior.Equal(next))
	}
}

func TestComputeNewHash_ReusedHasher(t *testing.T) {
	f := format.NewBlockFormat()
	hasher := f.NewHasher()
	prior := unittest.HashFixture()

	expected, err := f.ComputeNewHash(prior, raw(0xaa), raw(0xbb))
	require.NoError(t, err)

	// the same hasher yields the same result on repeated use
	for i := 0; i < 3; i++ {
		actual, err := f.ComputeNewHashWithHasher(hasher, prior, raw(0xaa), raw(0xbb))
		require.NoError(t, err)
		assert.True(t, expected.Equal(actual))
	}
}

func TestComputeNewHash_EmptyPrior(t *testing.T) {
	f := format.NewBlockFormat()
	_, err := f.ComputeNewHash(stream.HashObject{}, raw(0x01))
	require.ErrorIs(t, err, blockstream.ErrIllegalState)
}

func TestBlockFormat_Transaction(t *testing.T) {
	f := format.NewBlockFormat()
	record := unittest.TransactionRecordFixture(unittest.WithSidecars(2))

	items, err := f.SerializeTransaction(record)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, stream.KindTransaction, items[0].Kind)
	assert.Equal(t, stream.KindTransactionResult, items[1].Kind)
	assert.Equal(t, stream.KindTransactionOutput, items[2].Kind)

	for _, item := range items {
		assert.Nil(t, item.HashingBytes)
		assert.Empty(t, item.Sidecars)
	}

	output, err := format.DecodeBlockItem(items[2].Bytes)
	require.NoError(t, err)
	require.NotNil(t, output.TransactionOutput)
	assert.Len(t, output.TransactionOutput.Sidecars, 2)

	// serialization is deterministic
	again, err := f.SerializeTransaction(record)
	require.NoError(t, err)
	assert.Equal(t, items, again)
}

func TestBlockFormat_HeaderAndProof(t *testing.T) {
	f := format.NewBlockFormat()
	firstItem := time.Date(2024, 3, 1, 12, 0, 0, 42, time.UTC)

	header, err := f.SerializeBlockHeader(stream.BlockHeader{
		Number:        7,
		FirstItemTime: firstItem,
		Version:       f.Version(),
		HashAlgorithm: f.Algorithm(),
	})
	require.NoError(t, err)

	decoded, err := format.DecodeBlockItem(header.Bytes)
	require.NoError(t, err)
	require.NotNil(t, decoded.BlockHeader)
	assert.EqualValues(t, 7, decoded.BlockHeader.Number)
	assert.Equal(t, firstItem, decoded.BlockHeader.FirstItemTime.Time())

	proof, err := f.SerializeBlockProof(stream.BlockProof{
		Number:              7,
		StartRunningHash:    unittest.HashFixture(),
		PreviousRunningHash: unittest.HashFixture(),
	})
	require.NoError(t, err)
	assert.Equal(t, stream.KindBlockProof, proof.Kind)

	desc, err := format.Describe(format.VersionBlock, proof.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "block_proof number=7", desc)
}

func TestRecordFormat_Transaction(t *testing.T) {
	f := format.NewRecordFormat()
	record := unittest.TransactionRecordFixture(unittest.WithSidecars(3))

	items, err := f.SerializeTransaction(record)
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, stream.KindRecord, item.Kind)
	require.NotNil(t, item.HashingBytes)
	assert.NotEqual(t, item.Bytes, item.HashingBytes)
	require.Len(t, item.Sidecars, 3)
	assert.Equal(t, record.Sidecars[0], item.Sidecars[0].Record)

	// sidecars do not take part in the running hash
	withoutSidecars := record
	withoutSidecars.Sidecars = nil
	plain, err := f.SerializeTransaction(withoutSidecars)
	require.NoError(t, err)
	assert.Equal(t, item.HashingBytes, plain[0].HashingBytes)
	assert.NotEqual(t, item.Bytes, plain[0].Bytes)

	kind, _, err := format.DecodeRecordEnvelope(item.Bytes)
	require.NoError(t, err)
	assert.Equal(t, stream.KindRecord, kind)
}

func TestFormats_HashDiffersByVersion(t *testing.T) {
	record := unittest.TransactionRecordFixture()
	prior := unittest.HashFixture()

	hashes := make([]stream.HashObject, 0, 2)
	for _, version := range []uint32{format.VersionBlock, format.VersionRecord} {
		f, err := format.ByVersion(version)
		require.NoError(t, err)
		items, err := f.SerializeTransaction(record)
		require.NoError(t, err)
		h, err := f.ComputeNewHash(prior, items...)
		require.NoError(t, err)
		hashes = append(hashes, h)
	}
	assert.False(t, hashes[0].Equal(hashes[1]))
}

func TestByVersion_Unknown(t *testing.T) {
	_, err := format.ByVersion(99)
	require.ErrorIs(t, err, blockstream.ErrUnsupportedVersion)

	_, err = format.Describe(99, nil)
	require.ErrorIs(t, err, blockstream.ErrUnsupportedVersion)
}

func TestMetadataHash(t *testing.T) {
	start := unittest.HashFixture()
	end := unittest.HashFixture()

	h := format.MetadataHash(format.VersionBlock, start, end, 10)
	assert.Len(t, h, stream.SHA384Size)
	assert.Equal(t, h, format.MetadataHash(format.VersionBlock, start, end, 10))
	assert.NotEqual(t, h, format.MetadataHash(format.VersionBlock, start, end, 11))
}
