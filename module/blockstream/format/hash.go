package format

import (
	"encoding/binary"
	"fmt"

	"github.com/onflow/flow-go/crypto/hash"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module/blockstream"
)

// chainHasher implements the running hash shared by all format versions:
//
//	current_i = H(current_{i-1} || hashingBytes(item_i))
type chainHasher struct{}

func (chainHasher) Algorithm() stream.HashAlgorithm {
	return stream.SHA2_384
}

func (chainHasher) NewHasher() hash.Hasher {
	return hash.NewSHA2_384()
}

func (c chainHasher) ComputeNewHash(prior stream.HashObject, items ...stream.SerializedItem) (stream.HashObject, error) {
	if len(items) == 0 {
		return prior, nil
	}
	return c.ComputeNewHashWithHasher(c.NewHasher(), prior, items...)
}

func (c chainHasher) ComputeNewHashWithHasher(hasher hash.Hasher, prior stream.HashObject, items ...stream.SerializedItem) (stream.HashObject, error) {
	if len(items) == 0 {
		return prior, nil
	}
	if prior.IsEmpty() {
		return stream.HashObject{}, blockstream.NewIllegalStatef("cannot extend an empty running hash")
	}

	current := prior.Hash
	for i, item := range items {
		hasher.Reset()
		if _, err := hasher.Write(current); err != nil {
			return stream.HashObject{}, fmt.Errorf("could not hash running hash for item %d: %w", i, err)
		}
		if _, err := hasher.Write(item.BytesForHashing()); err != nil {
			return stream.HashObject{}, fmt.Errorf("could not hash item %d: %w", i, err)
		}
		current = hasher.SumHash()
	}
	hasher.Reset()

	return stream.NewHashObject(c.Algorithm(), current), nil
}

// MetadataHash commits to a closed block: its format version, the running
// hashes it started and ended with, and its number.
func MetadataHash(version uint32, start stream.HashObject, end stream.HashObject, blockNumber uint64) []byte {
	hasher := hash.NewSHA2_384()
	_, _ = hasher.Write(binary.BigEndian.AppendUint32(nil, version))
	_, _ = hasher.Write(start.Hash)
	_, _ = hasher.Write(end.Hash)
	_, _ = hasher.Write(binary.BigEndian.AppendUint64(nil, blockNumber))
	return hasher.SumHash()
}
