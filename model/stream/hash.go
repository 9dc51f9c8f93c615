package stream

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// HashAlgorithm identifies the digest used to build a running hash chain.
type HashAlgorithm uint8

const (
	UnknownHashAlgorithm HashAlgorithm = iota
	SHA2_384
)

// SHA384Size is the output length of SHA2-384, in bytes.
const SHA384Size = 48

func (a HashAlgorithm) String() string {
	switch a {
	case SHA2_384:
		return "SHA2_384"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(a))
	}
}

// Size returns the digest length produced by the algorithm, or 0 when unknown.
func (a HashAlgorithm) Size() int {
	if a == SHA2_384 {
		return SHA384Size
	}
	return 0
}

// HashObject is a hash value together with the algorithm that produced it and
// its declared length.
type HashObject struct {
	Algorithm HashAlgorithm `cbor:"1,keyasint" msgpack:"algorithm"`
	Length    uint32        `cbor:"2,keyasint" msgpack:"length"`
	Hash      []byte        `cbor:"3,keyasint" msgpack:"hash"`
}

// NewHashObject wraps raw digest bytes. The bytes are copied.
func NewHashObject(algo HashAlgorithm, h []byte) HashObject {
	cp := make([]byte, len(h))
	copy(cp, h)
	return HashObject{
		Algorithm: algo,
		Length:    uint32(len(cp)),
		Hash:      cp,
	}
}

// ZeroHash returns a hash of n zero bytes. It is used as the genesis running
// hash of a stream.
func ZeroHash(algo HashAlgorithm, n int) HashObject {
	return HashObject{
		Algorithm: algo,
		Length:    uint32(n),
		Hash:      make([]byte, n),
	}
}

// IsEmpty returns true if no hash bytes are present.
func (h HashObject) IsEmpty() bool {
	return len(h.Hash) == 0
}

// Equal compares algorithm and hash bytes.
func (h HashObject) Equal(other HashObject) bool {
	return h.Algorithm == other.Algorithm && bytes.Equal(h.Hash, other.Hash)
}

func (h HashObject) Hex() string {
	return hex.EncodeToString(h.Hash)
}

func (h HashObject) String() string {
	if h.IsEmpty() {
		return "<empty>"
	}
	return fmt.Sprintf("%s:%s", h.Algorithm, h.Hex())
}
