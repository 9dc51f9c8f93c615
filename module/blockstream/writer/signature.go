package writer

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/onflow/flow-go/crypto"
	"github.com/onflow/flow-go/crypto/hash"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module/blockstream/format"
)

const signatureFileExtension = ".sig"

// Signer signs the hashes a signature file commits to.
type Signer interface {
	Sign(message []byte) ([]byte, error)
}

// Verifier checks signatures made by a Signer.
type Verifier interface {
	Verify(message []byte, signature []byte) (bool, error)
}

// SignatureFile is stored next to a block file. It signs the hash of the block
// file as stored and the block's metadata hash, so the block can be checked
// both as a file and as a link of the chain. Sidecar files are covered through
// the hashes in the block footer.
type SignatureFile struct {
	BlockNumber       uint64            `cbor:"1,keyasint"`
	FileHash          stream.HashObject `cbor:"2,keyasint"`
	FileSignature     []byte            `cbor:"3,keyasint"`
	MetadataHash      []byte            `cbor:"4,keyasint"`
	MetadataSignature []byte            `cbor:"5,keyasint"`
}

// SignatureFileName returns the signature file of a block file.
func SignatureFileName(blockPath string) string {
	return blockPath + signatureFileExtension
}

func newSignatureFile(signer Signer, blockNumber uint64, fileHash stream.HashObject, metadataHash []byte) (*SignatureFile, error) {
	fileSignature, err := signer.Sign(fileHash.Hash)
	if err != nil {
		return nil, fmt.Errorf("could not sign file hash: %w", err)
	}
	metadataSignature, err := signer.Sign(metadataHash)
	if err != nil {
		return nil, fmt.Errorf("could not sign metadata hash: %w", err)
	}
	return &SignatureFile{
		BlockNumber:       blockNumber,
		FileHash:          fileHash,
		FileSignature:     fileSignature,
		MetadataHash:      metadataHash,
		MetadataSignature: metadataSignature,
	}, nil
}

// writeSignatureFile writes sig to path through a temporary file.
func writeSignatureFile(path string, sig *SignatureFile) error {
	data, err := format.EncMode.Marshal(sig)
	if err != nil {
		return fmt.Errorf("could not encode signature file: %w", err)
	}
	temp := path + tempFileSuffix
	if err := os.WriteFile(temp, data, 0644); err != nil {
		return fmt.Errorf("could not write signature file: %w", err)
	}
	if err := os.Rename(temp, path); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("could not move signature file into place: %w", err)
	}
	return nil
}

// ReadSignatureFile decodes a signature file.
func ReadSignatureFile(path string) (*SignatureFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read signature file: %w", err)
	}
	var sig SignatureFile
	if err := cbor.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("could not decode signature file %s: %w", path, err)
	}
	return &sig, nil
}

// VerifySignature checks the signature file of a block file against the block
// file on disk and its decoded contents.
func VerifySignature(blockPath string, contents *BlockContents, verifier Verifier) error {
	sig, err := ReadSignatureFile(SignatureFileName(blockPath))
	if err != nil {
		return err
	}
	if sig.BlockNumber != contents.Header.BlockNumber {
		return fmt.Errorf("signature file is for block %d, not %d", sig.BlockNumber, contents.Header.BlockNumber)
	}

	fileHash, err := hashFile(blockPath)
	if err != nil {
		return err
	}
	if !fileHash.Equal(sig.FileHash) {
		return fmt.Errorf("block %d: file hash does not match signature file", sig.BlockNumber)
	}
	if contents.Footer == nil || !bytes.Equal(contents.Footer.MetadataHash, sig.MetadataHash) {
		return fmt.Errorf("block %d: metadata hash does not match signature file", sig.BlockNumber)
	}

	for _, signed := range []struct {
		name      string
		message   []byte
		signature []byte
	}{
		{"file", sig.FileHash.Hash, sig.FileSignature},
		{"metadata", sig.MetadataHash, sig.MetadataSignature},
	} {
		valid, err := verifier.Verify(signed.message, signed.signature)
		if err != nil {
			return fmt.Errorf("could not verify %s signature of block %d: %w", signed.name, sig.BlockNumber, err)
		}
		if !valid {
			return fmt.Errorf("block %d: invalid %s signature", sig.BlockNumber, signed.name)
		}
	}
	return nil
}

// KeySigner signs with a flow-go crypto private key, hashing messages with
// SHA3-256.
type KeySigner struct {
	key crypto.PrivateKey
}

var _ Signer = (*KeySigner)(nil)

func NewKeySigner(key crypto.PrivateKey) *KeySigner {
	return &KeySigner{key: key}
}

func (s *KeySigner) Sign(message []byte) ([]byte, error) {
	return s.key.Sign(message, hash.NewSHA3_256())
}

// LoadKeySigner reads a hex encoded ECDSA P-256 private key from a file.
func LoadKeySigner(path string) (*KeySigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read signing key: %w", err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("could not decode signing key %s: %w", path, err)
	}
	key, err := crypto.DecodePrivateKey(crypto.ECDSAP256, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key %s: %w", path, err)
	}
	return NewKeySigner(key), nil
}

// Verifier returns a Verifier for the signer's public key.
func (s *KeySigner) Verifier() *KeyVerifier {
	return NewKeyVerifier(s.key.PublicKey())
}

// KeyVerifier verifies KeySigner signatures.
type KeyVerifier struct {
	key crypto.PublicKey
}

var _ Verifier = (*KeyVerifier)(nil)

func NewKeyVerifier(key crypto.PublicKey) *KeyVerifier {
	return &KeyVerifier{key: key}
}

// ParseKeyVerifier decodes a hex encoded ECDSA P-256 public key.
func ParseKeyVerifier(hexKey string) (*KeyVerifier, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("could not decode public key: %w", err)
	}
	key, err := crypto.DecodePublicKey(crypto.ECDSAP256, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return NewKeyVerifier(key), nil
}

func (v *KeyVerifier) Verify(message []byte, signature []byte) (bool, error) {
	return v.key.Verify(signature, message, hash.NewSHA3_256())
}
