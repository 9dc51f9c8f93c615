package writer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module/blockstream/format"
)

// ReadBlockFile decodes a block file written by a FileWriter.
func ReadBlockFile(path string) (*BlockContents, error) {
	r, closer, err := fileSource(path)
	if err != nil {
		return nil, fmt.Errorf("could not open block file: %w", err)
	}
	defer closer.Close()

	contents, err := DecodeBlock(r)
	if err != nil {
		return nil, fmt.Errorf("could not decode block file %s: %w", path, err)
	}
	return contents, nil
}

func isBlockFile(name string) bool {
	return strings.HasSuffix(name, blockFileExtension) ||
		strings.HasSuffix(name, blockFileExtension+CompressedSuffix)
}

func isSidecarFile(name string) bool {
	return strings.HasSuffix(name, sidecarFileExtension) ||
		strings.HasSuffix(name, sidecarFileExtension+CompressedSuffix)
}

// ListBlockFiles returns the complete block files in dir, ordered by block number.
func ListBlockFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not list %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !isBlockFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	// zero padded names sort by block number
	sort.Strings(files)
	return files, nil
}

// ListSidecarFiles returns the sidecar files of one block in roll order.
func ListSidecarFiles(dir string, blockNumber uint64) ([]string, error) {
	pattern := filepath.Join(dir, fmt.Sprintf("%036d_*%s*", blockNumber, sidecarFileExtension))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("could not list sidecar files of block %d: %w", blockNumber, err)
	}
	var files []string
	for _, path := range matches {
		if isSidecarFile(path) {
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files, nil
}

// ReadSidecarFile decodes every sidecar frame of a sidecar file.
func ReadSidecarFile(path string) ([]SidecarFrame, error) {
	r, closer, err := fileSource(path)
	if err != nil {
		return nil, fmt.Errorf("could not open sidecar file: %w", err)
	}
	defer closer.Close()

	dec := cbor.NewDecoder(r)
	var frames []SidecarFrame
	for {
		var frame SidecarFrame
		err := dec.Decode(&frame)
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return nil, fmt.Errorf("could not decode sidecar %d of %s: %w", len(frames), path, err)
		}
		frames = append(frames, frame)
	}
}

// VerifySidecars checks the sidecar files of a block in dir against the
// hashes in its footer. Missing, extra and modified sidecar files all fail.
func VerifySidecars(dir string, contents *BlockContents) error {
	blockNumber := contents.Header.BlockNumber
	if contents.Footer == nil {
		return fmt.Errorf("block %d has no footer", blockNumber)
	}
	files, err := ListSidecarFiles(dir, blockNumber)
	if err != nil {
		return err
	}
	expected := contents.Footer.Sidecars
	if len(files) != len(expected) {
		return fmt.Errorf("block %d: footer lists %d sidecar files, found %d", blockNumber, len(expected), len(files))
	}

	byName := make(map[string]string, len(files))
	for _, path := range files {
		byName[strings.TrimSuffix(filepath.Base(path), CompressedSuffix)] = path
	}
	for _, sidecar := range expected {
		path, ok := byName[SidecarFileName(blockNumber, int(sidecar.Index))]
		if !ok {
			return fmt.Errorf("block %d: sidecar file %d is missing", blockNumber, sidecar.Index)
		}
		fileHash, err := hashFile(path)
		if err != nil {
			return err
		}
		if !fileHash.Equal(sidecar.FileHash) {
			return fmt.Errorf("block %d: sidecar file %d does not match its hash", blockNumber, sidecar.Index)
		}
	}
	return nil
}

// VerifyBlockFile reads a block file and verifies both the block and its
// sidecar files. It returns the end running hash of the block.
func VerifyBlockFile(path string) (*BlockContents, stream.HashObject, error) {
	contents, err := ReadBlockFile(path)
	if err != nil {
		return nil, stream.HashObject{}, err
	}
	end, err := VerifyBlock(contents)
	if err != nil {
		return nil, stream.HashObject{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := VerifySidecars(filepath.Dir(path), contents); err != nil {
		return nil, stream.HashObject{}, fmt.Errorf("%s: %w", path, err)
	}
	return contents, end, nil
}

// VerifyBlock re-derives the running hash chain of a decoded block and checks
// it against the stored running hashes, footer and metadata hash. It returns
// the end running hash of the block.
func VerifyBlock(contents *BlockContents) (stream.HashObject, error) {
	header := contents.Header
	if contents.Footer == nil {
		return stream.HashObject{}, fmt.Errorf("block %d has no footer", header.BlockNumber)
	}

	f, err := format.ByVersion(header.Version)
	if err != nil {
		return stream.HashObject{}, err
	}

	hasher := f.NewHasher()
	current := header.StartRunningHash
	for i, item := range contents.Items {
		current, err = f.ComputeNewHashWithHasher(hasher, current, item.SerializedItem())
		if err != nil {
			return stream.HashObject{}, fmt.Errorf("could not hash item %d of block %d: %w", i, header.BlockNumber, err)
		}
		if item.RunningHash != nil && !bytes.Equal(item.RunningHash, current.Hash) {
			return stream.HashObject{}, fmt.Errorf("running hash mismatch at item %d of block %d", i, header.BlockNumber)
		}
	}

	footer := contents.Footer
	if footer.BlockNumber != header.BlockNumber {
		return stream.HashObject{}, fmt.Errorf("footer block number %d does not match header %d", footer.BlockNumber, header.BlockNumber)
	}
	if footer.ItemCount != uint64(len(contents.Items)) {
		return stream.HashObject{}, fmt.Errorf("block %d: footer counts %d items, found %d", header.BlockNumber, footer.ItemCount, len(contents.Items))
	}
	if !footer.EndRunningHash.Equal(current) {
		return stream.HashObject{}, fmt.Errorf("block %d: end running hash %s does not match computed %s", header.BlockNumber, footer.EndRunningHash, current)
	}
	metadata := format.MetadataHash(header.Version, header.StartRunningHash, footer.EndRunningHash, header.BlockNumber)
	if !bytes.Equal(metadata, footer.MetadataHash) {
		return stream.HashObject{}, fmt.Errorf("block %d: metadata hash mismatch", header.BlockNumber)
	}
	return current, nil
}

// ChainReport summarizes a verified sequence of blocks.
type ChainReport struct {
	FirstBlock uint64
	LastBlock  uint64
	Blocks     int
	Items      int
	EndHash    stream.HashObject
}

// VerifyChain verifies every block file and its sidecar files in order and checks that each block
// starts where the previous one ended. onBlock, if not nil, is called after
// each verified block.
func VerifyChain(paths []string, onBlock func(contents *BlockContents)) (*ChainReport, error) {
	report := &ChainReport{}
	var previous *BlockContents
	for _, path := range paths {
		contents, end, err := VerifyBlockFile(path)
		if err != nil {
			return report, err
		}

		if previous != nil {
			if contents.Header.BlockNumber != previous.Header.BlockNumber+1 {
				return report, fmt.Errorf("block %d follows block %d", contents.Header.BlockNumber, previous.Header.BlockNumber)
			}
			if !contents.Header.StartRunningHash.Equal(previous.Footer.EndRunningHash) {
				return report, fmt.Errorf("block %d does not start at the end hash of block %d", contents.Header.BlockNumber, previous.Header.BlockNumber)
			}
		} else {
			report.FirstBlock = contents.Header.BlockNumber
		}

		report.LastBlock = contents.Header.BlockNumber
		report.Blocks++
		report.Items += len(contents.Items)
		report.EndHash = end
		previous = contents
		if onBlock != nil {
			onBlock(contents)
		}
	}
	return report, nil
}
