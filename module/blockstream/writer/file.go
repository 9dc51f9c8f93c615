package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module"
	"github.com/onflow/flow-blockstream/module/blockstream"
	"github.com/onflow/flow-blockstream/module/blockstream/format"
)

const (
	blockFileExtension   = ".blk"
	sidecarFileExtension = ".sidecar"
	tempFileSuffix       = ".tmp"

	KindFile = "file"
)

// BlockFileName returns the name of the file holding the given block.
func BlockFileName(blockNumber uint64) string {
	return fmt.Sprintf("%036d%s", blockNumber, blockFileExtension)
}

// SidecarFileName returns the name of the index-th sidecar file of a block.
// Indexes start at 1.
func SidecarFileName(blockNumber uint64, index int) string {
	return fmt.Sprintf("%036d_%02d%s", blockNumber, index, sidecarFileExtension)
}

type FileWriterConfig struct {
	// IncludeRunningHashes stores the running hash after every item next to it.
	IncludeRunningHashes bool
	// MaxSidecarFileSize is the size in bytes after which a new sidecar file is
	// started. Zero disables the limit.
	MaxSidecarFileSize int64
	// Compress stores block and sidecar files snappy framed. Their names carry
	// CompressedSuffix.
	Compress bool
	// Signer, if set, signs every closed block into a signature file next to
	// the block file.
	Signer Signer
}

// FileWriter writes one block into a file in a directory. The block is written
// to a temporary file which is renamed into place once the block is closed,
// so a block file that exists is always complete. The footer of the block
// file carries the hash of every sidecar file of the block.
type FileWriter struct {
	log       zerolog.Logger
	metrics   module.BlockStreamMetrics
	dir       string
	config    FileWriterConfig
	lifecycle lifecycle

	blockNumber uint64
	openedAt    time.Time
	sink        *fileSink
	frames      *frameEncoder
	sidecars    *sidecarWriter
}

var _ module.StreamWriter = (*FileWriter)(nil)

func NewFileWriter(log zerolog.Logger, metrics module.BlockStreamMetrics, dir string, config FileWriterConfig) *FileWriter {
	return &FileWriter{
		log:       log.With().Str("writer", KindFile).Logger(),
		metrics:   metrics,
		dir:       dir,
		config:    config,
		lifecycle: newLifecycle(),
	}
}

func (w *FileWriter) Init(version uint32, startHash stream.HashObject, startTime time.Time, blockNumber uint64) error {
	if err := w.lifecycle.open(); err != nil {
		return err
	}

	w.blockNumber = blockNumber
	w.openedAt = time.Now()
	w.log = w.log.With().Uint64("block_number", blockNumber).Logger()

	path := w.tempPath()
	sink, err := createSink(path, w.config.Compress)
	if err != nil {
		w.metrics.WriteFailed(KindFile, "init")
		return blockstream.NewWriteError(blockNumber, "init", fmt.Errorf("could not create block file %s: %w", path, err))
	}
	w.sink = sink
	w.frames = newFrameEncoder(sink, w.config.IncludeRunningHashes)
	w.sidecars = newSidecarWriter(w.dir, blockNumber, w.config.MaxSidecarFileSize, w.config.Compress)

	if err := w.frames.writeHeader(version, startHash, startTime, blockNumber); err != nil {
		w.metrics.WriteFailed(KindFile, "init")
		return blockstream.NewWriteError(blockNumber, "init", err)
	}

	w.metrics.BlockOpened(blockNumber)
	w.log.Debug().Str("path", path).Msg("block file opened")
	return nil
}

func (w *FileWriter) WriteItem(item stream.SerializedItem, runningHash stream.HashObject) error {
	if err := w.lifecycle.checkOpen(); err != nil {
		return err
	}

	index := w.frames.items
	if err := w.frames.writeItem(item, runningHash); err != nil {
		w.metrics.WriteFailed(KindFile, "write")
		return blockstream.NewWriteError(w.blockNumber, "write", err)
	}
	w.metrics.ItemWritten(KindFile, len(item.Bytes))

	for _, sidecar := range item.Sidecars {
		n, err := w.sidecars.write(index, sidecar)
		if err != nil {
			w.metrics.WriteFailed(KindFile, "sidecar")
			return blockstream.NewWriteError(w.blockNumber, "sidecar", err)
		}
		w.metrics.SidecarWritten(KindFile, n)
	}
	return nil
}

// Close completes the block. Sidecar files are closed first so the footer can
// commit to their hashes, then the block file is synced, signed if a signer is
// configured, and moved into place. If any step fails, every file of the block
// is removed.
func (w *FileWriter) Close(endHash stream.HashObject) error {
	closeNeeded, err := w.lifecycle.close()
	if err != nil || !closeNeeded {
		return err
	}
	if w.sink == nil {
		// init failed before anything was created
		return nil
	}

	if err := w.complete(endHash); err != nil {
		w.discard()
		w.metrics.WriteFailed(KindFile, "close")
		return blockstream.NewWriteError(w.blockNumber, "close", err)
	}

	w.metrics.BlockClosed(w.blockNumber, int(w.frames.items), time.Since(w.openedAt))
	w.log.Debug().
		Uint64("items", w.frames.items).
		Int("sidecar_files", len(w.sidecars.paths)).
		Str("end_hash", endHash.Hex()).
		Msg("block file closed")
	return nil
}

func (w *FileWriter) complete(endHash stream.HashObject) error {
	var result *multierror.Error
	sidecars, err := w.sidecars.close()
	if err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.frames.writeFooter(endHash, sidecars); err != nil {
		result = multierror.Append(result, err)
	}
	fileHash, err := w.sink.close(true)
	if err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}

	if w.config.Signer != nil {
		sig, err := newSignatureFile(w.config.Signer, w.blockNumber, fileHash, w.frames.metadataHash(endHash))
		if err != nil {
			return err
		}
		if err := writeSignatureFile(SignatureFileName(w.finalPath()), sig); err != nil {
			return err
		}
	}

	if err := os.Rename(w.tempPath(), w.finalPath()); err != nil {
		return fmt.Errorf("could not move block file into place: %w", err)
	}
	return nil
}

// discard removes whatever a failed close left behind, so no sidecar or
// signature file exists without its block file.
func (w *FileWriter) discard() {
	paths := append([]string{w.tempPath(), SignatureFileName(w.finalPath())}, w.sidecars.paths...)
	for _, path := range paths {
		err := os.Remove(path)
		if err != nil && !os.IsNotExist(err) {
			w.log.Warn().Err(err).Str("path", path).Msg("could not remove file of failed block")
		}
	}
}

func (w *FileWriter) finalPath() string {
	return filepath.Join(w.dir, BlockFileName(w.blockNumber)+w.suffix())
}

func (w *FileWriter) tempPath() string {
	return w.finalPath() + tempFileSuffix
}

func (w *FileWriter) suffix() string {
	if w.config.Compress {
		return CompressedSuffix
	}
	return ""
}

// sidecarWriter writes the sidecars of one block, starting a new file whenever
// the current one exceeds the size limit. Files are only created once there
// is a sidecar to write.
type sidecarWriter struct {
	dir         string
	blockNumber uint64
	maxSize     int64
	compress    bool

	index    int
	size     int64
	sink     *fileSink
	encoder  *cbor.Encoder
	paths    []string
	metadata []SidecarMetadata
}

func newSidecarWriter(dir string, blockNumber uint64, maxSize int64, compress bool) *sidecarWriter {
	return &sidecarWriter{
		dir:         dir,
		blockNumber: blockNumber,
		maxSize:     maxSize,
		compress:    compress,
	}
}

func (s *sidecarWriter) write(itemIndex uint64, sidecar stream.SerializedSidecar) (int, error) {
	if s.sink == nil || (s.maxSize > 0 && s.size >= s.maxSize) {
		if err := s.roll(); err != nil {
			return 0, err
		}
	}
	err := s.encoder.Encode(SidecarFrame{
		BlockNumber: s.blockNumber,
		ItemIndex:   itemIndex,
		Kind:        uint8(sidecar.Record.Kind),
		Bytes:       sidecar.Bytes,
	})
	if err != nil {
		return 0, fmt.Errorf("could not write sidecar for item %d: %w", itemIndex, err)
	}
	s.size += int64(len(sidecar.Bytes))
	return len(sidecar.Bytes), nil
}

func (s *sidecarWriter) roll() error {
	if err := s.closeCurrent(); err != nil {
		return err
	}
	s.index++
	name := SidecarFileName(s.blockNumber, s.index)
	if s.compress {
		name += CompressedSuffix
	}
	path := filepath.Join(s.dir, name)
	sink, err := createSink(path, s.compress)
	if err != nil {
		return fmt.Errorf("could not create sidecar file %s: %w", path, err)
	}
	s.paths = append(s.paths, path)
	s.sink = sink
	s.encoder = format.EncMode.NewEncoder(sink)
	s.size = 0
	return nil
}

func (s *sidecarWriter) closeCurrent() error {
	if s.sink == nil {
		return nil
	}
	sink := s.sink
	s.sink = nil
	fileHash, err := sink.close(true)
	if err != nil {
		return fmt.Errorf("could not close sidecar file: %w", err)
	}
	s.metadata = append(s.metadata, SidecarMetadata{
		Index:    uint32(s.index),
		FileHash: fileHash,
	})
	return nil
}

// close closes the current sidecar file and returns the hashes of every
// sidecar file of the block.
func (s *sidecarWriter) close() ([]SidecarMetadata, error) {
	if err := s.closeCurrent(); err != nil {
		return nil, err
	}
	return s.metadata, nil
}
