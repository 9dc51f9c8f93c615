package writer

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/onflow/flow-blockstream/module"
	"github.com/onflow/flow-blockstream/module/blockstream"
)

// FreeSpaceFunc reports the free bytes on the file system holding dir.
type FreeSpaceFunc func(dir string) (uint64, error)

func diskFreeSpace(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

type FileFactoryOption func(*FileWriterFactory)

// WithFreeSpaceFunc replaces the disk free space lookup.
func WithFreeSpaceFunc(fn FreeSpaceFunc) FileFactoryOption {
	return func(f *FileWriterFactory) {
		f.freeSpace = fn
	}
}

// WithMinFreeBytes sets the free space below which no new block file is started.
func WithMinFreeBytes(n uint64) FileFactoryOption {
	return func(f *FileWriterFactory) {
		f.minFreeBytes = n
	}
}

// FileWriterFactory creates FileWriters in a single directory.
type FileWriterFactory struct {
	log          zerolog.Logger
	metrics      module.BlockStreamMetrics
	dir          string
	config       FileWriterConfig
	minFreeBytes uint64
	freeSpace    FreeSpaceFunc
}

var _ module.WriterFactory = (*FileWriterFactory)(nil)

// NewFileWriterFactory creates the output directory if needed.
func NewFileWriterFactory(
	log zerolog.Logger,
	metrics module.BlockStreamMetrics,
	dir string,
	config FileWriterConfig,
	opts ...FileFactoryOption,
) (*FileWriterFactory, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create block directory %s: %w", dir, err)
	}
	f := &FileWriterFactory{
		log:       log,
		metrics:   metrics,
		dir:       dir,
		config:    config,
		freeSpace: diskFreeSpace,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Create returns a new FileWriter.
// Expected errors:
//   - blockstream.ErrStorageExhausted if the directory is low on space
func (f *FileWriterFactory) Create() (module.StreamWriter, error) {
	if f.minFreeBytes > 0 {
		free, err := f.freeSpace(f.dir)
		if err != nil {
			return nil, fmt.Errorf("could not check free space of %s: %w", f.dir, err)
		}
		if free < f.minFreeBytes {
			return nil, fmt.Errorf("%d bytes free in %s, need %d: %w", free, f.dir, f.minFreeBytes, blockstream.ErrStorageExhausted)
		}
	}
	return NewFileWriter(f.log, f.metrics, f.dir, f.config), nil
}
