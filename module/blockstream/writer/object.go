package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module"
	"github.com/onflow/flow-blockstream/module/blockstream"
)

// ObjectStore stores whole objects under a key.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	// Kind names the store for logs and metrics.
	Kind() string
}

type ObjectWriterConfig struct {
	Prefix               string
	IncludeRunningHashes bool
	UploadTimeout        time.Duration
	RetryInitialDelay    time.Duration
	MaxRetries           uint64
}

func DefaultObjectWriterConfig() ObjectWriterConfig {
	return ObjectWriterConfig{
		UploadTimeout:     time.Minute,
		RetryInitialDelay: 500 * time.Millisecond,
		MaxRetries:        5,
	}
}

// ObjectWriter buffers a block in memory and uploads it as a single object
// when the block is closed. Sidecars of the block are uploaded as a second
// object next to it.
type ObjectWriter struct {
	ctx       context.Context
	log       zerolog.Logger
	metrics   module.BlockStreamMetrics
	store     ObjectStore
	config    ObjectWriterConfig
	lifecycle lifecycle

	blockNumber uint64
	buf         bytes.Buffer
	frames      *frameEncoder
	sidecarBuf  bytes.Buffer
	sidecarEnc  *frameEncoder
}

var _ module.StreamWriter = (*ObjectWriter)(nil)

func NewObjectWriter(ctx context.Context, log zerolog.Logger, metrics module.BlockStreamMetrics, store ObjectStore, config ObjectWriterConfig) *ObjectWriter {
	w := &ObjectWriter{
		ctx:       ctx,
		log:       log.With().Str("writer", store.Kind()).Logger(),
		metrics:   metrics,
		store:     store,
		config:    config,
		lifecycle: newLifecycle(),
	}
	w.frames = newFrameEncoder(&w.buf, config.IncludeRunningHashes)
	w.sidecarEnc = newFrameEncoder(&w.sidecarBuf, false)
	return w
}

func (w *ObjectWriter) Init(version uint32, startHash stream.HashObject, startTime time.Time, blockNumber uint64) error {
	if err := w.lifecycle.open(); err != nil {
		return err
	}
	w.blockNumber = blockNumber
	if err := w.frames.writeHeader(version, startHash, startTime, blockNumber); err != nil {
		return blockstream.NewWriteError(blockNumber, "init", err)
	}
	w.metrics.BlockOpened(blockNumber)
	return nil
}

func (w *ObjectWriter) WriteItem(item stream.SerializedItem, runningHash stream.HashObject) error {
	if err := w.lifecycle.checkOpen(); err != nil {
		return err
	}
	index := w.frames.items
	if err := w.frames.writeItem(item, runningHash); err != nil {
		return blockstream.NewWriteError(w.blockNumber, "write", err)
	}
	w.metrics.ItemWritten(w.store.Kind(), len(item.Bytes))

	for _, sidecar := range item.Sidecars {
		err := w.sidecarEnc.enc.Encode(SidecarFrame{
			BlockNumber: w.blockNumber,
			ItemIndex:   index,
			Kind:        uint8(sidecar.Record.Kind),
			Bytes:       sidecar.Bytes,
		})
		if err != nil {
			return blockstream.NewWriteError(w.blockNumber, "sidecar", err)
		}
		w.metrics.SidecarWritten(w.store.Kind(), len(sidecar.Bytes))
	}
	return nil
}

func (w *ObjectWriter) Close(endHash stream.HashObject) error {
	closeNeeded, err := w.lifecycle.close()
	if err != nil || !closeNeeded {
		return err
	}

	var sidecars []SidecarMetadata
	if w.sidecarBuf.Len() > 0 {
		sidecars = append(sidecars, SidecarMetadata{Index: 1, FileHash: hashBytes(w.sidecarBuf.Bytes())})
	}
	if err := w.frames.writeFooter(endHash, sidecars); err != nil {
		return blockstream.NewWriteError(w.blockNumber, "close", err)
	}

	start := time.Now()
	if w.sidecarBuf.Len() > 0 {
		key := path.Join(w.config.Prefix, SidecarFileName(w.blockNumber, 1))
		if err := w.upload(key, w.sidecarBuf.Bytes()); err != nil {
			w.metrics.WriteFailed(w.store.Kind(), "close")
			return blockstream.NewWriteError(w.blockNumber, "close", err)
		}
	}

	key := path.Join(w.config.Prefix, BlockFileName(w.blockNumber))
	if err := w.upload(key, w.buf.Bytes()); err != nil {
		w.metrics.WriteFailed(w.store.Kind(), "close")
		return blockstream.NewWriteError(w.blockNumber, "close", err)
	}

	w.metrics.BlockClosed(w.blockNumber, int(w.frames.items), time.Since(start))
	w.log.Debug().
		Uint64("block_number", w.blockNumber).
		Str("key", key).
		Int("size", w.buf.Len()).
		Msg("block uploaded")
	return nil
}

// upload puts the object, retrying with exponential backoff.
func (w *ObjectWriter) upload(key string, data []byte) error {
	backoff, err := retry.NewExponential(w.config.RetryInitialDelay)
	if err != nil {
		return fmt.Errorf("could not create backoff: %w", err)
	}
	backoff = retry.WithMaxRetries(w.config.MaxRetries, backoff)

	start := time.Now()
	attempt := 0
	err = retry.Do(w.ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			w.metrics.UploadRetried(w.store.Kind())
		}

		uploadCtx, cancel := context.WithTimeout(ctx, w.config.UploadTimeout)
		defer cancel()

		if err := w.store.Put(uploadCtx, key, data); err != nil {
			w.log.Warn().Err(err).Str("key", key).Int("attempt", attempt).Msg("block upload failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("could not upload %s after %d attempts: %w", key, attempt, err)
	}
	w.metrics.UploadFinished(w.store.Kind(), time.Since(start), len(data))
	return nil
}

// ObjectWriterFactory creates ObjectWriters for one store.
type ObjectWriterFactory struct {
	ctx     context.Context
	log     zerolog.Logger
	metrics module.BlockStreamMetrics
	store   ObjectStore
	config  ObjectWriterConfig
}

var _ module.WriterFactory = (*ObjectWriterFactory)(nil)

func NewObjectWriterFactory(ctx context.Context, log zerolog.Logger, metrics module.BlockStreamMetrics, store ObjectStore, config ObjectWriterConfig) *ObjectWriterFactory {
	return &ObjectWriterFactory{
		ctx:     ctx,
		log:     log,
		metrics: metrics,
		store:   store,
		config:  config,
	}
}

func (f *ObjectWriterFactory) Create() (module.StreamWriter, error) {
	if err := f.ctx.Err(); err != nil {
		return nil, fmt.Errorf("cannot create %s writer: %w", f.store.Kind(), err)
	}
	return NewObjectWriter(f.ctx, f.log, f.metrics, f.store, f.config), nil
}
