package streaming

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v2"
	"github.com/gammazero/workerpool"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/onflow/flow-blockstream/config"
	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module"
	"github.com/onflow/flow-blockstream/module/blockstream/format"
	"github.com/onflow/flow-blockstream/module/blockstream/producer"
	"github.com/onflow/flow-blockstream/module/blockstream/writer"
	bstorage "github.com/onflow/flow-blockstream/storage/badger"
)

// Pipeline is a Manager together with the resources it was built on.
type Pipeline struct {
	*Manager
	Producer module.StreamProducer
	Writers  module.WriterFactory

	closers []func() error
}

// NewPipeline builds the format, writer factory, producer and checkpoint
// store selected by cfg. The returned pipeline has not been started.
func NewPipeline(
	ctx context.Context,
	log zerolog.Logger,
	metrics module.BlockStreamMetrics,
	cfg *config.BlockStreamConfig,
	genesis stream.RunningHashes,
) (*Pipeline, error) {
	p := &Pipeline{}
	err := p.build(ctx, log, metrics, cfg, genesis)
	if err != nil {
		return nil, multierror.Append(err, p.release()).ErrorOrNil()
	}
	return p, nil
}

func (p *Pipeline) build(
	ctx context.Context,
	log zerolog.Logger,
	metrics module.BlockStreamMetrics,
	cfg *config.BlockStreamConfig,
	genesis stream.RunningHashes,
) error {
	policy, err := producer.ParseWriteFailurePolicy(cfg.FailurePolicy)
	if err != nil {
		return err
	}
	f, err := format.ByVersion(cfg.FormatVersion)
	if err != nil {
		return err
	}

	writers, closeWriters, err := NewWriterFactory(ctx, log, metrics, cfg)
	if err != nil {
		return fmt.Errorf("could not create %s writer factory: %w", cfg.WriterKind, err)
	}
	p.Writers = writers
	p.closers = append(p.closers, closeWriters)

	db, err := badger.Open(badger.DefaultOptions(cfg.DataDir).WithLogger(nil))
	if err != nil {
		return fmt.Errorf("could not open checkpoint database in %s: %w", cfg.DataDir, err)
	}
	p.closers = append(p.closers, db.Close)

	opts := []producer.Option{
		producer.WithHistoryDepth(cfg.HistoryDepth),
		producer.WithWriteFailurePolicy(policy),
	}
	switch cfg.ProducerKind {
	case config.ProducerSync:
		p.Producer = producer.NewSyncProducer(log, metrics, f, writers, opts...)
	case config.ProducerPipelined:
		pool := workerpool.New(cfg.Workers)
		p.closers = append(p.closers, func() error {
			pool.StopWait()
			return nil
		})
		p.Producer = producer.NewPipelinedProducer(log, metrics, f, writers, pool, opts...)
	default:
		return fmt.Errorf("unknown producer %q", cfg.ProducerKind)
	}

	p.Manager = NewManager(log, p.Producer, bstorage.NewCheckpoints(db), genesis)
	log.Info().
		Str("producer", cfg.ProducerKind).
		Str("writer", cfg.WriterKind).
		Uint32("format_version", f.Version()).
		Str("failure_policy", policy.String()).
		Msg("block stream pipeline built")
	return nil
}

// Close closes the producer and releases everything the pipeline holds.
func (p *Pipeline) Close() error {
	var result *multierror.Error
	if p.Manager != nil {
		result = multierror.Append(result, p.Manager.Close())
	}
	result = multierror.Append(result, p.release())
	return result.ErrorOrNil()
}

// release runs the closers in reverse order of acquisition.
func (p *Pipeline) release() error {
	var result *multierror.Error
	for i := len(p.closers) - 1; i >= 0; i-- {
		result = multierror.Append(result, p.closers[i]())
	}
	p.closers = nil
	return result.ErrorOrNil()
}

func noClose() error {
	return nil
}

// NewWriterFactory creates the writer factory selected by cfg.WriterKind and
// the function releasing its resources.
func NewWriterFactory(
	ctx context.Context,
	log zerolog.Logger,
	metrics module.BlockStreamMetrics,
	cfg *config.BlockStreamConfig,
) (module.WriterFactory, func() error, error) {
	objectConfig := writer.ObjectWriterConfig{
		Prefix:               cfg.ObjectPrefix,
		IncludeRunningHashes: cfg.IncludeRunningHashes,
		UploadTimeout:        cfg.UploadTimeout,
		RetryInitialDelay:    cfg.UploadRetryDelay,
		MaxRetries:           cfg.UploadMaxRetries,
	}

	switch cfg.WriterKind {
	case config.WriterFile:
		fileConfig := writer.FileWriterConfig{
			IncludeRunningHashes: cfg.IncludeRunningHashes,
			MaxSidecarFileSize:   cfg.MaxSidecarFileSize,
			Compress:             cfg.CompressFiles,
		}
		if cfg.SigningKeyFile != "" {
			signer, err := writer.LoadKeySigner(cfg.SigningKeyFile)
			if err != nil {
				return nil, nil, err
			}
			fileConfig.Signer = signer
		}
		writers, err := writer.NewFileWriterFactory(log, metrics, cfg.BlockDir, fileConfig, writer.WithMinFreeBytes(cfg.MinFreeBytes))
		if err != nil {
			return nil, nil, err
		}
		return writers, noClose, nil

	case config.WriterGCS:
		store, err := writer.NewGCSStore(ctx, cfg.Bucket)
		if err != nil {
			return nil, nil, err
		}
		return writer.NewObjectWriterFactory(ctx, log, metrics, store, objectConfig), store.Close, nil

	case config.WriterS3:
		store, err := writer.NewS3Store(ctx, cfg.Bucket, cfg.Region)
		if err != nil {
			return nil, nil, err
		}
		return writer.NewObjectWriterFactory(ctx, log, metrics, store, objectConfig), noClose, nil

	case config.WriterGRPC:
		writers, err := writer.NewRemoteWriterFactory(ctx, log, metrics, cfg.Endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, err
		}
		return writers, writers.Close, nil

	case config.WriterMemory:
		return writer.NewMemoryWriterFactory(metrics), noClose, nil

	default:
		return nil, nil, fmt.Errorf("unknown writer %q", cfg.WriterKind)
	}
}
