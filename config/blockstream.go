// Package config holds the configuration of the block stream pipeline and its
// command line and viper bindings.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	ProducerSync      = "sync"
	ProducerPipelined = "pipelined"

	WriterFile   = "file"
	WriterGCS    = "gcs"
	WriterS3     = "s3"
	WriterGRPC   = "grpc"
	WriterMemory = "memory"
)

const (
	// All constant strings are used for CLI flag names and corresponding keys for config values.
	producerKind         = "blockstream-producer"
	writerKind           = "blockstream-writer"
	formatVersion        = "blockstream-format-version"
	historyDepth         = "blockstream-history-depth"
	workers              = "blockstream-workers"
	failurePolicy        = "blockstream-failure-policy"
	blockDir             = "blockstream-block-dir"
	dataDir              = "blockstream-data-dir"
	includeRunningHashes = "blockstream-include-running-hashes"
	maxSidecarFileSize   = "blockstream-max-sidecar-file-size"
	minFreeBytes         = "blockstream-min-free-bytes"
	compressFiles        = "blockstream-compress-files"
	signingKeyFile       = "blockstream-signing-key-file"
	bucket               = "blockstream-bucket"
	objectPrefix         = "blockstream-object-prefix"
	region               = "blockstream-region"
	uploadTimeout        = "blockstream-upload-timeout"
	uploadRetryDelay     = "blockstream-upload-retry-delay"
	uploadMaxRetries     = "blockstream-upload-max-retries"
	endpoint             = "blockstream-endpoint"
)

// BlockStreamConfig selects and configures the producer, the block format and
// the writer of a block stream.
type BlockStreamConfig struct {
	ProducerKind  string `validate:"oneof=sync pipelined" mapstructure:"blockstream-producer"`
	WriterKind    string `validate:"oneof=file gcs s3 grpc memory" mapstructure:"blockstream-writer"`
	FormatVersion uint32 `validate:"oneof=6 7" mapstructure:"blockstream-format-version"`
	// HistoryDepth is the number of running hashes kept, including the current one.
	HistoryDepth int `validate:"gte=4" mapstructure:"blockstream-history-depth"`
	// Workers is the size of the pipelined producer's worker pool.
	Workers       int    `validate:"gt=0" mapstructure:"blockstream-workers"`
	FailurePolicy string `validate:"oneof=fail-fast log-and-continue" mapstructure:"blockstream-failure-policy"`

	// DataDir holds the checkpoint database.
	DataDir              string `validate:"required" mapstructure:"blockstream-data-dir"`
	BlockDir             string `mapstructure:"blockstream-block-dir"`
	IncludeRunningHashes bool   `mapstructure:"blockstream-include-running-hashes"`
	MaxSidecarFileSize   int64  `validate:"gte=0" mapstructure:"blockstream-max-sidecar-file-size"`
	MinFreeBytes         uint64 `mapstructure:"blockstream-min-free-bytes"`
	CompressFiles        bool   `mapstructure:"blockstream-compress-files"`
	// SigningKeyFile holds a hex encoded ECDSA P-256 private key. When set,
	// every block file is signed.
	SigningKeyFile string `mapstructure:"blockstream-signing-key-file"`

	Bucket           string        `mapstructure:"blockstream-bucket"`
	ObjectPrefix     string        `mapstructure:"blockstream-object-prefix"`
	Region           string        `mapstructure:"blockstream-region"`
	UploadTimeout    time.Duration `validate:"gt=0" mapstructure:"blockstream-upload-timeout"`
	UploadRetryDelay time.Duration `validate:"gt=0" mapstructure:"blockstream-upload-retry-delay"`
	UploadMaxRetries uint64        `mapstructure:"blockstream-upload-max-retries"`

	// Endpoint is the address of the block node a grpc writer streams to.
	Endpoint string `mapstructure:"blockstream-endpoint"`
}

// DefaultBlockStreamConfig returns the configuration used when no flags are set.
func DefaultBlockStreamConfig() *BlockStreamConfig {
	return &BlockStreamConfig{
		ProducerKind:       ProducerPipelined,
		WriterKind:         WriterFile,
		FormatVersion:      7,
		HistoryDepth:       4,
		Workers:            4,
		FailurePolicy:      "fail-fast",
		DataDir:            "/data/blockstream",
		BlockDir:           "/data/blockstream/blocks",
		MaxSidecarFileSize: 256 << 20,
		MinFreeBytes:       1 << 30,
		UploadTimeout:      time.Minute,
		UploadRetryDelay:   500 * time.Millisecond,
		UploadMaxRetries:   5,
	}
}

func AllFlagNames() []string {
	return []string{
		producerKind, writerKind, formatVersion, historyDepth, workers, failurePolicy, blockDir, dataDir,
		includeRunningHashes, maxSidecarFileSize, minFreeBytes, compressFiles, signingKeyFile, bucket, objectPrefix, region,
		uploadTimeout, uploadRetryDelay, uploadMaxRetries, endpoint,
	}
}

// InitializeBlockStreamFlags initializes all CLI flags of the block stream
// configuration on the provided pflag set, using config for the default values.
func InitializeBlockStreamFlags(flags *pflag.FlagSet, config *BlockStreamConfig) {
	flags.String(producerKind, config.ProducerKind, "block stream producer, one of: sync, pipelined")
	flags.String(writerKind, config.WriterKind, "where blocks are written, one of: file, gcs, s3, grpc, memory")
	flags.Uint32(formatVersion, config.FormatVersion, "block stream format version (6 = record stream, 7 = block stream)")
	flags.Int(historyDepth, config.HistoryDepth, "number of running hashes kept, including the current one")
	flags.Int(workers, config.Workers, "number of workers of the pipelined producer")
	flags.String(failurePolicy, config.FailurePolicy, "what to do when a writer fails, one of: fail-fast, log-and-continue")
	flags.String(dataDir, config.DataDir, "directory of the checkpoint database")
	flags.String(blockDir, config.BlockDir, "directory block files are written to")
	flags.Bool(includeRunningHashes, config.IncludeRunningHashes, "store the running hash after every item")
	flags.Int64(maxSidecarFileSize, config.MaxSidecarFileSize, "size in bytes after which a new sidecar file is started, 0 disables the limit")
	flags.Uint64(minFreeBytes, config.MinFreeBytes, "free disk space in bytes below which no new block file is started")
	flags.Bool(compressFiles, config.CompressFiles, "store block and sidecar files snappy compressed")
	flags.String(signingKeyFile, config.SigningKeyFile, "file holding a hex encoded ECDSA P-256 key used to sign block files")
	flags.String(bucket, config.Bucket, "bucket blocks are uploaded to by the gcs and s3 writers")
	flags.String(objectPrefix, config.ObjectPrefix, "prefix of uploaded object keys")
	flags.String(region, config.Region, "s3 region")
	flags.Duration(uploadTimeout, config.UploadTimeout, "timeout of a single object upload")
	flags.Duration(uploadRetryDelay, config.UploadRetryDelay, "initial delay between upload retries, doubled after every failure")
	flags.Uint64(uploadMaxRetries, config.UploadMaxRetries, "number of upload retries before a block upload fails")
	flags.String(endpoint, config.Endpoint, "address of the block node the grpc writer streams to")
}

// Validate checks the field constraints plus the settings required by the
// selected writer.
func (c *BlockStreamConfig) Validate() error {
	err := validator.New().Struct(c)
	if err != nil {
		return fmt.Errorf("invalid block stream configuration: %w", err)
	}
	switch c.WriterKind {
	case WriterFile:
		if c.BlockDir == "" {
			return fmt.Errorf("invalid block stream configuration: %s is required by the file writer", blockDir)
		}
	case WriterGCS, WriterS3:
		if c.Bucket == "" {
			return fmt.Errorf("invalid block stream configuration: %s is required by the %s writer", bucket, c.WriterKind)
		}
		if c.WriterKind == WriterS3 && c.Region == "" {
			return fmt.Errorf("invalid block stream configuration: %s is required by the s3 writer", region)
		}
	case WriterGRPC:
		if c.Endpoint == "" {
			return fmt.Errorf("invalid block stream configuration: %s is required by the grpc writer", endpoint)
		}
	}
	return nil
}

// configFileKey is the property of a config file holding the block stream
// configuration.
const configFileKey = "blockstream-config"

// Load builds the configuration from the defaults, overridden by an optional
// config file and then by the flags set on the command line. Keys in the file
// are the flag names, either at the top level or nested under a
// "blockstream-config" property.
func Load(flags *pflag.FlagSet, configFile string) (*BlockStreamConfig, error) {
	conf := viper.New()
	if err := conf.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("could not bind flags: %w", err)
	}
	if configFile != "" {
		if err := readConfigFile(conf, configFile); err != nil {
			return nil, err
		}
	}

	config := DefaultBlockStreamConfig()
	err := conf.Unmarshal(config, func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("could not decode block stream configuration: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// readConfigFile loads the file values as defaults of conf, which keeps flags
// that were set explicitly in front of them.
func readConfigFile(conf *viper.Viper, configFile string) error {
	file := viper.New()
	file.SetConfigFile(configFile)
	if err := file.ReadInConfig(); err != nil {
		return fmt.Errorf("could not read config file %s: %w", configFile, err)
	}
	for _, name := range AllFlagNames() {
		for _, key := range []string{name, strings.Join([]string{configFileKey, name}, ".")} {
			if file.IsSet(key) {
				conf.SetDefault(name, file.Get(key))
			}
		}
	}
	return nil
}
