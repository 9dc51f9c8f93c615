package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onflow/flow-blockstream/utils/unittest"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	InitializeBlockStreamFlags(flags, DefaultBlockStreamConfig())
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestDefaultBlockStreamConfig_IsValid(t *testing.T) {
	require.NoError(t, DefaultBlockStreamConfig().Validate())
}

func TestLoad_Defaults(t *testing.T) {
	config, err := Load(newFlags(t), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultBlockStreamConfig(), config)
}

func TestLoad_Flags(t *testing.T) {
	config, err := Load(newFlags(t,
		"--blockstream-producer=sync",
		"--blockstream-writer=s3",
		"--blockstream-bucket=blocks",
		"--blockstream-region=us-east-1",
		"--blockstream-format-version=6",
		"--blockstream-failure-policy=log-and-continue",
		"--blockstream-upload-timeout=5s",
	), "")
	require.NoError(t, err)

	assert.Equal(t, ProducerSync, config.ProducerKind)
	assert.Equal(t, WriterS3, config.WriterKind)
	assert.Equal(t, "blocks", config.Bucket)
	assert.Equal(t, "us-east-1", config.Region)
	assert.Equal(t, uint32(6), config.FormatVersion)
	assert.Equal(t, "log-and-continue", config.FailurePolicy)
	assert.Equal(t, 5*time.Second, config.UploadTimeout)
}

func TestLoad_ConfigFile(t *testing.T) {
	unittest.RunWithTempDir(t, func(dir string) {
		path := filepath.Join(dir, "config.yml")
		content := "blockstream-config:\n" +
			"  blockstream-writer: grpc\n" +
			"  blockstream-endpoint: localhost:9000\n" +
			"  blockstream-workers: 8\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		config, err := Load(newFlags(t, "--blockstream-workers=2"), path)
		require.NoError(t, err)

		assert.Equal(t, WriterGRPC, config.WriterKind)
		assert.Equal(t, "localhost:9000", config.Endpoint)
		// flags take precedence over the file
		assert.Equal(t, 2, config.Workers)
	})
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*BlockStreamConfig){
		"unknown producer":     func(c *BlockStreamConfig) { c.ProducerKind = "async" },
		"unknown writer":       func(c *BlockStreamConfig) { c.WriterKind = "tape" },
		"unknown version":      func(c *BlockStreamConfig) { c.FormatVersion = 5 },
		"shallow history":      func(c *BlockStreamConfig) { c.HistoryDepth = 3 },
		"no workers":           func(c *BlockStreamConfig) { c.Workers = 0 },
		"unknown policy":       func(c *BlockStreamConfig) { c.FailurePolicy = "retry" },
		"file without dir":     func(c *BlockStreamConfig) { c.BlockDir = "" },
		"gcs without bucket":   func(c *BlockStreamConfig) { c.WriterKind = WriterGCS },
		"s3 without region":    func(c *BlockStreamConfig) { c.WriterKind = WriterS3; c.Bucket = "blocks" },
		"grpc without address": func(c *BlockStreamConfig) { c.WriterKind = WriterGRPC },
		"no data dir":          func(c *BlockStreamConfig) { c.DataDir = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			config := DefaultBlockStreamConfig()
			mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}
