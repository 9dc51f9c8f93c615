package streaming

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/onflow/flow-go/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onflow/flow-blockstream/config"
	"github.com/onflow/flow-blockstream/module/blockstream/producer"
	"github.com/onflow/flow-blockstream/module/blockstream/writer"
	"github.com/onflow/flow-blockstream/module/metrics"
	"github.com/onflow/flow-blockstream/utils/unittest"
)

func testConfig(dir string) *config.BlockStreamConfig {
	cfg := config.DefaultBlockStreamConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.BlockDir = filepath.Join(dir, "blocks")
	cfg.MinFreeBytes = 0
	return cfg
}

func TestPipeline_FileWriter(t *testing.T) {
	for _, kind := range []string{config.ProducerSync, config.ProducerPipelined} {
		t.Run(kind, func(t *testing.T) {
			unittest.RunWithTempDir(t, func(dir string) {
				cfg := testConfig(dir)
				cfg.ProducerKind = kind

				p, err := NewPipeline(context.Background(), unittest.Logger(), metrics.NewNoopCollector(), cfg, genesis())
				require.NoError(t, err)
				require.NoError(t, p.Start())
				for i := 0; i < 3; i++ {
					_, err := p.ProcessRound(roundFixture(i))
					require.NoError(t, err)
				}
				require.NoError(t, p.Close())

				paths, err := writer.ListBlockFiles(cfg.BlockDir)
				require.NoError(t, err)
				require.Len(t, paths, 3)
				report, err := writer.VerifyChain(paths, nil)
				require.NoError(t, err)
				assert.Equal(t, uint64(0), report.FirstBlock)
				assert.Equal(t, uint64(2), report.LastBlock)

				// a restarted pipeline continues the chain on disk
				p, err = NewPipeline(context.Background(), unittest.Logger(), metrics.NewNoopCollector(), cfg, genesis())
				require.NoError(t, err)
				require.NoError(t, p.Start())
				_, err = p.ProcessRound(roundFixture(3))
				require.NoError(t, err)
				require.NoError(t, p.Close())

				paths, err = writer.ListBlockFiles(cfg.BlockDir)
				require.NoError(t, err)
				report, err = writer.VerifyChain(paths, nil)
				require.NoError(t, err)
				assert.Equal(t, 4, report.Blocks)
			})
		})
	}
}

func TestPipeline_CompressedSignedFiles(t *testing.T) {
	unittest.RunWithTempDir(t, func(dir string) {
		key, err := crypto.GeneratePrivateKey(crypto.ECDSAP256, unittest.RandomBytes(crypto.KeyGenSeedMinLen))
		require.NoError(t, err)
		keyFile := filepath.Join(dir, "signing.key")
		require.NoError(t, os.WriteFile(keyFile, []byte(hex.EncodeToString(key.Encode())+"\n"), 0600))

		cfg := testConfig(dir)
		cfg.CompressFiles = true
		cfg.SigningKeyFile = keyFile

		p, err := NewPipeline(context.Background(), unittest.Logger(), metrics.NewNoopCollector(), cfg, genesis())
		require.NoError(t, err)
		require.NoError(t, p.Start())
		for i := 0; i < 2; i++ {
			_, err := p.ProcessRound(roundFixture(i))
			require.NoError(t, err)
		}
		require.NoError(t, p.Close())

		paths, err := writer.ListBlockFiles(cfg.BlockDir)
		require.NoError(t, err)
		require.Len(t, paths, 2)

		verifier, err := writer.ParseKeyVerifier(hex.EncodeToString(key.PublicKey().Encode()))
		require.NoError(t, err)
		_, err = writer.VerifyChain(paths, nil)
		require.NoError(t, err)
		for _, path := range paths {
			assert.True(t, strings.HasSuffix(path, writer.CompressedSuffix))
			contents, err := writer.ReadBlockFile(path)
			require.NoError(t, err)
			assert.NoError(t, writer.VerifySignature(path, contents, verifier))
		}
	})
}

func TestPipeline_InvalidSigningKey(t *testing.T) {
	unittest.RunWithTempDir(t, func(dir string) {
		keyFile := filepath.Join(dir, "signing.key")
		require.NoError(t, os.WriteFile(keyFile, []byte("not a key"), 0600))

		cfg := testConfig(dir)
		cfg.SigningKeyFile = keyFile
		_, err := NewPipeline(context.Background(), unittest.Logger(), metrics.NewNoopCollector(), cfg, genesis())
		assert.ErrorContains(t, err, "signing key")
	})
}

func TestPipeline_MemoryWriter(t *testing.T) {
	unittest.RunWithTempDir(t, func(dir string) {
		cfg := testConfig(dir)
		cfg.WriterKind = config.WriterMemory
		cfg.ProducerKind = config.ProducerSync

		p, err := NewPipeline(context.Background(), unittest.Logger(), metrics.NewNoopCollector(), cfg, genesis())
		require.NoError(t, err)
		assert.IsType(t, &producer.SyncProducer{}, p.Producer)
		require.NoError(t, p.Start())
		_, err = p.ProcessRound(roundFixture(0))
		require.NoError(t, err)
		require.NoError(t, p.Close())

		writers, ok := p.Writers.(*writer.MemoryWriterFactory)
		require.True(t, ok)
		require.Len(t, writers.Writers(), 1)
		assert.True(t, writers.Writers()[0].IsClosed())
	})
}

func TestPipeline_InvalidConfig(t *testing.T) {
	unittest.RunWithTempDir(t, func(dir string) {
		cfg := testConfig(dir)
		cfg.FailurePolicy = "retry"
		_, err := NewPipeline(context.Background(), unittest.Logger(), metrics.NewNoopCollector(), cfg, genesis())
		require.Error(t, err)

		cfg = testConfig(dir)
		cfg.FormatVersion = 5
		_, err = NewPipeline(context.Background(), unittest.Logger(), metrics.NewNoopCollector(), cfg, genesis())
		require.Error(t, err)
	})
}
