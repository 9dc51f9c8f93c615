package cmd

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/onflow/flow-blockstream/config"
	"github.com/onflow/flow-blockstream/model/stream"
)

var (
	flagConfigFile string
	flagLogLevel   string
	flagGenesis    string
)

var rootCmd = &cobra.Command{
	Use:   "blockstream",
	Short: "produce, serve and verify running hash chained block streams",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(flagLogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return nil
	},
}

var RootCmd = rootCmd

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "path to a config file with block stream settings")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "loglevel", "info", "level for logging output")
	rootCmd.PersistentFlags().StringVar(&flagGenesis, "genesis-hash", "", "hex encoded genesis running hash, defaults to 48 zero bytes")
	config.InitializeBlockStreamFlags(rootCmd.PersistentFlags(), config.DefaultBlockStreamConfig())
}

// loadConfig reads the block stream configuration of cmd.
func loadConfig(cmd *cobra.Command) *config.BlockStreamConfig {
	cfg, err := config.Load(cmd.Flags(), flagConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}
	return cfg
}

// genesisHashes returns the running hashes a new stream starts from.
func genesisHashes() stream.RunningHashes {
	if flagGenesis == "" {
		return stream.NewRunningHashes(stream.ZeroHash(stream.SHA2_384, stream.SHA384Size))
	}
	raw, err := hex.DecodeString(flagGenesis)
	if err != nil {
		log.Fatal().Err(err).Msg("malformed genesis hash")
	}
	if len(raw) != stream.SHA384Size {
		log.Fatal().Int("length", len(raw)).Msg("genesis hash must be 48 bytes")
	}
	return stream.NewRunningHashes(stream.NewHashObject(stream.SHA2_384, raw))
}
