package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/onflow/flow-blockstream/module/blockstream/writer"
	"github.com/onflow/flow-blockstream/module/util"
	"github.com/onflow/flow-blockstream/utils/logging"
)

var (
	flagDir       string
	flagPublicKey string
)

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&flagDir, "dir", "", "directory of block files, defaults to --blockstream-block-dir")
	verifyCmd.Flags().StringVar(&flagPublicKey, "public-key", "", "hex encoded ECDSA P-256 key; when set, the signature file of every block is checked")
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "re-derive the running hash chain of a directory of block files",
	Run: func(cmd *cobra.Command, args []string) {
		dir := flagDir
		if dir == "" {
			dir = loadConfig(cmd).BlockDir
		}

		paths, err := writer.ListBlockFiles(dir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("could not list block files")
		}
		if len(paths) == 0 {
			log.Fatal().Str("dir", dir).Msg("no block files found")
		}

		var verifier writer.Verifier
		if flagPublicKey != "" {
			verifier, err = writer.ParseKeyVerifier(flagPublicKey)
			if err != nil {
				log.Fatal().Err(err).Msg("could not parse public key")
			}
		}

		progress := util.LogProgress(log.Logger, util.DefaultLogProgressConfig("verifying blocks", len(paths)))
		var signatureErr error
		verified := 0
		report, err := writer.VerifyChain(paths, func(contents *writer.BlockContents) {
			if verifier != nil && signatureErr == nil {
				signatureErr = writer.VerifySignature(paths[verified], contents, verifier)
			}
			verified++
			progress(1)
		})
		if err == nil {
			err = signatureErr
		}
		if err != nil {
			log.Fatal().Err(err).
				Uint64("last_verified_block", report.LastBlock).
				Int("verified_blocks", report.Blocks).
				Msg("block stream verification failed")
		}

		logging.Hash(log.Info(), "end_hash", report.EndHash).
			Uint64("first_block", report.FirstBlock).
			Uint64("last_block", report.LastBlock).
			Int("blocks", report.Blocks).
			Int("items", report.Items).
			Msg("block stream verified")
	},
}
