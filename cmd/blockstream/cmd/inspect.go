package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module/blockstream/format"
	"github.com/onflow/flow-blockstream/module/blockstream/writer"
)

var flagListSidecars bool

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().BoolVar(&flagListSidecars, "sidecars", false, "also list the sidecars stored next to the block")
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <block file>",
	Short: "print the items of a block file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := args[0]
		contents, err := writer.ReadBlockFile(path)
		if err != nil {
			log.Fatal().Err(err).Msg("could not read block file")
		}

		header := contents.Header
		fmt.Printf("block %d (format version %d)\n", header.BlockNumber, header.Version)
		fmt.Printf("  start time:   %s\n", header.StartTime())
		fmt.Printf("  start hash:   %s\n", header.StartRunningHash)

		for i, item := range contents.Items {
			description, err := format.Describe(header.Version, item.Bytes)
			if err != nil {
				description = fmt.Sprintf("<undecodable: %v>", err)
			}
			fmt.Printf("  %5d %-22s %6d bytes  %s\n", i, stream.ItemKind(item.Kind), len(item.Bytes), description)
		}

		if contents.Footer != nil {
			fmt.Printf("  end hash:     %s\n", contents.Footer.EndRunningHash)
			fmt.Printf("  items:        %d\n", contents.Footer.ItemCount)
			fmt.Printf("  sidecars:     %d files\n", len(contents.Footer.Sidecars))
		} else {
			fmt.Println("  <block is incomplete>")
		}

		end, err := writer.VerifyBlock(contents)
		if err == nil {
			err = writer.VerifySidecars(filepath.Dir(path), contents)
		}
		if err != nil {
			fmt.Printf("  verification: FAILED: %v\n", err)
		} else {
			fmt.Printf("  verification: ok, chain ends at %s\n", end)
		}

		if !flagListSidecars {
			return
		}
		sidecarPaths, err := writer.ListSidecarFiles(filepath.Dir(path), header.BlockNumber)
		if err != nil {
			log.Fatal().Err(err).Msg("could not list sidecar files")
		}
		for _, sidecarPath := range sidecarPaths {
			frames, err := writer.ReadSidecarFile(sidecarPath)
			if err != nil {
				log.Fatal().Err(err).Str("file", sidecarPath).Msg("could not read sidecar file")
			}
			fmt.Printf("  sidecar file %s\n", filepath.Base(sidecarPath))
			for _, frame := range frames {
				fmt.Printf("    item %5d %-14s %6d bytes\n", frame.ItemIndex, stream.SidecarKind(frame.Kind), len(frame.Bytes))
			}
		}
	},
}
