package cmd

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/onflow/flow-blockstream/engine/execution/streaming"
	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module/irrecoverable"
	"github.com/onflow/flow-blockstream/module/metrics"
	"github.com/onflow/flow-blockstream/module/util"
	"github.com/onflow/flow-blockstream/storage"
	"github.com/onflow/flow-blockstream/utils/logging"
)

var (
	flagRounds       int
	flagTransactions int
	flagSidecars     int
	flagSeed         int64
)

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().IntVar(&flagRounds, "rounds", 10, "number of rounds, one block each")
	generateCmd.Flags().IntVar(&flagTransactions, "transactions", 100, "number of user transactions per round")
	generateCmd.Flags().IntVar(&flagSidecars, "sidecars", 0, "number of sidecars per transaction")
	generateCmd.Flags().Int64Var(&flagSeed, "seed", 0, "seed of the synthetic data, 0 uses the current time")
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "drive the configured producer with synthetic rounds",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		seed := flagSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}

		collector := metrics.NewBlockStreamCollector(prometheus.NewRegistry())
		pipeline, err := streaming.NewPipeline(cmd.Context(), log.Logger, collector, cfg, genesisHashes())
		if err != nil {
			log.Fatal().Err(err).Msg("could not build block stream pipeline")
		}
		defer func() {
			if err := pipeline.Close(); err != nil {
				log.Error().Err(err).Msg("could not close block stream pipeline")
			}
		}()

		if err := pipeline.Start(); err != nil {
			log.Fatal().Err(err).Msg("could not start block stream")
		}

		ctx, errs := irrecoverable.WithSignaler(cmd.Context())
		rounds := make(chan streaming.Round)
		done := make(chan struct{})
		go func() {
			defer close(done)
			pipeline.Run(ctx, rounds)
		}()

		gen := newRoundGenerator(seed)
		start := time.Now()
	feed:
		for i := 0; i < flagRounds; i++ {
			select {
			case rounds <- gen.next(flagTransactions, flagSidecars):
			case <-done:
				break feed
			}
		}
		close(rounds)

		if err := util.WaitError(errs, done); err != nil {
			log.Fatal().Err(err).Msg("block stream failed")
		}

		checkpoint, err := pipeline.LatestCheckpoint()
		switch {
		case errors.Is(err, storage.ErrNotFound):
			log.Info().Msg("no block has been produced")
		case err != nil:
			log.Fatal().Err(err).Msg("could not read latest checkpoint")
		default:
			logging.Hash(log.Info(), "running_hash", checkpoint.RunningHashes.Current()).
				Uint64("last_block_number", checkpoint.BlockNumber).
				Msg("final running hash")
		}
		log.Info().
			Int("rounds", flagRounds).
			Int64("seed", seed).
			Dur("duration", time.Since(start)).
			Msg("generated block stream")
	},
}

// roundGenerator produces synthetic rounds with increasing consensus times.
type roundGenerator struct {
	rng   *rand.Rand
	clock time.Time
	round uint64
}

func newRoundGenerator(seed int64) *roundGenerator {
	return &roundGenerator{
		rng:   rand.New(rand.NewSource(seed)),
		clock: time.Unix(1_700_000_000, 0).UTC(),
	}
}

func (g *roundGenerator) tick() time.Time {
	g.clock = g.clock.Add(time.Duration(1+g.rng.Intn(1000)) * time.Microsecond)
	return g.clock
}

func (g *roundGenerator) bytes(n int) []byte {
	b := make([]byte, n)
	_, _ = g.rng.Read(b)
	return b
}

func (g *roundGenerator) next(transactions int, sidecars int) streaming.Round {
	g.round++
	first := g.tick()
	round := streaming.Round{FirstTxnTime: first}

	round.Inputs = append(round.Inputs, streaming.EventInput(stream.ConsensusEvent{
		Round:     g.round,
		Timestamp: first,
		Payload:   g.bytes(32),
	}))

	records := make([]stream.TransactionRecord, 0, transactions)
	for i := 0; i < transactions; i++ {
		ts := g.tick()
		record := stream.TransactionRecord{
			TransactionID:      fmt.Sprintf("0.0.%d@%d.%09d", 1000+g.rng.Intn(9000), ts.Unix(), ts.Nanosecond()),
			ConsensusTimestamp: ts,
			Transaction:        g.bytes(64 + g.rng.Intn(192)),
			Result: stream.TransactionResult{
				Status: 22,
				Fee:    uint64(g.rng.Intn(100_000)),
			},
			Output: g.bytes(16),
		}
		for j := 0; j < sidecars; j++ {
			record.Sidecars = append(record.Sidecars, stream.TransactionSidecar{
				Kind:               stream.SidecarKind(1 + j%3),
				ConsensusTimestamp: ts,
				Payload:            g.bytes(128),
			})
		}
		records = append(records, record)
	}
	if len(records) > 0 {
		round.Inputs = append(round.Inputs, streaming.TransactionsInput(records...))
	}

	round.Inputs = append(round.Inputs,
		streaming.StateChangesInput(stream.StateChanges{
			ConsensusTimestamp: g.tick(),
			Changes:            []stream.StateChange{{Key: g.bytes(8), Value: g.bytes(32)}},
		}),
		streaming.SystemTransactionInput(stream.SystemTransaction{
			ConsensusTimestamp: g.tick(),
			Body:               g.bytes(48),
		}),
	)
	return round
}
