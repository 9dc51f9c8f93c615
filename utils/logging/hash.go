package logging

import (
	"github.com/rs/zerolog"

	"github.com/onflow/flow-blockstream/model/stream"
)

// Hash adds a running hash to the event as a hex string field.
func Hash(e *zerolog.Event, key string, h stream.HashObject) *zerolog.Event {
	return e.Str(key, h.Hex())
}

// Hashes renders a newest-first list of running hashes as hex strings.
func Hashes(hashes []stream.HashObject) []string {
	ss := make([]string, 0, len(hashes))
	for _, h := range hashes {
		ss = append(ss, h.Hex())
	}
	return ss
}

// Block returns a logger annotated with a block number and the operation being
// performed on it.
func Block(log zerolog.Logger, blockNumber uint64, op string) zerolog.Logger {
	return log.With().Uint64("block_number", blockNumber).Str("op", op).Logger()
}
