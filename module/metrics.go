package module

import (
	"time"
)

// BlockStreamMetrics tracks the production of the block stream.
type BlockStreamMetrics interface {
	// ItemSerialized reports the time it took to serialize one input into its
	// stream items.
	ItemSerialized(kind string, duration time.Duration)

	// RunningHashUpdated reports the time spent folding items into the running hash.
	RunningHashUpdated(items int, duration time.Duration)

	// ItemWritten reports one item handed to a writer.
	ItemWritten(writer string, sizeBytes int)

	// SidecarWritten reports one sidecar persisted next to the stream.
	SidecarWritten(writer string, sizeBytes int)

	// BlockOpened reports a writer opened for a new block.
	BlockOpened(blockNumber uint64)

	// BlockClosed reports a block being finalized by its writer.
	BlockClosed(blockNumber uint64, items int, duration time.Duration)

	// WriteFailed counts writer failures by writer kind and operation.
	WriteFailed(writer string, op string)

	// UploadRetried counts retries of object store uploads.
	UploadRetried(writer string)

	// UploadFinished reports the time it took to upload a block object.
	UploadFinished(writer string, duration time.Duration, sizeBytes int)
}
