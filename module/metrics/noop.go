package metrics

import (
	"time"

	"github.com/onflow/flow-blockstream/module"
)

type NoopCollector struct{}

var _ module.BlockStreamMetrics = (*NoopCollector)(nil)

func NewNoopCollector() *NoopCollector {
	nc := &NoopCollector{}
	return nc
}

func (nc *NoopCollector) ItemSerialized(kind string, duration time.Duration)                  {}
func (nc *NoopCollector) RunningHashUpdated(items int, duration time.Duration)                {}
func (nc *NoopCollector) ItemWritten(writer string, sizeBytes int)                            {}
func (nc *NoopCollector) SidecarWritten(writer string, sizeBytes int)                         {}
func (nc *NoopCollector) BlockOpened(blockNumber uint64)                                      {}
func (nc *NoopCollector) BlockClosed(blockNumber uint64, items int, duration time.Duration)   {}
func (nc *NoopCollector) WriteFailed(writer string, op string)                                {}
func (nc *NoopCollector) UploadRetried(writer string)                                         {}
func (nc *NoopCollector) UploadFinished(writer string, duration time.Duration, sizeBytes int) {}
