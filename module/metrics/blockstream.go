package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onflow/flow-blockstream/module"
)

const (
	namespaceBlockStream = "blockstream"
	subsystemProducer    = "producer"
	subsystemWriter      = "writer"
	subsystemUploader    = "uploader"
)

const (
	LabelItemKind = "kind"
	LabelWriter   = "writer"
	LabelOp       = "op"
)

// BlockStreamCollector reports block stream production metrics to prometheus.
type BlockStreamCollector struct {
	serializationDuration *prometheus.HistogramVec
	runningHashDuration   prometheus.Histogram
	runningHashItems      prometheus.Counter
	itemsWritten          *prometheus.CounterVec
	itemBytesWritten      *prometheus.CounterVec
	sidecarBytesWritten   *prometheus.CounterVec
	lastOpenedBlock       prometheus.Gauge
	lastClosedBlock       prometheus.Gauge
	blockItems            prometheus.Histogram
	blockDuration         prometheus.Histogram
	writeFailures         *prometheus.CounterVec
	uploadRetries         *prometheus.CounterVec
	uploadDuration        *prometheus.HistogramVec
	uploadBytes           *prometheus.CounterVec
}

var _ module.BlockStreamMetrics = (*BlockStreamCollector)(nil)

func NewBlockStreamCollector(registerer prometheus.Registerer) *BlockStreamCollector {
	serializationDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespaceBlockStream,
		Subsystem: subsystemProducer,
		Name:      "serialization_duration_seconds",
		Help:      "time spent serializing one input into stream items",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
	}, []string{LabelItemKind})

	runningHashDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespaceBlockStream,
		Subsystem: subsystemProducer,
		Name:      "running_hash_duration_seconds",
		Help:      "time spent folding items into the running hash",
		Buckets:   []float64{.00001, .0001, .0005, .001, .005, .01},
	})

	runningHashItems := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespaceBlockStream,
		Subsystem: subsystemProducer,
		Name:      "hashed_items_total",
		Help:      "number of items folded into the running hash",
	})

	itemsWritten := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceBlockStream,
		Subsystem: subsystemWriter,
		Name:      "items_total",
		Help:      "number of items handed to writers",
	}, []string{LabelWriter})

	itemBytesWritten := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceBlockStream,
		Subsystem: subsystemWriter,
		Name:      "item_bytes_total",
		Help:      "bytes of serialized items handed to writers",
	}, []string{LabelWriter})

	sidecarBytesWritten := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceBlockStream,
		Subsystem: subsystemWriter,
		Name:      "sidecar_bytes_total",
		Help:      "bytes of sidecars persisted next to the stream",
	}, []string{LabelWriter})

	lastOpenedBlock := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespaceBlockStream,
		Subsystem: subsystemWriter,
		Name:      "last_opened_block_number",
		Help:      "number of the last block a writer was opened for",
	})

	lastClosedBlock := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespaceBlockStream,
		Subsystem: subsystemWriter,
		Name:      "last_closed_block_number",
		Help:      "number of the last block a writer finalized",
	})

	blockItems := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespaceBlockStream,
		Subsystem: subsystemWriter,
		Name:      "block_items",
		Help:      "number of items per block",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	})

	blockDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespaceBlockStream,
		Subsystem: subsystemWriter,
		Name:      "block_open_duration_seconds",
		Help:      "time between opening and closing a block writer",
		Buckets:   []float64{.1, .5, 1, 2, 5, 10, 30},
	})

	writeFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceBlockStream,
		Subsystem: subsystemWriter,
		Name:      "failures_total",
		Help:      "number of writer failures",
	}, []string{LabelWriter, LabelOp})

	uploadRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceBlockStream,
		Subsystem: subsystemUploader,
		Name:      "retries_total",
		Help:      "number of retried block uploads",
	}, []string{LabelWriter})

	uploadDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespaceBlockStream,
		Subsystem: subsystemUploader,
		Name:      "duration_seconds",
		Help:      "time spent uploading one block object",
		Buckets:   []float64{.05, .1, .5, 1, 2, 5, 10},
	}, []string{LabelWriter})

	uploadBytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceBlockStream,
		Subsystem: subsystemUploader,
		Name:      "bytes_total",
		Help:      "bytes uploaded to object stores",
	}, []string{LabelWriter})

	registerer.MustRegister(
		serializationDuration,
		runningHashDuration,
		runningHashItems,
		itemsWritten,
		itemBytesWritten,
		sidecarBytesWritten,
		lastOpenedBlock,
		lastClosedBlock,
		blockItems,
		blockDuration,
		writeFailures,
		uploadRetries,
		uploadDuration,
		uploadBytes,
	)

	return &BlockStreamCollector{
		serializationDuration: serializationDuration,
		runningHashDuration:   runningHashDuration,
		runningHashItems:      runningHashItems,
		itemsWritten:          itemsWritten,
		itemBytesWritten:      itemBytesWritten,
		sidecarBytesWritten:   sidecarBytesWritten,
		lastOpenedBlock:       lastOpenedBlock,
		lastClosedBlock:       lastClosedBlock,
		blockItems:            blockItems,
		blockDuration:         blockDuration,
		writeFailures:         writeFailures,
		uploadRetries:         uploadRetries,
		uploadDuration:        uploadDuration,
		uploadBytes:           uploadBytes,
	}
}

func (c *BlockStreamCollector) ItemSerialized(kind string, duration time.Duration) {
	c.serializationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (c *BlockStreamCollector) RunningHashUpdated(items int, duration time.Duration) {
	c.runningHashDuration.Observe(duration.Seconds())
	c.runningHashItems.Add(float64(items))
}

func (c *BlockStreamCollector) ItemWritten(writer string, sizeBytes int) {
	c.itemsWritten.WithLabelValues(writer).Inc()
	c.itemBytesWritten.WithLabelValues(writer).Add(float64(sizeBytes))
}

func (c *BlockStreamCollector) SidecarWritten(writer string, sizeBytes int) {
	c.sidecarBytesWritten.WithLabelValues(writer).Add(float64(sizeBytes))
}

func (c *BlockStreamCollector) BlockOpened(blockNumber uint64) {
	c.lastOpenedBlock.Set(float64(blockNumber))
}

func (c *BlockStreamCollector) BlockClosed(blockNumber uint64, items int, duration time.Duration) {
	c.lastClosedBlock.Set(float64(blockNumber))
	c.blockItems.Observe(float64(items))
	c.blockDuration.Observe(duration.Seconds())
}

func (c *BlockStreamCollector) WriteFailed(writer string, op string) {
	c.writeFailures.WithLabelValues(writer, op).Inc()
}

func (c *BlockStreamCollector) UploadRetried(writer string) {
	c.uploadRetries.WithLabelValues(writer).Inc()
}

func (c *BlockStreamCollector) UploadFinished(writer string, duration time.Duration, sizeBytes int) {
	c.uploadDuration.WithLabelValues(writer).Observe(duration.Seconds())
	c.uploadBytes.WithLabelValues(writer).Add(float64(sizeBytes))
}
