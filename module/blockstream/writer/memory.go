package writer

import (
	"sync"
	"time"

	"github.com/onflow/flow-blockstream/model/stream"
	"github.com/onflow/flow-blockstream/module"
)

const KindMemory = "memory"

// WrittenItem is an item as received by a MemoryWriter.
type WrittenItem struct {
	Item        stream.SerializedItem
	RunningHash stream.HashObject
}

// MemoryWriter keeps a block in memory. It is used as a test sink and as the
// buffer behind writers that ship whole blocks elsewhere.
type MemoryWriter struct {
	lifecycle lifecycle
	metrics   module.BlockStreamMetrics

	mu          sync.Mutex
	version     uint32
	blockNumber uint64
	startHash   stream.HashObject
	startTime   time.Time
	items       []WrittenItem
	endHash     stream.HashObject
}

var _ module.StreamWriter = (*MemoryWriter)(nil)

func NewMemoryWriter(metrics module.BlockStreamMetrics) *MemoryWriter {
	return &MemoryWriter{
		lifecycle: newLifecycle(),
		metrics:   metrics,
	}
}

func (w *MemoryWriter) Init(version uint32, startHash stream.HashObject, startTime time.Time, blockNumber uint64) error {
	if err := w.lifecycle.open(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.version = version
	w.startHash = startHash
	w.startTime = startTime
	w.blockNumber = blockNumber
	w.metrics.BlockOpened(blockNumber)
	return nil
}

func (w *MemoryWriter) WriteItem(item stream.SerializedItem, runningHash stream.HashObject) error {
	if err := w.lifecycle.checkOpen(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, WrittenItem{Item: item, RunningHash: runningHash})
	w.metrics.ItemWritten(KindMemory, len(item.Bytes))
	return nil
}

func (w *MemoryWriter) Close(endHash stream.HashObject) error {
	closeNeeded, err := w.lifecycle.close()
	if err != nil || !closeNeeded {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.endHash = endHash
	w.metrics.BlockClosed(w.blockNumber, len(w.items), 0)
	return nil
}

func (w *MemoryWriter) BlockNumber() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blockNumber
}

func (w *MemoryWriter) Version() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.version
}

func (w *MemoryWriter) StartHash() stream.HashObject {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startHash
}

func (w *MemoryWriter) StartTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startTime
}

func (w *MemoryWriter) EndHash() stream.HashObject {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.endHash
}

func (w *MemoryWriter) Items() []WrittenItem {
	w.mu.Lock()
	defer w.mu.Unlock()
	items := make([]WrittenItem, len(w.items))
	copy(items, w.items)
	return items
}

func (w *MemoryWriter) IsOpen() bool {
	return w.lifecycle.current() == stateOpen
}

func (w *MemoryWriter) IsClosed() bool {
	return w.lifecycle.current() == stateClosed
}

// MemoryWriterFactory creates MemoryWriters and remembers them in creation order.
type MemoryWriterFactory struct {
	metrics module.BlockStreamMetrics

	mu      sync.Mutex
	writers []*MemoryWriter
}

var _ module.WriterFactory = (*MemoryWriterFactory)(nil)

func NewMemoryWriterFactory(metrics module.BlockStreamMetrics) *MemoryWriterFactory {
	return &MemoryWriterFactory{metrics: metrics}
}

func (f *MemoryWriterFactory) Create() (module.StreamWriter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := NewMemoryWriter(f.metrics)
	f.writers = append(f.writers, w)
	return w, nil
}

// Writers returns every writer created so far.
func (f *MemoryWriterFactory) Writers() []*MemoryWriter {
	f.mu.Lock()
	defer f.mu.Unlock()
	writers := make([]*MemoryWriter, len(f.writers))
	copy(writers, f.writers)
	return writers
}
