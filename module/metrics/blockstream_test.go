package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockStreamCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewBlockStreamCollector(reg)

	c.ItemWritten("file", 10)
	c.ItemWritten("file", 20)
	c.ItemWritten("memory", 5)
	c.BlockOpened(41)
	c.BlockClosed(41, 2, time.Second)
	c.WriteFailed("file", "close")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.itemsWritten.WithLabelValues("file")))
	assert.Equal(t, float64(30), testutil.ToFloat64(c.itemBytesWritten.WithLabelValues("file")))
	assert.Equal(t, float64(41), testutil.ToFloat64(c.lastClosedBlock))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.writeFailures.WithLabelValues("file", "close")))

	// registering a second collector on the same registry fails
	require.Panics(t, func() { NewBlockStreamCollector(reg) })
}
