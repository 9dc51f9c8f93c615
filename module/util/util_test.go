package util

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitError(t *testing.T) {
	t.Run("error first", func(t *testing.T) {
		errs := make(chan error, 1)
		errs <- errors.New("boom")
		assert.EqualError(t, WaitError(errs, make(chan struct{})), "boom")
	})

	t.Run("done first", func(t *testing.T) {
		done := make(chan struct{})
		close(done)
		assert.NoError(t, WaitError(make(chan error), done))
	})

	t.Run("error racing with done", func(t *testing.T) {
		errs := make(chan error, 1)
		errs <- errors.New("boom")
		done := make(chan struct{})
		close(done)
		assert.Error(t, WaitError(errs, done))
	})
}

func TestLogProgress(t *testing.T) {
	buf := &bytes.Buffer{}
	log := zerolog.New(buf)

	progress := LogProgress(log, DefaultLogProgressConfig("verifying blocks", 25))
	for i := 0; i < 25; i++ {
		progress(1)
	}
	progress(-1)

	var values []uint64
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry struct {
			Progress uint64 `json:"progress"`
			Message  string `json:"message"`
		}
		require.NoError(t, json.Unmarshal(line, &entry))
		assert.Equal(t, "verifying blocks", entry.Message)
		values = append(values, entry.Progress)
	}

	// 0, every second block up to 24, then the final 25
	require.Len(t, values, 14)
	assert.Equal(t, uint64(0), values[0])
	assert.Equal(t, uint64(2), values[1])
	assert.Equal(t, uint64(24), values[12])
	assert.Equal(t, uint64(25), values[13])
}
