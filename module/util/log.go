package util

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogProgressFunc adds to the progress. It can be called concurrently;
// negative values are ignored.
type LogProgressFunc func(addProgress int)

type LogProgressConfig struct {
	// Message names the work in every progress line.
	Message string
	// Total is the progress value that means done.
	Total int
	// Ticks is the number of lines logged between 0 and Total, both included.
	Ticks int
	// NoDataLogDuration logs the current progress when new data arrives after
	// a gap longer than this, even between ticks.
	NoDataLogDuration time.Duration
}

// DefaultLogProgressConfig logs every 10% and after a minute without progress.
func DefaultLogProgressConfig(message string, total int) LogProgressConfig {
	return LogProgressConfig{
		Message:           message,
		Total:             total,
		Ticks:             11,
		NoDataLogDuration: time.Minute,
	}
}

// LogProgress returns a function that accumulates progress and logs it with
// structured fields whenever the next tick is reached. The eta assumes linear
// progress.
func LogProgress(log zerolog.Logger, config LogProgressConfig) LogProgressFunc {
	start := time.Now()
	total := uint64(config.Total)
	ticks := uint64(config.Ticks)
	if ticks < 2 {
		ticks = 2
	}
	step := total / (ticks - 1)
	if step == 0 {
		step = 1
	}

	var mu sync.Mutex
	var current uint64
	lastData := start
	nextTick := step
	finished := false

	logAt := func(now time.Time, value uint64) {
		elapsed := now.Sub(start)
		event := log.Info().
			Uint64("progress", value).
			Uint64("total", total).
			Dur("elapsed", elapsed.Round(time.Second))
		if value > 0 && value < total {
			eta := time.Duration(float64(elapsed) / float64(value) * float64(total-value))
			event = event.Dur("eta", eta.Round(time.Second))
		}
		if total > 0 {
			event = event.Float64("percent", float64(value)/float64(total)*100)
		}
		event.Msg(config.Message)
	}

	logAt(start, 0)
	return func(add int) {
		if add <= 0 {
			return
		}
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		current += uint64(add)
		idle := now.Sub(lastData)
		lastData = now

		switch {
		case current >= nextTick || (current >= total && !finished):
			for nextTick <= current {
				nextTick += step
			}
			finished = current >= total
			logAt(now, current)
		case config.NoDataLogDuration > 0 && idle > config.NoDataLogDuration:
			logAt(now, current)
		}
	}
}
