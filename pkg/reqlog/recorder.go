package reqlog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RecorderConfig configures the async recorder.
type RecorderConfig struct {
	// Buffer is the size of the async write channel.
	// Default: 1000
	Buffer int

	// WriteTimeout bounds each store write.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultRecorderConfig returns the default recorder configuration.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Buffer:       1000,
		WriteTimeout: 5 * time.Second,
	}
}

// Recorder writes request records to a Store asynchronously. Record
// never blocks the caller: when the buffer is full the entry is dropped
// and counted.
type Recorder struct {
	store   Store
	config  RecorderConfig
	records chan Record
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger

	mu      sync.Mutex
	dropped int
}

// NewRecorder creates a recorder and starts its background writer.
func NewRecorder(store Store, config RecorderConfig) *Recorder {
	if config.Buffer <= 0 {
		config.Buffer = DefaultRecorderConfig().Buffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultRecorderConfig().WriteTimeout
	}

	r := &Recorder{
		store:   store,
		config:  config,
		records: make(chan Record, config.Buffer),
		done:    make(chan struct{}),
		logger:  slog.Default().With("component", "reqlog.recorder"),
	}

	r.wg.Add(1)
	go r.worker()
	return r
}

// Record enqueues one entry for async writing.
func (r *Recorder) Record(rec Record) {
	select {
	case r.records <- rec:
	default:
		r.mu.Lock()
		r.dropped++
		n := r.dropped
		r.mu.Unlock()
		r.logger.Warn("request log buffer full, dropping record",
			"request_id", rec.ID,
			"dropped_total", n,
		)
	}
}

// Dropped returns how many records were lost to a full buffer.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close drains pending records and stops the writer.
func (r *Recorder) Close() error {
	close(r.done)
	r.wg.Wait()
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case rec := <-r.records:
			r.write(rec)
		case <-r.done:
			for {
				select {
				case rec := <-r.records:
					r.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	if err := r.store.Insert(ctx, rec); err != nil {
		r.logger.Error("failed to store request record",
			"request_id", rec.ID,
			"error", err,
		)
	}
}
