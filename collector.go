package settlez

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector buffers finalized recordings for batch export. Its Report method
// is a ReportFunc.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	recordings   []TraceRecording
	recordingsCh chan TraceRecording
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	name         string
	mu           sync.Mutex
	closeOnce    sync.Once
	closed       atomic.Bool
	syncMode     atomic.Bool
}

// NewCollector creates a new collector with the specified name and buffer size.
func NewCollector(name string, bufferSize int) *Collector {
	c := &Collector{
		name:         name,
		recordings:   make([]TraceRecording, 0, 8),
		recordingsCh: make(chan TraceRecording, bufferSize),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	go c.start()
	return c
}

// Name returns the collector name.
func (c *Collector) Name() string {
	return c.name
}

func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain what was queued before shutdown.
			for {
				select {
				case rec := <-c.recordingsCh:
					c.buffer(rec)
				default:
					return
				}
			}
		case rec := <-c.recordingsCh:
			c.buffer(rec)
		}
	}
}

// Close shuts down the collector, draining queued recordings.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopCh)
		select {
		case <-c.done:
		case <-time.After(100 * time.Millisecond):
		}
	})
}

// Report queues rec with backpressure protection. If the internal channel is
// full, the recording is dropped and the drop counter is incremented. In sync
// mode, recordings are buffered directly.
func (c *Collector) Report(rec TraceRecording) {
	if c.closed.Load() {
		c.droppedCount.Add(1)
		return
	}
	rec = cloneRecording(rec)

	if c.syncMode.Load() {
		c.buffer(rec)
		return
	}

	select {
	case c.recordingsCh <- rec:
	default:
		c.droppedCount.Add(1)
	}
}

func (c *Collector) buffer(rec TraceRecording) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordings = append(c.recordings, rec)
}

// Export returns all buffered recordings and clears the buffer.
// The returned slice is safe to modify without affecting the collector.
func (c *Collector) Export() []TraceRecording {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.recordings) == 0 {
		return nil
	}

	result := make([]TraceRecording, len(c.recordings))
	copy(result, c.recordings)

	// Shrink only very oversized buffers to avoid allocation churn.
	if cap(c.recordings) > 256 && len(c.recordings) < cap(c.recordings)/8 {
		c.recordings = make([]TraceRecording, 0, cap(c.recordings)/4)
	} else {
		c.recordings = c.recordings[:0]
	}

	return result
}

// Count returns the current number of buffered recordings.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recordings)
}

// DroppedCount returns the total number of recordings dropped.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode enables synchronous collection for testing.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode.Store(sync)
}

// Reset clears all buffered recordings and resets the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recordings = c.recordings[:0]
	c.droppedCount.Store(0)
}

// cloneRecording copies the containers a caller could mutate after export.
func cloneRecording(rec TraceRecording) TraceRecording {
	rec.Entries = append([]SpanAndAnnotation(nil), rec.Entries...)
	rec.RelatedTo = copyRelatedTo(rec.RelatedTo)
	rec.Attributes = copyAttributes(rec.Attributes)
	return rec
}
