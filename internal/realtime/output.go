package realtime

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coachai/coach-backend/internal/transport"
)

type rtpWriter interface {
	WriteRTP(opusData []byte, samples int) error
}

type audioFrame struct {
	data     []byte
	samples  int
	duration time.Duration
	gen      uint64
}

// OutputWorker writes queued Opus frames to the peer at playback pace.
// Flush bumps a generation counter so a frame already dequeued when the
// flush happens is dropped rather than played.
type OutputWorker struct {
	queue  chan audioFrame
	writer rtpWriter
	log    *slog.Logger

	gen     atomic.Uint64
	paused  atomic.Bool
	written atomic.Int64

	mu        sync.RWMutex
	stopped   bool
	bpCb      transport.BackpressureCallback
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	pendingMu   sync.Mutex
	pendingCond *sync.Cond
	pending     int64
}

func NewOutputWorker(writer rtpWriter, bufferSize int, log *slog.Logger) *OutputWorker {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	if log == nil {
		log = slog.Default()
	}

	w := &OutputWorker{
		queue:  make(chan audioFrame, bufferSize),
		writer: writer,
		log:    log,
	}
	w.pendingCond = sync.NewCond(&w.pendingMu)
	return w
}

func (w *OutputWorker) Start() {
	w.startOnce.Do(func() {
		w.wg.Add(1)
		go w.run()
	})
}

func (w *OutputWorker) run() {
	defer w.wg.Done()

	var next time.Time
	for frame := range w.queue {
		if frame.gen != w.gen.Load() || w.paused.Load() {
			w.decrementPending()
			continue
		}

		now := time.Now()
		if next.Before(now.Add(-frame.duration)) {
			next = now
		}

		if err := w.writer.WriteRTP(frame.data, frame.samples); err != nil {
			w.log.Debug("rtp write failed", "error", err)
		} else {
			w.written.Add(1)
		}
		w.decrementPending()

		next = next.Add(frame.duration)
		if sleep := time.Until(next); sleep > 0 {
			time.Sleep(sleep)
		}
	}
}

// Enqueue queues one Opus packet; its length is read from the TOC byte.
// When the queue is full the packet is dropped and the backpressure
// callback fires.
func (w *OutputWorker) Enqueue(data []byte) error {
	samples, duration := OpusPacketDuration(data, SampleRate)
	frame := audioFrame{
		data:     data,
		samples:  samples,
		duration: duration,
		gen:      w.gen.Load(),
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return nil
	}

	w.pendingMu.Lock()
	w.pending++
	w.pendingMu.Unlock()

	select {
	case w.queue <- frame:
		return nil
	default:
		w.decrementPending()
		if w.bpCb != nil {
			w.bpCb(1)
		}
		return nil
	}
}

// Flush drops every queued frame and returns how many were dropped.
func (w *OutputWorker) Flush() int {
	w.gen.Add(1)
	return w.drain()
}

func (w *OutputWorker) drain() int {
	count := 0
	for {
		select {
		case _, ok := <-w.queue:
			if !ok {
				return count
			}
			count++
			w.decrementPending()
		default:
			return count
		}
	}
}

func (w *OutputWorker) decrementPending() {
	w.pendingMu.Lock()
	w.pending--
	if w.pending <= 0 {
		w.pending = 0
		w.pendingCond.Broadcast()
	}
	w.pendingMu.Unlock()
}

func (w *OutputWorker) Pending() int64 {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	return w.pending
}

func (w *OutputWorker) WaitForDrain() {
	w.pendingMu.Lock()
	for w.pending > 0 {
		w.pendingCond.Wait()
	}
	w.pendingMu.Unlock()
}

func (w *OutputWorker) Written() int64 {
	return w.written.Load()
}

func (w *OutputWorker) Pause() {
	w.paused.Store(true)
}

func (w *OutputWorker) Resume() {
	w.paused.Store(false)
}

func (w *OutputWorker) SetBackpressureCallback(cb transport.BackpressureCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bpCb = cb
}

// Stop closes the queue and waits for the writer goroutine. Frames still
// queued are discarded.
func (w *OutputWorker) Stop() {
	w.stopOnce.Do(func() {
		w.gen.Add(1)
		w.mu.Lock()
		w.stopped = true
		close(w.queue)
		w.mu.Unlock()
	})
	w.wg.Wait()
	w.drain()
}
