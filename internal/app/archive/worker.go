package archive

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"relaychat/internal/app/chat"
	"relaychat/internal/pkg/logx"
)

const (
	DefaultQueueSize = 1024

	// maxBatch bounds how many queued messages one Save call receives.
	maxBatch = 100

	saveTimeout = 5 * time.Second
)

// Worker saves evicted messages to a Store on a background goroutine.
// It implements chat.Archiver.
type Worker struct {
	store Store
	queue chan chat.Message

	// mu guards closed against Archive racing with Stop.
	mu     sync.RWMutex
	closed bool

	done chan struct{}

	dropped prometheus.Counter
	failed  prometheus.Counter

	logger zerolog.Logger
}

// NewWorker creates a worker with a queue of queueSize messages and registers its
// counters with reg. Call Start to begin saving.
func NewWorker(store Store, queueSize int, reg prometheus.Registerer) *Worker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	w := &Worker{
		store: store,
		queue: make(chan chat.Message, queueSize),
		done:  make(chan struct{}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_archive_dropped_total",
			Help: "Evicted messages dropped because the archive queue was full",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_archive_failed_total",
			Help: "Evicted messages that could not be saved to the archive",
		}),
		logger: logx.Component("archive"),
	}

	if reg != nil {
		reg.MustRegister(w.dropped, w.failed)
	}

	return w
}

var _ chat.Archiver = (*Worker)(nil)

// Archive queues msg without blocking. When the queue is full the message is dropped.
func (w *Worker) Archive(msg chat.Message) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return
	}

	select {
	case w.queue <- msg:
	default:
		w.dropped.Inc()
		w.logger.Warn().Str("message_id", msg.ID).Msg("Archive queue full, dropping evicted message.")
	}
}

// Start launches the saving goroutine.
func (w *Worker) Start() {
	go w.run()
}

func (w *Worker) run() {
	defer close(w.done)

	batch := make([]chat.Message, 0, maxBatch)
	for msg := range w.queue {
		batch = append(batch[:0], msg)

	fill:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-w.queue:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}

		w.save(batch)
	}
}

func (w *Worker) save(batch []chat.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := w.store.Save(ctx, batch); err != nil {
		w.failed.Add(float64(len(batch)))
		w.logger.Error().Err(err).Int("count", len(batch)).Msg("Failed to archive evicted messages.")
		return
	}
	w.logger.Debug().Int("count", len(batch)).Msg("Archived evicted messages.")
}

// Stop rejects further messages and waits until the queue is drained or ctx expires.
// It does not close the store.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
