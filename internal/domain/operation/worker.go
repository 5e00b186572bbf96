package operation

import (
	"context"
	"sync"
	"time"

	"github.com/p2pdesk/p2pdesk-api/internal/pkg/logger"
)

// Sweeper is the unit of work run by the Worker.
type Sweeper interface {
	ExpirationSweep(ctx context.Context) (int, error)
}

// Worker runs the expiration sweep on a fixed cadence
type Worker struct {
	sweeper  Sweeper
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new expiration worker
func NewWorker(sweeper Sweeper, interval, timeout time.Duration) *Worker {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Worker{
		sweeper:  sweeper,
		interval: interval,
		timeout:  timeout,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the background worker
func (w *Worker) Start() {
	log := logger.Component("expiration-worker")
	log.Info().Dur("interval", w.interval).Msg("Starting expiration worker...")
	go w.loop()
}

// Stop signals the loop and waits for an in-flight sweep to finish
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		log := logger.Component("expiration-worker")
		log.Info().Msg("Stopping expiration worker...")
		close(w.stopCh)
	})
	<-w.done
}

func (w *Worker) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	w.RunOnce()

	for {
		select {
		case <-ticker.C:
			w.RunOnce()
		case <-w.stopCh:
			return
		}
	}
}

// RunOnce performs a single sweep bounded by the worker timeout.
func (w *Worker) RunOnce() int {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	log := logger.Component("expiration-worker")
	ctx = logger.WithContext(ctx, &log)

	log.Debug().Msg("Starting expiration sweep...")
	n, err := w.sweeper.ExpirationSweep(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Expiration sweep failed")
		return 0
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("Cancelled expired operations")
	}
	return n
}
