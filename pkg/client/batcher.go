package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/debjordan/ModuleHeatmap/pkg/analytics"
	"github.com/debjordan/ModuleHeatmap/pkg/observability"
)

// BatcherConfig configures buffered tracking.
type BatcherConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	// MaxPending bounds buffered events; Enqueue drops beyond it.
	MaxPending int `yaml:"max_pending"`
}

// DefaultBatcherConfig returns the default batching settings.
func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{
		BatchSize:     10,
		FlushInterval: time.Minute,
		MaxPending:    10000,
	}
}

// BatcherStats counts what happened to enqueued events.
type BatcherStats struct {
	Sent     int64
	Rejected int64 // refused by the server
	Failed   int64 // lost to transport errors
	Dropped  int64 // refused by Enqueue
}

// Batcher buffers tracking requests and sends them in batches, either when
// BatchSize events are pending or every FlushInterval.
type Batcher struct {
	client *Client
	cfg    BatcherConfig
	logger *observability.Logger

	mu      sync.Mutex
	pending []analytics.TrackRequest
	closed  bool

	flushCh  chan struct{}
	closeCh  chan struct{}
	closeCtx context.Context
	wg       sync.WaitGroup

	sent, rejected, failed, dropped atomic.Int64
}

// NewBatcher starts a batcher sending through client.
func NewBatcher(client *Client, cfg BatcherConfig) *Batcher {
	defaults := DefaultBatcherConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.BatchSize > analytics.MaxBatchSize {
		cfg.BatchSize = analytics.MaxBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.MaxPending < cfg.BatchSize {
		cfg.MaxPending = defaults.MaxPending
	}

	b := &Batcher{
		client:  client,
		cfg:     cfg,
		logger:  client.logger.WithField("component", "heatmap-batcher"),
		pending: make([]analytics.TrackRequest, 0, cfg.BatchSize),
		flushCh: make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}

	b.wg.Add(1)
	go b.flushLoop()
	return b
}

// Enqueue buffers req. It never blocks on I/O and returns false when the
// batcher is closed or full.
func (b *Batcher) Enqueue(req analytics.TrackRequest) bool {
	b.mu.Lock()
	if b.closed || len(b.pending) >= b.cfg.MaxPending {
		b.mu.Unlock()
		b.dropped.Add(1)
		return false
	}
	b.pending = append(b.pending, req)
	shouldFlush := len(b.pending) >= b.cfg.BatchSize
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return true
}

// Pending returns the number of buffered events.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stats returns delivery counters.
func (b *Batcher) Stats() BatcherStats {
	return BatcherStats{
		Sent:     b.sent.Load(),
		Rejected: b.rejected.Load(),
		Failed:   b.failed.Load(),
		Dropped:  b.dropped.Load(),
	}
}

// Close stops accepting events and flushes what is buffered. It returns
// ctx.Err() if the final flush does not finish in time.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.closeCtx = ctx
	b.mu.Unlock()
	close(b.closeCh)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batcher) flushLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.closeCh:
			b.mu.Lock()
			ctx := b.closeCtx
			b.mu.Unlock()
			for b.flush(ctx) {
			}
			return
		case <-b.flushCh:
			b.flushTimed()
		case <-ticker.C:
			b.flushTimed()
		}
	}
}

func (b *Batcher) flushTimed() {
	ctx, cancel := context.WithTimeout(context.Background(), b.client.timeout)
	defer cancel()
	b.flush(ctx)
}

// flush sends at most one batch and reports whether more events remain.
func (b *Batcher) flush(ctx context.Context) (more bool) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return false
	}
	n := len(b.pending)
	if n > b.cfg.BatchSize {
		n = b.cfg.BatchSize
	}
	batch := make([]analytics.TrackRequest, n)
	copy(batch, b.pending[:n])
	b.pending = append(b.pending[:0], b.pending[n:]...)
	more = len(b.pending) > 0
	b.mu.Unlock()

	defer observability.RecoverPanicWithCallback(b.logger, "batch flush", func() {
		b.failed.Add(int64(len(batch)))
	})

	resp, err := b.client.TrackBatch(ctx, batch)
	if err != nil {
		b.failed.Add(int64(len(batch)))
		b.logger.WithError(err).WithField("count", len(batch)).Warn("heatmap batch flush failed")
		return more && ctx.Err() == nil
	}

	for _, result := range resp.Results {
		if result.Success {
			b.sent.Add(1)
		} else {
			b.rejected.Add(1)
		}
	}
	return more
}
