package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrNoWorkers = errors.New("no media workers")

type WorkerStats struct {
	ID      int `json:"id"`
	Routers int `json:"routers"`
}

// WorkerPool assigns rooms to media workers.
type WorkerPool struct {
	mu      sync.Mutex
	workers []core.Worker
	next    int
}

func NewWorkerPool(workers ...core.Worker) *WorkerPool {
	return &WorkerPool{workers: workers}
}

// Pick returns the live worker hosting the fewest routers. Ties go to the
// first candidate after the previously picked one.
func (p *WorkerPool) Pick() (core.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.workers)
	if n == 0 {
		return nil, ErrNoWorkers
	}
	best, bestLoad := -1, 0
	for i := range n {
		idx := (p.next + i) % n
		w := p.workers[idx]
		if dead(w) {
			continue
		}
		if load := w.RouterCount(); best < 0 || load < bestLoad {
			best, bestLoad = idx, load
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("%w: no live worker left", core.ErrWorkerLost)
	}
	p.next = (best + 1) % n
	return p.workers[best], nil
}

type workerDeath struct{ w core.Worker }

func (d *workerDeath) Error() string { return fmt.Sprintf("worker %d died", d.w.ID()) }

// Supervise blocks until ctx is done or a worker dies. A dead worker's
// routers cannot be moved, so onDeath is expected to end the process.
func (p *WorkerPool) Supervise(ctx context.Context, onDeath func(core.Worker, error)) {
	p.mu.Lock()
	workers := append([]core.Worker(nil), p.workers...)
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-w.Died():
				return &workerDeath{w: w}
			}
		})
	}
	err := g.Wait()
	var death *workerDeath
	if errors.As(err, &death) {
		log.Error().Err(death.w.Err()).Str("module", "app.workers").Int("worker", death.w.ID()).Msg("media worker died")
		onDeath(death.w, fmt.Errorf("%w: %w", core.ErrWorkerLost, death.w.Err()))
	}
}

func (p *WorkerPool) Stats() []WorkerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]WorkerStats, 0, len(p.workers))
	for _, w := range p.workers {
		n := w.RouterCount()
		metrics.WorkerRouters.WithLabelValues(strconv.Itoa(w.ID())).Set(float64(n))
		out = append(out, WorkerStats{ID: w.ID(), Routers: n})
	}
	return out
}

func (p *WorkerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		w.Close()
	}
}

func dead(w core.Worker) bool {
	select {
	case <-w.Died():
		return true
	default:
		return false
	}
}
