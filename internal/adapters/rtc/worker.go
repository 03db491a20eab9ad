package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Conference/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const DefaultHandshakeTimeout = 15 * time.Second

type WorkerSettings struct {
	ICEServers []webrtc.ICEServer
	// PortMin and PortMax bound the UDP ports of this worker; zero means any.
	PortMin uint16
	PortMax uint16
	// AnnouncedIPs replace host candidate addresses, for servers behind NAT.
	AnnouncedIPs     []string
	HandshakeTimeout time.Duration
}

// Worker is one media engine process: a setting engine shared by the
// routers it hosts. A panic in any of its goroutines kills the worker.
type Worker struct {
	id       int
	settings WorkerSettings
	se       webrtc.SettingEngine
	logger   zerolog.Logger

	mu      sync.Mutex
	routers map[string]*Router
	count   atomic.Int32

	dieOnce sync.Once
	died    chan struct{}
	err     error
	closed  atomic.Bool
}

func NewWorker(id int, settings WorkerSettings) (*Worker, error) {
	if settings.HandshakeTimeout <= 0 {
		settings.HandshakeTimeout = DefaultHandshakeTimeout
	}
	se := webrtc.SettingEngine{}
	if settings.PortMin > 0 && settings.PortMax >= settings.PortMin {
		if err := se.SetEphemeralUDPPortRange(settings.PortMin, settings.PortMax); err != nil {
			return nil, fmt.Errorf("worker %d port range %d-%d: %w", id, settings.PortMin, settings.PortMax, err)
		}
	}
	if len(settings.AnnouncedIPs) > 0 {
		se.SetNAT1To1IPs(settings.AnnouncedIPs, webrtc.ICECandidateTypeHost)
	}
	w := &Worker{
		id:       id,
		settings: settings,
		se:       se,
		routers:  make(map[string]*Router),
		died:     make(chan struct{}),
		logger:   log.With().Str("module", "rtc.worker").Int("worker", id).Logger(),
	}
	w.logger.Info().Uint16("port_min", settings.PortMin).Uint16("port_max", settings.PortMax).Msg("worker started")
	return w, nil
}

// StartWorkers creates n workers, each with its own slice of the port range.
func StartWorkers(ctx context.Context, n int, settings WorkerSettings) ([]*Worker, error) {
	if n <= 0 {
		return nil, errors.New("worker count must be positive")
	}
	workers := make([]*Worker, n)
	g, _ := errgroup.WithContext(ctx)
	for i := range n {
		s := settings
		s.PortMin, s.PortMax = portSlice(settings.PortMin, settings.PortMax, i, n)
		g.Go(func() error {
			w, err := NewWorker(i, s)
			if err != nil {
				return err
			}
			workers[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, w := range workers {
			if w != nil {
				w.Close()
			}
		}
		return nil, err
	}
	return workers, nil
}

// portSlice splits [lo, hi] into n contiguous ranges and returns the i-th.
func portSlice(lo, hi uint16, i, n int) (uint16, uint16) {
	if lo == 0 || hi < lo || n <= 1 {
		return lo, hi
	}
	span := (int(hi) - int(lo) + 1) / n
	if span == 0 {
		return lo, hi
	}
	start := int(lo) + i*span
	end := start + span - 1
	if i == n-1 {
		end = int(hi)
	}
	return uint16(start), uint16(end)
}

func (w *Worker) ID() int          { return w.id }
func (w *Worker) RouterCount() int { return int(w.count.Load()) }

func (w *Worker) CreateRouter(_ context.Context, codecs []core.RtpCodec) (core.Router, error) {
	if w.closed.Load() {
		return nil, core.ErrWorkerLost
	}
	select {
	case <-w.died:
		return nil, fmt.Errorf("%w: %w", core.ErrWorkerLost, w.err)
	default:
	}
	r, err := newRouter(w, codecs)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.routers[r.id] = r
	w.mu.Unlock()
	w.count.Add(1)
	w.logger.Info().Str("router_id", r.id).Msg("router created")
	return r, nil
}

func (w *Worker) routerClosed(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.routers[id]; ok {
		delete(w.routers, id)
		w.count.Add(-1)
	}
}

func (w *Worker) Died() <-chan struct{} { return w.died }

func (w *Worker) Err() error {
	select {
	case <-w.died:
		return w.err
	default:
		return nil
	}
}

// goSafe runs fn on its own goroutine; a panic there kills the worker.
func (w *Worker) goSafe(name string, fn func()) {
	go func() {
		defer func() {
			if v := recover(); v != nil {
				w.die(fmt.Errorf("%s panicked: %v", name, v))
			}
		}()
		fn()
	}()
}

func (w *Worker) die(err error) {
	w.dieOnce.Do(func() {
		w.err = err
		w.logger.Error().Err(err).Msg("worker died")
		close(w.died)
	})
}

func (w *Worker) Close() {
	if !w.closed.CompareAndSwap(false, true) {
		return
	}
	w.mu.Lock()
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.mu.Unlock()
	for _, r := range routers {
		r.Close()
	}
	w.logger.Info().Msg("worker closed")
}
