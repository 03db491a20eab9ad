package rtc

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultObserverInterval = 300 * time.Millisecond

	// scores are loudness on a 0..127 scale, 127 being the loudest.
	levelAlpha      = 0.3
	silenceDecay    = 0.5
	speechThreshold = 40.0
)

var ErrObserverClosed = errors.New("observer closed")

// Observer picks the dominant speaker among registered audio producers
// from smoothed RFC 6464 levels, and reports it whenever it changes.
type Observer struct {
	interval time.Duration
	logger   zerolog.Logger
	stop     chan struct{}

	mu       sync.Mutex
	scores   map[string]float64
	heard    map[string]bool
	dominant string
	fn       func(string)
	closed   bool
}

func newObserver(interval time.Duration, logger zerolog.Logger) *Observer {
	if interval <= 0 {
		interval = DefaultObserverInterval
	}
	return &Observer{
		interval: interval,
		logger:   logger.With().Str("component", "observer").Logger(),
		stop:     make(chan struct{}),
		scores:   make(map[string]float64),
		heard:    make(map[string]bool),
	}
}

func (o *Observer) AddProducer(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrObserverClosed
	}
	if _, ok := o.scores[id]; !ok {
		o.scores[id] = 0
	}
	return nil
}

func (o *Observer) RemoveProducer(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.scores, id)
	delete(o.heard, id)
	if o.dominant == id {
		o.dominant = ""
	}
	return nil
}

func (o *Observer) OnDominantSpeaker(fn func(string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fn = fn
}

// Report feeds one audio level in -dBov (0 loudest, 127 silence).
// Levels of unregistered producers are dropped.
func (o *Observer) Report(id string, level uint8, voice bool) {
	loudness := 127 - float64(min(level, 127))
	if !voice {
		loudness /= 2
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.scores[id]
	if !ok {
		return
	}
	o.scores[id] = s + levelAlpha*(loudness-s)
	o.heard[id] = true
}

// tick decays producers that stayed silent and returns the new dominant
// speaker, if it changed.
func (o *Observer) tick() (string, func(string), bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return "", nil, false
	}
	best, bestScore := "", speechThreshold
	for id, s := range o.scores {
		if !o.heard[id] {
			s *= silenceDecay
			o.scores[id] = s
		}
		if s > bestScore || (s == bestScore && best != "" && id < best) {
			best, bestScore = id, s
		}
	}
	clear(o.heard)
	if best == "" || best == o.dominant {
		return "", nil, false
	}
	o.dominant = best
	return best, o.fn, true
}

func (o *Observer) run() {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
		}
		id, fn, changed := o.tick()
		if changed && fn != nil {
			o.logger.Debug().Str("producer_id", id).Msg("dominant speaker")
			fn(id)
		}
	}
}

func (o *Observer) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.stop)
}
