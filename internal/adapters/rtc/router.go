package rtc

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Conference/internal/app/sfu"
	"github.com/dkeye/Conference/internal/core"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Router hosts one room's transports and forwards producers to consumers
// through an sfu.RelayManager.
type Router struct {
	id     string
	worker *Worker
	api    *webrtc.API
	codecs []core.RtpCodec
	caps   core.RtpCapabilities
	relays *sfu.RelayManager
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	producers  map[string]*Producer
	transports map[string]*Transport
	observers  []*Observer
	closed     bool
}

func newRouter(w *Worker, codecs []core.RtpCodec) (*Router, error) {
	api, err := newAPI(codecs, w.se)
	if err != nil {
		return nil, fmt.Errorf("router api: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Router{
		id:         id,
		worker:     w,
		api:        api,
		codecs:     slices.Clone(codecs),
		caps:       capabilitiesOf(codecs),
		relays:     sfu.NewRelayManager(),
		ctx:        ctx,
		cancel:     cancel,
		producers:  make(map[string]*Producer),
		transports: make(map[string]*Transport),
		logger:     log.With().Str("module", "rtc.router").Int("worker", w.id).Str("router_id", id).Logger(),
	}, nil
}

func (r *Router) ID() string                            { return r.id }
func (r *Router) RtpCapabilities() core.RtpCapabilities { return r.caps }

// CanConsume reports whether producerID exists and caps contain its codec.
func (r *Router) CanConsume(producerID string, caps core.RtpCapabilities) bool {
	r.mu.RLock()
	p, ok := r.producers[producerID]
	r.mu.RUnlock()
	if !ok || p.Closed() {
		return false
	}
	return caps.Supports(p.codec)
}

func (r *Router) CreateActiveSpeakerObserver(_ context.Context, interval time.Duration) (core.ActiveSpeakerObserver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, core.ErrRoomClosed
	}
	o := newObserver(interval, r.logger)
	r.observers = append(r.observers, o)
	r.worker.goSafe("observer", o.run)
	return o, nil
}

func (r *Router) CreateWebRtcTransport(ctx context.Context, opts core.TransportOptions) (core.Transport, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, core.ErrRoomClosed
	}
	t, err := newTransport(ctx, r, opts)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.transports[t.id] = t
	r.mu.Unlock()
	return t, nil
}

func (r *Router) addProducer(p *Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.id] = p
}

func (r *Router) producer(id string) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) removeProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
	r.relays.StopRelay(id)
}

func (r *Router) removeTransport(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
}

// reportLevel hands a producer's audio level to every observer.
func (r *Router) reportLevel(producerID string, level uint8, voice bool) {
	r.mu.RLock()
	obs := slices.Clone(r.observers)
	r.mu.RUnlock()
	for _, o := range obs {
		o.Report(producerID, level, voice)
	}
}

// audioTap reads the RFC 6464 level of each packet of an audio producer.
func (r *Router) audioTap(producerID string, extID uint8) func(*rtp.Packet) {
	if extID == 0 {
		return nil
	}
	return func(pkt *rtp.Packet) {
		raw := pkt.GetExtension(extID)
		if raw == nil {
			return
		}
		var ext rtp.AudioLevelExtension
		if err := ext.Unmarshal(raw); err != nil {
			return
		}
		r.reportLevel(producerID, ext.Level, ext.Voice)
	}
}

func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	observers := r.observers
	r.observers = nil
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	for _, o := range observers {
		o.Close()
	}
	r.relays.StopAll()
	r.cancel()
	r.worker.routerClosed(r.id)
	r.logger.Info().Int("transports", len(transports)).Msg("router closed")
}
