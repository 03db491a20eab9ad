package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Conference/internal/core"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrAlreadyConnected = errors.New("transport already connected")

// Transport is one client's ICE + DTLS leg built from pion's ORTC objects.
// Producers and consumers created before the handshake completes start
// once it does.
type Transport struct {
	id       string
	router   *Router
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	params   core.TransportParams
	logger   zerolog.Logger

	maxIncoming     atomic.Uint32
	initialOutgoing uint32

	connecting atomic.Bool
	ready      chan struct{}
	done       chan struct{}
	closed     atomic.Bool

	mu        sync.Mutex
	producers map[string]*Producer
	consumers map[string]*Consumer
}

func newTransport(ctx context.Context, r *Router, opts core.TransportOptions) (*Transport, error) {
	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{
		ICEServers: r.worker.settings.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	gathered := make(chan struct{})
	var once sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(gathered) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice gather: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice gather: %w", ctx.Err())
	}

	ice := r.api.NewICETransport(gatherer)
	dtls, err := r.api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice parameters: %w", err)
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice candidates: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls parameters: %w", err)
	}

	t := &Transport{
		id:              uuid.NewString(),
		router:          r,
		gatherer:        gatherer,
		ice:             ice,
		dtls:            dtls,
		initialOutgoing: opts.InitialAvailableOutgoingBitrate,
		ready:           make(chan struct{}),
		done:            make(chan struct{}),
		producers:       make(map[string]*Producer),
		consumers:       make(map[string]*Consumer),
	}
	t.params = core.TransportParams{
		ID:             t.id,
		IceParameters:  iceParametersOf(iceParams),
		IceCandidates:  make([]core.IceCandidate, 0, len(candidates)),
		DtlsParameters: dtlsParametersOf(dtlsParams),
	}
	for _, c := range candidates {
		t.params.IceCandidates = append(t.params.IceCandidates, iceCandidateOf(c))
	}
	t.logger = log.With().
		Str("module", "rtc.transport").
		Str("router_id", r.id).
		Str("transport_id", t.id).
		Logger()

	ice.OnConnectionStateChange(func(s webrtc.ICETransportState) {
		t.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICETransportStateFailed || s == webrtc.ICETransportStateClosed {
			t.Close()
		}
	})
	t.logger.Info().Int("candidates", len(candidates)).Uint32("initial_outgoing_bps", t.initialOutgoing).Msg("transport created")
	return t, nil
}

func (t *Transport) ID() string                   { return t.id }
func (t *Transport) Params() core.TransportParams { return t.params }

func (t *Transport) SetMaxIncomingBitrate(bps uint32) error {
	t.maxIncoming.Store(bps)
	return nil
}

// Connect validates the remote parameters and runs the ICE and DTLS
// handshake in the background. A handshake that does not finish within
// the worker's timeout closes the transport.
func (t *Transport) Connect(ctx context.Context, params core.ConnectParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if params.IceParameters == nil {
		return ErrMissingICE
	}
	remote := make([]webrtc.ICECandidate, 0, len(params.IceCandidates))
	for _, c := range params.IceCandidates {
		wc, err := toICECandidate(c)
		if err != nil {
			return fmt.Errorf("remote candidate: %w", err)
		}
		remote = append(remote, wc)
	}
	select {
	case <-t.done:
		return core.ErrClientClosed
	default:
	}
	if !t.connecting.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	iceParams := toICEParameters(*params.IceParameters)
	dtlsParams := toDTLSParameters(params.DtlsParameters)
	t.router.worker.goSafe("transport handshake", func() {
		t.handshake(iceParams, remote, dtlsParams)
	})
	return nil
}

func (t *Transport) handshake(iceParams webrtc.ICEParameters, remote []webrtc.ICECandidate, dtlsParams webrtc.DTLSParameters) {
	timer := time.AfterFunc(t.router.worker.settings.HandshakeTimeout, func() {
		select {
		case <-t.ready:
		default:
			t.logger.Warn().Msg("handshake timed out")
			t.Close()
		}
	})
	defer timer.Stop()

	for i := range remote {
		if err := t.ice.AddRemoteCandidate(&remote[i]); err != nil {
			t.logger.Warn().Err(err).Msg("add remote candidate")
		}
	}
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(t.gatherer, iceParams, &role); err != nil {
		t.logger.Warn().Err(err).Msg("ice start")
		t.Close()
		return
	}
	if err := t.dtls.Start(dtlsParams); err != nil {
		t.logger.Warn().Err(err).Msg("dtls start")
		t.Close()
		return
	}
	close(t.ready)
	t.logger.Info().Msg("transport connected")
}

// whenReady runs fn once the handshake completes, unless the transport
// closes first.
func (t *Transport) whenReady(name string, fn func()) {
	t.router.worker.goSafe(name, func() {
		select {
		case <-t.ready:
			fn()
		case <-t.done:
		}
	})
}

func (t *Transport) Produce(_ context.Context, kind core.MediaKind, params core.RtpParameters) (core.Producer, error) {
	codec, err := routerCodec(t.router.codecs, kind, params)
	if err != nil {
		return nil, err
	}
	if len(params.Encodings) == 0 || params.Encodings[0].SSRC == 0 {
		return nil, errors.New("producer encoding ssrc required")
	}
	pt := params.Codecs[0].PayloadType
	if pt == 0 {
		pt = codec.PreferredPayloadType
	}
	receiver, err := t.router.api.NewRTPReceiver(codecType(kind), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}

	p := newProducer(t, kind, codec, receiver, webrtc.RTPCodingParameters{
		SSRC:        webrtc.SSRC(params.Encodings[0].SSRC),
		PayloadType: webrtc.PayloadType(pt),
		RID:         params.Encodings[0].RID,
	})
	var tap func(*rtp.Packet)
	if kind == core.KindAudio {
		tap = t.router.audioTap(p.id, params.HeaderExtensionID(core.AudioLevelURI))
	}
	t.router.addProducer(p)
	p.relay = t.router.relays.StartRelay(t.router.ctx, p.id, p, tap)

	t.mu.Lock()
	t.producers[p.id] = p
	t.mu.Unlock()
	t.whenReady("producer receive", p.start)
	return p, nil
}

func (t *Transport) Consume(_ context.Context, producerID string, caps core.RtpCapabilities, paused bool) (core.Consumer, error) {
	p, ok := t.router.producer(producerID)
	if !ok || p.Closed() {
		return nil, fmt.Errorf("unknown producer %s", producerID)
	}
	if !caps.Supports(p.codec) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, p.codec.MimeType)
	}
	c, err := newConsumer(t, p, paused)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.consumers[c.id] = c
	t.mu.Unlock()
	t.whenReady("consumer send", c.start)
	return c, nil
}

func (t *Transport) forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.producers, id)
	delete(t.consumers, id)
}

// Close may be reentered from pion state callbacks; only the first call
// tears down.
func (t *Transport) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	close(t.done)
	t.mu.Lock()
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	for _, p := range producers {
		p.Close()
	}
	if err := t.dtls.Stop(); err != nil {
		t.logger.Debug().Err(err).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		t.logger.Debug().Err(err).Msg("ice stop")
	}
	if err := t.gatherer.Close(); err != nil {
		t.logger.Debug().Err(err).Msg("gatherer close")
	}
	t.router.removeTransport(t.id)
	t.logger.Info().Msg("transport closed")
}
