package rtc

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Conference/internal/app/sfu"
	"github.com/dkeye/Conference/internal/core"
	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const rembInterval = 5 * time.Second

// Producer receives one client stream and feeds it into a relay.
type Producer struct {
	id        string
	kind      core.MediaKind
	codec     core.RtpCodec
	transport *Transport
	receiver  *webrtc.RTPReceiver
	coding    webrtc.RTPCodingParameters
	relay     *sfu.Relay
	logger    zerolog.Logger

	track   *webrtc.TrackRemote
	started chan struct{}
	done    chan struct{}
	once    sync.Once
	paused  atomic.Bool

	keyFrameRequests atomic.Uint64
}

func newProducer(t *Transport, kind core.MediaKind, codec core.RtpCodec, receiver *webrtc.RTPReceiver, coding webrtc.RTPCodingParameters) *Producer {
	id := uuid.NewString()
	return &Producer{
		id:        id,
		kind:      kind,
		codec:     codec,
		transport: t,
		receiver:  receiver,
		coding:    coding,
		started:   make(chan struct{}),
		done:      make(chan struct{}),
		logger: log.With().
			Str("module", "rtc.producer").
			Str("producer_id", id).
			Str("kind", string(kind)).
			Logger(),
	}
}

func (p *Producer) ID() string           { return p.id }
func (p *Producer) Kind() core.MediaKind { return p.kind }

// start binds the receiver once DTLS is up.
func (p *Producer) start() {
	err := p.receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{RTPCodingParameters: p.coding}},
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("receive")
		p.Close()
		return
	}
	p.track = p.receiver.Track()
	close(p.started)
	p.logger.Info().Uint32("ssrc", uint32(p.coding.SSRC)).Msg("receiving")
	p.transport.router.worker.goSafe("producer remb", p.rembLoop)
}

// ReadRTP makes the producer the source of its own relay.
func (p *Producer) ReadRTP() (*rtp.Packet, error) {
	select {
	case <-p.started:
	case <-p.done:
		return nil, io.EOF
	}
	pkt, _, err := p.track.ReadRTP()
	return pkt, err
}

// rembLoop caps the sender at the transport's incoming bitrate.
func (p *Producer) rembLoop() {
	ticker := time.NewTicker(rembInterval)
	defer ticker.Stop()
	for {
		if bps := p.transport.maxIncoming.Load(); bps > 0 {
			_, err := p.transport.dtls.WriteRTCP([]rtcp.Packet{&rtcp.ReceiverEstimatedMaximumBitrate{
				Bitrate: float32(bps),
				SSRCs:   []uint32{uint32(p.coding.SSRC)},
			}})
			if err != nil {
				p.logger.Debug().Err(err).Msg("remb")
			}
		}
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}
	}
}

func (p *Producer) requestKeyFrame() {
	if p.kind != core.KindVideo || p.Closed() {
		return
	}
	p.keyFrameRequests.Add(1)
	select {
	case <-p.started:
	default:
		return
	}
	_, err := p.transport.dtls.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(p.coding.SSRC)}})
	if err != nil {
		p.logger.Debug().Err(err).Msg("pli")
	}
}

func (p *Producer) Pause() error {
	if p.Closed() {
		return nil
	}
	p.paused.Store(true)
	p.relay.Pause()
	return nil
}

func (p *Producer) Resume() error {
	if p.Closed() {
		return nil
	}
	p.relay.Resume()
	// Only a real unpause needs a fresh keyframe; recomputes resume
	// already-flowing producers all the time.
	if p.paused.CompareAndSwap(true, false) {
		p.requestKeyFrame()
	}
	return nil
}

func (p *Producer) Paused() bool { return p.paused.Load() }

func (p *Producer) Close() {
	p.once.Do(func() {
		close(p.done)
		p.transport.router.removeProducer(p.id)
		if err := p.receiver.Stop(); err != nil {
			p.logger.Debug().Err(err).Msg("receiver stop")
		}
		p.transport.forget(p.id)
		p.logger.Info().Msg("producer closed")
	})
}

func (p *Producer) Closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
