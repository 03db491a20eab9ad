package rtc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Conference/internal/app/sfu"
	"github.com/dkeye/Conference/internal/core"
	"github.com/google/uuid"
	"github.com/pion/randutil"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const idRunes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var rng = randutil.NewMathRandomGenerator()

// Consumer sends one producer's stream to a client over a downstream
// transport. Its out track in the producer's relay carries the pause state.
type Consumer struct {
	id        string
	producer  *Producer
	transport *Transport
	sender    *webrtc.RTPSender
	send      webrtc.RTPSendParameters
	out       *sfu.OutTrack
	rtp       core.RtpParameters
	logger    zerolog.Logger

	paused atomic.Bool
	closed atomic.Bool
	once   sync.Once
}

func newConsumer(t *Transport, p *Producer, paused bool) (*Consumer, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		capabilityOf(p.codec),
		string(p.kind)+"-"+rng.GenerateString(12, idRunes),
		"stream-"+rng.GenerateString(12, idRunes),
	)
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}
	sender, err := t.router.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp sender: %w", err)
	}
	send := sender.GetParameters()
	if len(send.Encodings) == 0 {
		_ = sender.Stop()
		return nil, errors.New("rtp sender has no encodings")
	}

	id := uuid.NewString()
	codec := p.codec
	codec.PayloadType = codec.PreferredPayloadType
	c := &Consumer{
		id:        id,
		producer:  p,
		transport: t,
		sender:    sender,
		send:      send,
		rtp: core.RtpParameters{
			Codecs:    []core.RtpCodec{codec},
			Encodings: []core.RtpEncoding{{SSRC: uint32(send.Encodings[0].SSRC)}},
		},
		logger: log.With().
			Str("module", "rtc.consumer").
			Str("consumer_id", id).
			Str("producer_id", p.id).
			Logger(),
	}
	out, ok := t.router.relays.AddSubscriber(p.id, id, track)
	if !ok {
		_ = sender.Stop()
		return nil, fmt.Errorf("producer %s has no relay", p.id)
	}
	c.out = out
	c.paused.Store(true)
	if !paused {
		_ = c.Resume()
	}
	return c, nil
}

func (c *Consumer) ID() string                        { return c.id }
func (c *Consumer) ProducerID() string                { return c.producer.id }
func (c *Consumer) Kind() core.MediaKind              { return c.producer.kind }
func (c *Consumer) RtpParameters() core.RtpParameters { return c.rtp }

// start binds the sender once DTLS is up and relays keyframe requests
// from the client to the producer.
func (c *Consumer) start() {
	if err := c.sender.Send(c.send); err != nil {
		c.logger.Warn().Err(err).Msg("send")
		return
	}
	c.logger.Info().Msg("sending")
	for {
		pkts, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				c.producer.requestKeyFrame()
			}
		}
	}
}

func (c *Consumer) Pause() error {
	if c.closed.Load() {
		return nil
	}
	c.paused.Store(true)
	c.out.MarkMuted()
	return nil
}

func (c *Consumer) Resume() error {
	if c.closed.Load() {
		return nil
	}
	c.out.MarkOk()
	if c.paused.CompareAndSwap(true, false) {
		c.producer.requestKeyFrame()
	}
	return nil
}

func (c *Consumer) Paused() bool { return c.paused.Load() }

func (c *Consumer) Close() {
	c.once.Do(func() {
		c.closed.Store(true)
		c.out.MarkDelete()
		c.transport.router.relays.MarkSubscriberDelete(c.producer.id, c.id)
		if err := c.sender.Stop(); err != nil {
			c.logger.Debug().Err(err).Msg("sender stop")
		}
		c.transport.forget(c.id)
		c.logger.Info().Msg("consumer closed")
	})
}

func (c *Consumer) Closed() bool { return c.closed.Load() }
