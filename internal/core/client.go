package core

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Client is one connection's participant state inside a room.
// Fields below the blank line are guarded by room.mu.
type Client struct {
	id     SessionID
	name   string
	room   *Room
	logger zerolog.Logger

	upstream    Transport
	producers   map[MediaKind]Producer
	downstreams []*DownstreamTransport
	selfMuted   bool
	closed      bool

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(id SessionID, name string, room *Room) *Client {
	return &Client{
		id:        id,
		name:      name,
		room:      room,
		producers: make(map[MediaKind]Producer, 2),
		done:      make(chan struct{}),
		logger: log.With().
			Str("module", "core.client").
			Str("sid", string(id)).
			Str("room_id", string(room.ID())).
			Logger(),
	}
}

func (c *Client) ID() SessionID { return c.id }
func (c *Client) Name() string  { return c.name }
func (c *Client) Room() *Room   { return c.room }

// Done is closed once Close has released every resource.
func (c *Client) Done() <-chan struct{} { return c.done }

// AddTransport provisions a transport on the room's router. A producer
// transport replaces the upstream one; a consumer transport is paired with
// the remote peer's audio and video producer ids.
func (c *Client) AddTransport(ctx context.Context, typ TransportType, audioPID, videoPID string) (TransportParams, error) {
	t, err := c.room.router.CreateWebRtcTransport(ctx, TransportOptions{
		InitialAvailableOutgoingBitrate: c.room.bitrates.InitialOutgoing,
	})
	if err != nil {
		return TransportParams{}, fmt.Errorf("%w: %w", ErrProvisioning, err)
	}
	if limit := c.room.bitrates.MaxIncoming; limit > 0 {
		if err := t.SetMaxIncomingBitrate(limit); err != nil {
			c.logger.Warn().Err(err).Str("transport_id", t.ID()).Msg("set max incoming bitrate")
		}
	}

	var (
		replaced   Transport
		superseded []*DownstreamTransport
	)
	c.room.mu.Lock()
	if c.closed {
		c.room.mu.Unlock()
		t.Close()
		return TransportParams{}, ErrClientClosed
	}
	switch typ {
	case TransportProducer:
		replaced = c.upstream
		c.upstream = t
	default:
		// The latest request for a peer wins; an earlier transport for the
		// same audio producer could never be reached again.
		superseded = c.dropDownstreamLocked(audioPID)
		c.downstreams = append(c.downstreams, newDownstreamTransport(t, audioPID, videoPID, &c.room.mu))
	}
	c.room.mu.Unlock()

	if replaced != nil {
		replaced.Close()
	}
	closeDownstreams(superseded)
	c.logger.Info().Str("type", string(typ)).Str("transport_id", t.ID()).Str("audio_pid", audioPID).Msg("transport created")
	return t.Params(), nil
}

func (c *Client) ConnectTransport(ctx context.Context, typ TransportType, audioPID string, params ConnectParams) error {
	c.room.mu.Lock()
	if c.closed {
		c.room.mu.Unlock()
		return ErrClientClosed
	}
	var t Transport
	switch typ {
	case TransportProducer:
		t = c.upstream
	default:
		if dt := c.downstreamByAudioLocked(audioPID); dt != nil {
			t = dt.transport
		}
	}
	c.room.mu.Unlock()

	if t == nil {
		return fmt.Errorf("%w: %w", ErrNegotiation, ErrNoTransport)
	}
	if err := t.Connect(ctx, params); err != nil {
		return fmt.Errorf("%w: %w", ErrNegotiation, err)
	}
	return nil
}

// Produce creates a producer on the upstream transport and registers it.
// A producer that cannot be registered is closed again.
func (c *Client) Produce(ctx context.Context, kind MediaKind, rtp RtpParameters) (Producer, error) {
	c.room.mu.Lock()
	up := c.upstream
	closed := c.closed
	c.room.mu.Unlock()
	if closed {
		return nil, ErrClientClosed
	}
	if up == nil {
		return nil, fmt.Errorf("%w: %w", ErrProvisioning, ErrNoTransport)
	}

	p, err := up.Produce(ctx, kind, rtp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvisioning, err)
	}
	if err := c.AddProducer(kind, p); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// AddProducer records p under kind. An audio producer is registered with
// the dominant speaker observer and enters the ranking right away.
func (c *Client) AddProducer(kind MediaKind, p Producer) error {
	var released []*DownstreamTransport
	var replaced Producer

	c.room.mu.Lock()
	if c.closed {
		c.room.mu.Unlock()
		return ErrClientClosed
	}
	old, hadOld := c.producers[kind]
	if hadOld && old.ID() == p.ID() {
		c.room.mu.Unlock()
		return nil
	}
	if kind == KindAudio {
		if err := c.room.observer.AddProducer(p.ID()); err != nil {
			c.room.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrRegistration, err)
		}
		if hadOld {
			released = c.room.dropSpeakerLocked(old.ID())
		}
		if !slices.Contains(c.room.speakers, p.ID()) {
			c.room.speakers = append(c.room.speakers, p.ID())
		}
	}
	if hadOld {
		replaced = old
	}
	c.producers[kind] = p
	c.room.mu.Unlock()

	if replaced != nil {
		replaced.Close()
	}
	closeDownstreams(released)
	c.logger.Info().Str("kind", string(kind)).Str("producer_id", p.ID()).Msg("producer added")
	return nil
}

// Consume creates a paused consumer for producerID on the downstream
// transport paired with it.
func (c *Client) Consume(ctx context.Context, kind MediaKind, producerID string, caps RtpCapabilities) (Consumer, error) {
	if !c.room.router.CanConsume(producerID, caps) {
		return nil, fmt.Errorf("%w: producer %s", ErrCannotConsume, producerID)
	}

	c.room.mu.Lock()
	if c.closed {
		c.room.mu.Unlock()
		return nil, ErrClientClosed
	}
	dt := c.downstreamForLocked(kind, producerID)
	c.room.mu.Unlock()
	if dt == nil {
		return nil, fmt.Errorf("%w: %w", ErrConsumeFailed, ErrNoTransport)
	}

	cons, err := dt.transport.Consume(ctx, producerID, caps, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConsumeFailed, err)
	}
	if err := c.AddConsumer(kind, cons, dt); err != nil {
		cons.Close()
		return nil, fmt.Errorf("%w: %w", ErrConsumeFailed, err)
	}
	return cons, nil
}

// AddConsumer attaches cons to the kind slot of dt. dt must belong to c and
// be paired with the consumer's producer.
func (c *Client) AddConsumer(kind MediaKind, cons Consumer, dt *DownstreamTransport) error {
	c.room.mu.Lock()
	if c.closed {
		c.room.mu.Unlock()
		return ErrClientClosed
	}
	if !slices.Contains(c.downstreams, dt) {
		c.room.mu.Unlock()
		return ErrNoTransport
	}
	if dt.PairedID(kind) != cons.ProducerID() {
		c.room.mu.Unlock()
		return ErrPairMismatch
	}
	old, hadOld := dt.consumers[kind]
	dt.consumers[kind] = cons
	c.room.mu.Unlock()

	if hadOld && old != cons {
		old.Close()
	}
	c.logger.Info().Str("kind", string(kind)).Str("consumer_id", cons.ID()).Str("producer_id", cons.ProducerID()).Msg("consumer added")
	return nil
}

// UnpauseConsumer resumes the consumer of producerID once the client is
// ready to render it. Consumers of muted speakers stay paused.
func (c *Client) UnpauseConsumer(kind MediaKind, producerID string) error {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	dt := c.downstreamByConsumerLocked(kind, producerID)
	if dt == nil {
		return ErrNoTransport
	}
	if !c.room.isActiveLocked(dt.audioPID) {
		return nil
	}
	return dt.consumers[kind].Resume()
}

// SetAudioMuted pauses or resumes the client's own microphone.
func (c *Client) SetAudioMuted(mute bool) {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	c.selfMuted = mute
	p, ok := c.producers[KindAudio]
	if !ok {
		return
	}
	var err error
	switch {
	case mute:
		err = p.Pause()
	case c.room.isActiveLocked(p.ID()):
		err = p.Resume()
	}
	if err != nil {
		c.logger.Warn().Err(err).Bool("mute", mute).Msg("audio change")
	}
}

// Close leaves the room first, so the ranking no longer holds the client's
// producer, then releases every transport, producer and consumer.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.room.RemoveClient(c)

		c.room.mu.Lock()
		up := c.upstream
		producers := make([]Producer, 0, len(c.producers))
		for _, p := range c.producers {
			producers = append(producers, p)
		}
		downs := c.downstreams
		c.upstream = nil
		c.producers = make(map[MediaKind]Producer)
		c.downstreams = nil
		c.room.mu.Unlock()

		var wg conc.WaitGroup
		for _, p := range producers {
			wg.Go(p.Close)
		}
		for _, dt := range downs {
			wg.Go(dt.close)
		}
		if up != nil {
			wg.Go(up.Close)
		}
		wg.Wait()

		close(c.done)
		c.logger.Info().Int("producers", len(producers)).Int("downstreams", len(downs)).Msg("client closed")
	})
}

func (c *Client) Producer(kind MediaKind) (Producer, bool) {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	p, ok := c.producers[kind]
	return p, ok
}

func (c *Client) Upstream() (Transport, bool) {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	return c.upstream, c.upstream != nil
}

func (c *Client) Downstreams() []*DownstreamTransport {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	return slices.Clone(c.downstreams)
}

// DownstreamByAudio finds the transport paired with a remote audio producer.
func (c *Client) DownstreamByAudio(audioPID string) (*DownstreamTransport, bool) {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	dt := c.downstreamByAudioLocked(audioPID)
	return dt, dt != nil
}

// DownstreamByConsumer finds the transport whose kind consumer reads producerID.
func (c *Client) DownstreamByConsumer(kind MediaKind, producerID string) (*DownstreamTransport, bool) {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	dt := c.downstreamByConsumerLocked(kind, producerID)
	return dt, dt != nil
}

func (c *Client) ownsAudioLocked(pid string) bool {
	p, ok := c.producers[KindAudio]
	return ok && p.ID() == pid
}

func (c *Client) pauseProducersLocked() {
	for kind, p := range c.producers {
		if err := p.Pause(); err != nil {
			c.logger.Warn().Err(err).Str("kind", string(kind)).Msg("producer pause")
		}
	}
}

func (c *Client) resumeProducersLocked() {
	for kind, p := range c.producers {
		if kind == KindAudio && c.selfMuted {
			continue
		}
		if err := p.Resume(); err != nil {
			c.logger.Warn().Err(err).Str("kind", string(kind)).Msg("producer resume")
		}
	}
}

func (c *Client) downstreamByAudioLocked(audioPID string) *DownstreamTransport {
	for _, dt := range c.downstreams {
		if dt.audioPID == audioPID {
			return dt
		}
	}
	return nil
}

func (c *Client) downstreamForLocked(kind MediaKind, producerID string) *DownstreamTransport {
	for _, dt := range c.downstreams {
		if dt.PairedID(kind) == producerID {
			return dt
		}
	}
	return nil
}

func (c *Client) downstreamByConsumerLocked(kind MediaKind, producerID string) *DownstreamTransport {
	for _, dt := range c.downstreams {
		if cons, ok := dt.consumers[kind]; ok && cons.ProducerID() == producerID {
			return dt
		}
	}
	return nil
}

// dropDownstreamLocked detaches every transport paired with a departed
// audio producer and hands them back for closing.
func (c *Client) dropDownstreamLocked(audioPID string) []*DownstreamTransport {
	var dropped []*DownstreamTransport
	c.downstreams = slices.DeleteFunc(c.downstreams, func(dt *DownstreamTransport) bool {
		if dt.audioPID == audioPID {
			dropped = append(dropped, dt)
			return true
		}
		return false
	})
	return dropped
}
