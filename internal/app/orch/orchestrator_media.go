package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Conference/internal/core"
	"github.com/rs/zerolog/log"
)

type ConsumerOptions struct {
	ProducerID    string             `json:"producerId"`
	ID            string             `json:"id"`
	Kind          core.MediaKind     `json:"kind"`
	RtpParameters core.RtpParameters `json:"rtpParameters"`
}

// RequestTransport provisions an upstream transport, or a downstream one
// paired with the remote audio producer and that peer's video producer.
func (o *Orchestrator) RequestTransport(ctx context.Context, sid core.SessionID, typ core.TransportType, audioPID string) (core.TransportParams, error) {
	c, err := o.client(sid)
	if err != nil {
		return core.TransportParams{}, err
	}
	var videoPID string
	if typ == core.TransportConsumer {
		target, ok := c.Room().TargetFor(audioPID)
		if !ok {
			return core.TransportParams{}, fmt.Errorf("%w: unknown producer %s", core.ErrProvisioning, audioPID)
		}
		videoPID = target.VideoPID
	}

	tctx, cancel := o.withTimeout(ctx)
	defer cancel()
	params, err := c.AddTransport(tctx, typ, audioPID, videoPID)
	return params, timedOut(tctx, err)
}

func (o *Orchestrator) ConnectTransport(ctx context.Context, sid core.SessionID, typ core.TransportType, audioPID string, params core.ConnectParams) error {
	c, err := o.client(sid)
	if err != nil {
		return err
	}
	tctx, cancel := o.withTimeout(ctx)
	defer cancel()
	return timedOut(tctx, c.ConnectTransport(tctx, typ, audioPID, params))
}

// StartProducing publishes one of the client's streams and recomputes the
// room so the new producer is paused or forwarded right away.
func (o *Orchestrator) StartProducing(ctx context.Context, sid core.SessionID, kind core.MediaKind, rtp core.RtpParameters) (string, error) {
	c, err := o.client(sid)
	if err != nil {
		return "", err
	}
	tctx, cancel := o.withTimeout(ctx)
	defer cancel()
	p, err := c.Produce(tctx, kind, rtp)
	if err != nil {
		return "", timedOut(tctx, err)
	}
	c.Room().RecomputeActiveSpeakers()
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("kind", string(kind)).Str("producer_id", p.ID()).Msg("producing")
	return p.ID(), nil
}

func (o *Orchestrator) ConsumeMedia(ctx context.Context, sid core.SessionID, caps core.RtpCapabilities, producerID string, kind core.MediaKind) (ConsumerOptions, error) {
	c, err := o.client(sid)
	if err != nil {
		return ConsumerOptions{}, fmt.Errorf("%w: %w", core.ErrConsumeFailed, err)
	}
	tctx, cancel := o.withTimeout(ctx)
	defer cancel()
	cons, err := c.Consume(tctx, kind, producerID, caps)
	if err != nil {
		return ConsumerOptions{}, timedOut(tctx, err)
	}
	return ConsumerOptions{
		ProducerID:    cons.ProducerID(),
		ID:            cons.ID(),
		Kind:          cons.Kind(),
		RtpParameters: cons.RtpParameters(),
	}, nil
}

// UnpauseConsumer treats a consumer that no longer exists as already
// handled: its producer left between consume and unpause.
func (o *Orchestrator) UnpauseConsumer(_ context.Context, sid core.SessionID, producerID string, kind core.MediaKind) error {
	c, err := o.client(sid)
	if err != nil {
		return err
	}
	err = c.UnpauseConsumer(kind, producerID)
	if errors.Is(err, core.ErrNoTransport) {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("producer_id", producerID).Msg("unpause without consumer")
		return nil
	}
	return err
}

func (o *Orchestrator) AudioChange(sid core.SessionID, mute bool) {
	c, err := o.client(sid)
	if err != nil {
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Msg("audio change outside a room")
		return
	}
	c.SetAudioMuted(mute)
}
