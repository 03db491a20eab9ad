package sfu

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// PacketSource yields RTP from one producer's incoming track.
type PacketSource interface {
	ReadRTP() (*rtp.Packet, error)
}

// Relay forwards one producer's packets to every consumer of it.
type Relay struct {
	ProducerID string
	Src        PacketSource

	// tap sees every packet read, paused or not.
	tap    func(*rtp.Packet)
	paused atomic.Bool

	mu        sync.RWMutex
	outTracks map[string]*OutTrack

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(producerID string, src PacketSource, tap func(*rtp.Packet), cancel context.CancelFunc) *Relay {
	return &Relay{
		ProducerID: producerID,
		Src:        src,
		tap:        tap,
		outTracks:  make(map[string]*OutTrack),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Pause stops forwarding without tearing down subscribers.
func (r *Relay) Pause()       { r.paused.Store(true) }
func (r *Relay) Resume()      { r.paused.Store(false) }
func (r *Relay) Paused() bool { return r.paused.Load() }

// Done is closed when the read loop exits.
func (r *Relay) Done() <-chan struct{} { return r.done }

// loop reads RTP packets from the source and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, err := r.Src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("relay read RTP stopped")
			r.markAllDelete()
			return
		}
		if r.tap != nil {
			r.tap(pkt)
		}
		if r.paused.Load() {
			continue
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for cid, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, cid)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Sink.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("consumer_id", cid).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, cid)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cid := range dirty {
		if ot, ok := r.outTracks[cid]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, cid)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

func (r *Relay) AddOutTrack(consumerID string, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[consumerID] = ot
}

func (r *Relay) OutTrack(consumerID string) (*OutTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.outTracks[consumerID]
	return ot, ok
}

func (r *Relay) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outTracks)
}
