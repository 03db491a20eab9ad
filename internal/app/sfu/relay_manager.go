package sfu

import (
	"context"
	"sync"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

// RelayManager indexes a router's relays by producer id.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[string]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[string]*Relay),
	}
}

// StartRelay creates a new Relay for the producer and starts its loop.
// tap may be nil.
func (m *RelayManager) StartRelay(ctx context.Context, producerID string, src PacketSource, tap func(*rtp.Packet)) *Relay {
	logger := log.With().
		Str("module", "relay").
		Str("producer_id", producerID).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(producerID, src, tap, cancel)

	m.mu.Lock()
	if old, ok := m.relays[producerID]; ok {
		logger.Info().Msg("replacing existing relay for producer")
		old.markAllDelete()
		if old.cancel != nil {
			old.cancel()
		}
	}
	m.relays[producerID] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")

	go relay.loop(relayCtx, &logger)
	return relay
}

// AddSubscriber attaches a muted OutTrack for consumerID to the producer's relay.
func (m *RelayManager) AddSubscriber(producerID, consumerID string, sink PacketSink) (*OutTrack, bool) {
	m.mu.RLock()
	relay, ok := m.relays[producerID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	ot := NewOutTrack(sink)
	relay.AddOutTrack(consumerID, ot)
	return ot, true
}

// MarkSubscriberDelete marks the consumer's OutTrack as TrackStateDelete.
func (m *RelayManager) MarkSubscriberDelete(producerID, consumerID string) {
	m.mu.RLock()
	relay, ok := m.relays[producerID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if ot, ok := relay.OutTrack(consumerID); ok {
		ot.MarkDelete()
	}
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(producerID string) {
	m.mu.Lock()
	relay, ok := m.relays[producerID]
	if ok {
		delete(m.relays, producerID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	if relay.cancel != nil {
		relay.cancel()
	}
}

func (m *RelayManager) HasRelay(producerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[producerID]
	return ok
}

func (m *RelayManager) Relay(producerID string) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.relays[producerID]
	return r, ok
}

// StopAll stops every relay, as when the router closes.
func (m *RelayManager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[string]*Relay)
	m.mu.Unlock()
	for _, r := range relays {
		r.markAllDelete()
		if r.cancel != nil {
			r.cancel()
		}
	}
}
