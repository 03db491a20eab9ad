package core

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// DownstreamTransport carries one remote peer's audio and video to its
// owning client. The pairing is fixed at creation; consumer slots are
// guarded by the owning room's lock.
type DownstreamTransport struct {
	transport Transport
	audioPID  string
	videoPID  string

	mu        *sync.Mutex
	consumers map[MediaKind]Consumer
}

func newDownstreamTransport(t Transport, audioPID, videoPID string, mu *sync.Mutex) *DownstreamTransport {
	return &DownstreamTransport{
		transport: t,
		audioPID:  audioPID,
		videoPID:  videoPID,
		mu:        mu,
		consumers: make(map[MediaKind]Consumer, 2),
	}
}

func (dt *DownstreamTransport) Transport() Transport { return dt.transport }
func (dt *DownstreamTransport) AudioPID() string     { return dt.audioPID }
func (dt *DownstreamTransport) VideoPID() string     { return dt.videoPID }

// PairedID is the producer id the given kind's slot may consume.
func (dt *DownstreamTransport) PairedID(kind MediaKind) string {
	if kind == KindVideo {
		return dt.videoPID
	}
	return dt.audioPID
}

func (dt *DownstreamTransport) Consumer(kind MediaKind) (Consumer, bool) {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	c, ok := dt.consumers[kind]
	return c, ok
}

func (dt *DownstreamTransport) pauseLocked() {
	for kind, c := range dt.consumers {
		if err := c.Pause(); err != nil {
			log.Warn().Err(err).Str("module", "core.client").Str("consumer_id", c.ID()).Str("kind", string(kind)).Msg("consumer pause")
		}
	}
}

func (dt *DownstreamTransport) resumeLocked() {
	for kind, c := range dt.consumers {
		if err := c.Resume(); err != nil {
			log.Warn().Err(err).Str("module", "core.client").Str("consumer_id", c.ID()).Str("kind", string(kind)).Msg("consumer resume")
		}
	}
}

// close must only run after dt was detached from its client.
func (dt *DownstreamTransport) close() {
	for _, c := range dt.consumers {
		c.Close()
	}
	dt.transport.Close()
}
