package signal

import (
	"errors"

	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Hub encodes push events and hands frames to session connections. It is
// the room Notifier, so every method must return without blocking.
type Hub struct {
	Registry *app.Registry
	Policy   app.Policy
}

func NewHub(registry *app.Registry, policy app.Policy) *Hub {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	return &Hub{Registry: registry, Policy: policy}
}

// Push sends a typed event to sid.
func (h *Hub) Push(sid core.SessionID, typ string, data any) {
	b, err := encodePush(typ, data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal.hub").Str("type", typ).Msg("encode push")
		return
	}
	h.Send(sid, b)
}

func (h *Hub) broadcast(to []core.SessionID, typ string, data any) {
	b, err := encodePush(typ, data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal.hub").Str("type", typ).Msg("encode push")
		return
	}
	for _, sid := range to {
		h.Send(sid, b)
	}
}

// Send queues an encoded frame for sid. A full queue is resolved by the
// backpressure policy.
func (h *Hub) Send(sid core.SessionID, frame []byte) {
	conn, ok := h.Registry.Signal(sid)
	if !ok {
		return
	}
	err := conn.TrySend(frame)
	switch {
	case err == nil:
	case errors.Is(err, ErrBackpressure):
		h.backpressure(sid)
	default:
		log.Debug().Err(err).Str("module", "signal.hub").Str("sid", string(sid)).Msg("send")
	}
}

func (h *Hub) backpressure(sid core.SessionID) {
	var room *core.Room
	if c, ok := h.Registry.ClientOf(sid); ok {
		room = c.Room()
	}
	switch h.Policy.OnBackPressure(room, sid) {
	case app.KickMember:
		metrics.SignalBackpressure.WithLabelValues("kick").Inc()
		log.Warn().Str("module", "signal.hub").Str("sid", string(sid)).Msg("backpressure: kick")
		h.Registry.Cancel(sid)
	case app.MarkSlow:
		metrics.SignalBackpressure.WithLabelValues("slow").Inc()
		log.Warn().Str("module", "signal.hub").Str("sid", string(sid)).Msg("backpressure: slow session")
	default:
		metrics.SignalBackpressure.WithLabelValues("drop").Inc()
		log.Debug().Str("module", "signal.hub").Str("sid", string(sid)).Msg("backpressure: frame dropped")
	}
}

func (h *Hub) ActiveSpeakers(to core.SessionID, top []string) {
	if top == nil {
		top = []string{}
	}
	h.Push(to, EventUpdateActiveSpeakers, top)
}

func (h *Hub) ProducersToConsume(to core.SessionID, ev core.ProducersToConsume) {
	h.Push(to, EventNewProducersToConsume, newConsumeData(ev.RouterRtpCapabilities, ev.Targets, ev.ActiveSpeakers))
}

func (h *Hub) NewRoom(info app.RoomInfo) {
	h.broadcast(h.Registry.Sessions(), EventNewRoom, roomSummary{RoomID: info.ID, RoomName: info.Name})
}

func (h *Hub) NewMessage(to []core.SessionID, m domain.Message) {
	h.broadcast(to, EventNewMessage, m)
}
