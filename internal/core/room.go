package core

import (
	"slices"
	"sync"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultMaxActive = 5

type RoomOptions struct {
	ID       domain.RoomID
	Name     domain.RoomName
	WorkerID int
	Router   Router
	Observer ActiveSpeakerObserver
	// MaxActive is K, the number of speakers forwarded at once.
	MaxActive int
	Bitrates  Bitrates
	Notifier  Notifier
}

// ClientInfo is a read-only view for APIs (no transport fields).
type ClientInfo struct {
	ID       SessionID `json:"id"`
	Name     string    `json:"name"`
	AudioPID string    `json:"audioPid,omitempty"`
	VideoPID string    `json:"videoPid,omitempty"`
}

// Room owns the roster, the active-speaker ranking and the message log.
// Every mutation of room state, and of the clients in it, happens under mu.
// Media engine provisioning is never awaited while mu is held.
type Room struct {
	meta      domain.Room
	workerID  int
	router    Router
	observer  ActiveSpeakerObserver
	maxActive int
	bitrates  Bitrates
	notify    Notifier
	logger    zerolog.Logger

	mu       sync.Mutex
	clients  []*Client
	speakers []string
	messages []domain.Message
	closed   bool
}

func NewRoom(opts RoomOptions) *Room {
	if opts.MaxActive <= 0 {
		opts.MaxActive = DefaultMaxActive
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	r := &Room{
		meta:      domain.Room{ID: opts.ID, Name: opts.Name},
		workerID:  opts.WorkerID,
		router:    opts.Router,
		observer:  opts.Observer,
		maxActive: opts.MaxActive,
		bitrates:  opts.Bitrates,
		notify:    opts.Notifier,
		logger: log.With().
			Str("module", "core.room").
			Str("room_id", string(opts.ID)).
			Logger(),
	}
	r.observer.OnDominantSpeaker(r.OnDominantSpeaker)
	return r
}

func (r *Room) Room() domain.Room     { return r.meta }
func (r *Room) ID() domain.RoomID     { return r.meta.ID }
func (r *Room) Name() domain.RoomName { return r.meta.Name }
func (r *Room) WorkerID() int         { return r.workerID }
func (r *Room) MaxActive() int        { return r.maxActive }

func (r *Room) RtpCapabilities() RtpCapabilities { return r.router.RtpCapabilities() }

// AddClient adds c to the roster. first reports whether the roster was
// empty, decided under the same lock hold as the insert.
func (r *Room) AddClient(c *Client) (first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, ErrRoomClosed
	}
	if c.closed {
		return false, ErrClientClosed
	}
	if slices.Contains(r.clients, c) {
		return false, nil
	}
	first = len(r.clients) == 0
	r.clients = append(r.clients, c)
	metrics.Clients.Inc()
	r.logger.Info().Str("sid", string(c.id)).Str("name", c.name).Int("clients", len(r.clients)).Msg("client added")
	return first, nil
}

// RemoveClient takes c out of the roster. If c published audio, its id
// leaves the ranking and everyone else gets a recompute before the lock is
// released, so no later reader sees the departed producer.
func (r *Room) RemoveClient(c *Client) {
	r.mu.Lock()
	released := r.removeClientLocked(c)
	r.mu.Unlock()
	closeDownstreams(released)
}

func (r *Room) removeClientLocked(c *Client) []*DownstreamTransport {
	c.closed = true
	idx := slices.Index(r.clients, c)
	if idx < 0 {
		return nil
	}
	r.clients = slices.Delete(r.clients, idx, idx+1)
	metrics.Clients.Dec()
	r.logger.Info().Str("sid", string(c.id)).Int("clients", len(r.clients)).Msg("client removed")

	audio, ok := c.producers[KindAudio]
	if !ok {
		return nil
	}
	released := r.dropSpeakerLocked(audio.ID())
	r.recomputeLocked()
	return released
}

// dropSpeakerLocked deregisters pid and releases every downstream transport
// still paired with it.
func (r *Room) dropSpeakerLocked(pid string) []*DownstreamTransport {
	if err := r.observer.RemoveProducer(pid); err != nil {
		r.logger.Warn().Err(err).Str("producer_id", pid).Msg("observer remove producer")
	}
	r.speakers = slices.DeleteFunc(r.speakers, func(id string) bool { return id == pid })

	var released []*DownstreamTransport
	for _, other := range r.clients {
		released = append(released, other.dropDownstreamLocked(pid)...)
	}
	return released
}

// OnDominantSpeaker moves pid to the front of the ranking and recomputes.
// Ids no client in the room owns are ignored.
func (r *Room) OnDominantSpeaker(pid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, ok := r.ownerLocked(pid); !ok {
		r.logger.Debug().Str("producer_id", pid).Msg("dominant speaker without owner")
		return
	}
	r.speakers = moveToFront(r.speakers, pid)
	metrics.DominantSpeakerChanges.Inc()
	r.logger.Debug().Str("producer_id", pid).Strs("ranking", r.speakers).Msg("dominant speaker")
	r.recomputeLocked()
}

// RecomputeActiveSpeakers re-applies the active/muted split to every
// client and returns the producer ids each client still has to consume.
func (r *Room) RecomputeActiveSpeakers() map[SessionID][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recomputeLocked()
}

// PidsToCreate lists the current top speakers for a newcomer.
func (r *Room) PidsToCreate() []ConsumeTarget {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, _ := splitActive(r.speakers, r.maxActive)
	return r.targetsLocked(active)
}

// TargetFor resolves the pairing for a remote audio producer.
func (r *Room) TargetFor(audioPID string) (ConsumeTarget, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.targetsLocked([]string{audioPID})
	if len(t) == 0 {
		return ConsumeTarget{}, false
	}
	return t[0], true
}

func (r *Room) targetsLocked(pids []string) []ConsumeTarget {
	out := make([]ConsumeTarget, 0, len(pids))
	for _, pid := range pids {
		owner, ok := r.ownerLocked(pid)
		if !ok {
			continue
		}
		t := ConsumeTarget{AudioPID: pid, UserName: owner.name}
		if v, ok := owner.producers[KindVideo]; ok {
			t.VideoPID = v.ID()
		}
		out = append(out, t)
	}
	return out
}

func (r *Room) ownerLocked(audioPID string) (*Client, bool) {
	for _, c := range r.clients {
		if c.ownsAudioLocked(audioPID) {
			return c, true
		}
	}
	return nil, false
}

func (r *Room) isActiveLocked(pid string) bool {
	active, _ := splitActive(r.speakers, r.maxActive)
	return slices.Contains(active, pid)
}

func (r *Room) ActiveSpeakers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.speakers)
}

func (r *Room) AddMessage(m domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *Room) Messages() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.messages)
}

func (r *Room) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Room) ClientIDs() []SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SessionID, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c.id)
	}
	return out
}

func (r *Room) Clients() []ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ClientInfo, 0, len(r.clients))
	for _, c := range r.clients {
		info := ClientInfo{ID: c.id, Name: c.name}
		if p, ok := c.producers[KindAudio]; ok {
			info.AudioPID = p.ID()
		}
		if p, ok := c.producers[KindVideo]; ok {
			info.VideoPID = p.ID()
		}
		out = append(out, info)
	}
	return out
}

// Close evicts every client and releases the router. It is the teardown
// hook for the session registry.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	clients := slices.Clone(r.clients)
	r.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	r.observer.Close()
	r.router.Close()
	r.logger.Info().Msg("room closed")
}

type nopNotifier struct{}

func (nopNotifier) ActiveSpeakers(SessionID, []string)               {}
func (nopNotifier) ProducersToConsume(SessionID, ProducersToConsume) {}

// FindProducerOwner returns the client publishing audioPID.
func (r *Room) FindProducerOwner(audioPID string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ownerLocked(audioPID)
}
