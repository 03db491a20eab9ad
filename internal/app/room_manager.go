package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// RoomNamespace scopes room id derivation; changing it changes every id.
var RoomNamespace = uuid.MustParse("af6f650e-3ced-4f80-afef-f956afe3191d")

const DefaultObserverInterval = 300 * time.Millisecond

// RoomIDFor derives the stable room id for name.
func RoomIDFor(name domain.RoomName) domain.RoomID {
	return domain.RoomID(uuid.NewSHA1(RoomNamespace, []byte(name)).String())
}

type RoomInfo struct {
	ID             domain.RoomID   `json:"id"`
	Name           domain.RoomName `json:"name"`
	Worker         int             `json:"worker"`
	ClientCount    int             `json:"client_count"`
	ActiveSpeakers []string        `json:"active_speakers"`
}

type RoomManagerOptions struct {
	Pool             *WorkerPool
	Notifier         core.Notifier
	MaxActive        int
	ObserverInterval time.Duration
	Bitrates         core.Bitrates
	Codecs           []core.RtpCodec
}

// RoomManager is the process-wide room registry.
type RoomManager struct {
	opts RoomManagerOptions

	mu    sync.RWMutex
	rooms map[domain.RoomID]*core.Room
	group singleflight.Group
}

func NewRoomManager(opts RoomManagerOptions) *RoomManager {
	if opts.ObserverInterval <= 0 {
		opts.ObserverInterval = DefaultObserverInterval
	}
	if opts.MaxActive <= 0 {
		opts.MaxActive = core.DefaultMaxActive
	}
	if len(opts.Codecs) == 0 {
		opts.Codecs = core.DefaultRouterCodecs
	}
	return &RoomManager{
		opts:  opts,
		rooms: make(map[domain.RoomID]*core.Room),
	}
}

// CreateRoom returns the room for name, provisioning it on first use.
// Concurrent calls for one name share a single provisioning; created is
// true only for the caller that performed it.
func (m *RoomManager) CreateRoom(ctx context.Context, name domain.RoomName) (room *core.Room, created bool, err error) {
	id := RoomIDFor(name)
	if r, ok := m.GetRoom(id); ok {
		return r, false, nil
	}
	v, err, _ := m.group.Do(string(id), func() (any, error) {
		if r, ok := m.GetRoom(id); ok {
			return r, nil
		}
		r, err := m.provision(ctx, id, name)
		if err != nil {
			return nil, err
		}
		created = true
		return r, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*core.Room), created, nil
}

func (m *RoomManager) provision(ctx context.Context, id domain.RoomID, name domain.RoomName) (*core.Room, error) {
	w, err := m.opts.Pool.Pick()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrProvisioning, err)
	}
	router, err := w.CreateRouter(ctx, m.opts.Codecs)
	if err != nil {
		return nil, fmt.Errorf("%w: router: %w", core.ErrProvisioning, err)
	}
	obs, err := router.CreateActiveSpeakerObserver(ctx, m.opts.ObserverInterval)
	if err != nil {
		router.Close()
		return nil, fmt.Errorf("%w: observer: %w", core.ErrProvisioning, err)
	}

	room := core.NewRoom(core.RoomOptions{
		ID:        id,
		Name:      name,
		WorkerID:  w.ID(),
		Router:    router,
		Observer:  obs,
		MaxActive: m.opts.MaxActive,
		Bitrates:  m.opts.Bitrates,
		Notifier:  m.opts.Notifier,
	})

	m.mu.Lock()
	m.rooms[id] = room
	m.mu.Unlock()
	metrics.Rooms.Inc()
	log.Info().Str("module", "app.rooms").Str("room_id", string(id)).Str("name", string(name)).Int("worker", w.ID()).Str("router_id", router.ID()).Msg("room created")
	return room, nil
}

func (m *RoomManager) GetRoom(id domain.RoomID) (*core.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

func (m *RoomManager) List() []RoomInfo {
	m.mu.RLock()
	rooms := make([]*core.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, infoOf(r))
	}
	slices.SortFunc(out, func(a, b RoomInfo) int { return strings.Compare(string(a.Name), string(b.Name)) })
	return out
}

func (m *RoomManager) Info(id domain.RoomID) (RoomInfo, bool) {
	r, ok := m.GetRoom(id)
	if !ok {
		return RoomInfo{}, false
	}
	return infoOf(r), true
}

func infoOf(r *core.Room) RoomInfo {
	active := r.ActiveSpeakers()
	active = active[:min(len(active), r.MaxActive())]
	return RoomInfo{
		ID:             r.ID(),
		Name:           r.Name(),
		Worker:         r.WorkerID(),
		ClientCount:    r.ClientCount(),
		ActiveSpeakers: active,
	}
}

// StopRoom is the explicit teardown hook: it evicts every client and
// releases the router. Rooms are never reaped implicitly.
func (m *RoomManager) StopRoom(id domain.RoomID) bool {
	m.mu.Lock()
	r, ok := m.rooms[id]
	delete(m.rooms, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	r.Close()
	metrics.Rooms.Dec()
	log.Info().Str("module", "app.rooms").Str("room_id", string(id)).Msg("room stopped")
	return true
}

func (m *RoomManager) Close() {
	m.mu.RLock()
	ids := make([]domain.RoomID, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.StopRoom(id)
	}
}
