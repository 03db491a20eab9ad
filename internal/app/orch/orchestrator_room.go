package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/rs/zerolog/log"
)

type JoinResult struct {
	RouterRtpCapabilities core.RtpCapabilities
	// NewRoom is true when nobody was in the room before this join.
	NewRoom  bool
	Targets  []core.ConsumeTarget
	Messages []domain.Message
}

func (o *Orchestrator) CreateRoom(ctx context.Context, rawName string) (app.RoomInfo, error) {
	name := domain.NormalizeRoomName(rawName)
	if name == "" {
		return app.RoomInfo{}, ErrEmptyRoomName
	}
	tctx, cancel := o.withTimeout(ctx)
	defer cancel()

	room, created, err := o.Rooms.CreateRoom(tctx, name)
	if err != nil {
		return app.RoomInfo{}, timedOut(tctx, err)
	}
	info, _ := o.Rooms.Info(room.ID())
	if created && o.Pusher != nil {
		o.Pusher.NewRoom(info)
	}
	return info, nil
}

// JoinRoom creates the session's Client in roomID. A session already in a
// room leaves it first.
func (o *Orchestrator) JoinRoom(_ context.Context, sid core.SessionID, userName string, roomID domain.RoomID) (JoinResult, error) {
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		return JoinResult{}, fmt.Errorf("%w: %s", core.ErrUnknownRoom, roomID)
	}
	user, err := domain.NewUser(domain.UserID(sid), userName)
	if err != nil {
		return JoinResult{}, err
	}
	if _, ok := o.Registry.Signal(sid); !ok {
		return JoinResult{}, ErrNoSession
	}
	if old := o.Registry.Detach(sid); old != nil {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(old.Room().ID())).Msg("leaving previous room")
		old.Close()
	}

	c := core.NewClient(sid, user.Username, room)
	newRoom, err := room.AddClient(c)
	if err != nil {
		return JoinResult{}, err
	}
	if !o.Registry.Attach(sid, c) {
		c.Close()
		return JoinResult{}, ErrNoSession
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room_id", string(roomID)).Str("name", user.Username).Msg("joined")

	return JoinResult{
		RouterRtpCapabilities: room.RtpCapabilities(),
		NewRoom:               newRoom,
		Targets:               room.PidsToCreate(),
		Messages:              room.Messages(),
	}, nil
}

// Leave takes the session out of its room but keeps the connection.
func (o *Orchestrator) Leave(sid core.SessionID) bool {
	c := o.Registry.Detach(sid)
	if c == nil {
		return false
	}
	c.Close()
	return true
}

// Disconnect releases everything the session owns.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	if c := o.Registry.Unbind(sid); c != nil {
		c.Close()
	}
}

// Kick cancels the session; its pumps then run Disconnect.
func (o *Orchestrator) Kick(sid core.SessionID) bool {
	return o.Registry.Cancel(sid)
}

func (o *Orchestrator) KnownRooms() []app.RoomInfo {
	return o.Rooms.List()
}

// EvictRoom tears a room down through the registry's teardown hook.
func (o *Orchestrator) EvictRoom(id domain.RoomID) bool {
	room, ok := o.Rooms.GetRoom(id)
	if !ok {
		return false
	}
	for _, sid := range room.ClientIDs() {
		o.Registry.Detach(sid)
	}
	return o.Rooms.StopRoom(id)
}
