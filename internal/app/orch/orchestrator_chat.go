package orch

import (
	"fmt"
	"time"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/rs/zerolog/log"
)

// SendMessage appends to the room log and pushes the message to everyone
// in the room, sender included.
func (o *Orchestrator) SendMessage(sid core.SessionID, text, userName string, roomID domain.RoomID) (domain.Message, error) {
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("room_id", string(roomID)).Msg("message for unknown room")
		return domain.Message{}, fmt.Errorf("%w: %s", core.ErrUnknownRoom, roomID)
	}
	m, err := domain.NewMessage(text, userName, time.Now())
	if err != nil {
		return domain.Message{}, err
	}
	room.AddMessage(m)
	if o.Pusher != nil {
		o.Pusher.NewMessage(room.ClientIDs(), m)
	}
	return m, nil
}
