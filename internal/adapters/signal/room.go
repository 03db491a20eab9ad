package signal

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Conference/internal/core"
	"github.com/rs/zerolog/log"
)

type createRoomResult struct {
	RoomID string `json:"roomId"`
}

func (ctl *SignalWSController) createRoom(ctx context.Context, sid core.SessionID, req request) string {
	var p createRoomPayload
	if err := decode(req.Data, &p); err != nil {
		return ctl.replyInvalid(sid, req, err)
	}
	info, err := ctl.Orch.CreateRoom(ctx, p.RoomName)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("room_name", p.RoomName).Msg("create room")
		ctl.reply(sid, req, errorResult{Error: "could not create room"})
		return outcomeError
	}
	ctl.reply(sid, req, createRoomResult{RoomID: string(info.ID)})
	return outcomeOK
}

func (ctl *SignalWSController) joinRoom(ctx context.Context, sid core.SessionID, req request) string {
	var p joinRoomPayload
	if err := decode(req.Data, &p); err != nil {
		return ctl.replyInvalid(sid, req, err)
	}
	res, err := ctl.Orch.JoinRoom(ctx, sid, p.UserName, p.RoomID)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, core.ErrUnknownRoom) {
			msg = fmt.Sprintf("Room with Id %s does not exist", p.RoomID)
		}
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("room_id", string(p.RoomID)).Msg("join")
		ctl.reply(sid, req, errorResult{Error: msg})
		return outcomeError
	}
	ctl.reply(sid, req, joinResult{
		ConsumeData: newConsumeData(res.RouterRtpCapabilities, res.Targets, nil),
		NewRoom:     res.NewRoom,
		Messages:    res.Messages,
	})
	return outcomeOK
}

// leaveRoom keeps the connection open; the session can join another room.
func (ctl *SignalWSController) leaveRoom(sid core.SessionID, req request) string {
	if !ctl.Orch.Leave(sid) {
		ctl.reply(sid, req, statusResult{Status: statusError})
		return outcomeError
	}
	ctl.reply(sid, req, statusResult{Status: statusSuccess})
	return outcomeOK
}
