package signal

import (
	"github.com/dkeye/Conference/internal/core"
	"github.com/rs/zerolog/log"
)

// audioChange and sendMessage are fire-and-forget: they are never acked.

func (ctl *SignalWSController) audioChange(sid core.SessionID, req request) string {
	mute, err := decodeAudioChange(req.Data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad audio change")
		return outcomeInvalid
	}
	ctl.Orch.AudioChange(sid, mute)
	return outcomeOK
}

func (ctl *SignalWSController) sendMessage(sid core.SessionID, req request) string {
	var p sendMessagePayload
	if err := decode(req.Data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad message payload")
		return outcomeInvalid
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("message rate limited")
		return "limited"
	}
	if _, err := ctl.Orch.SendMessage(sid, p.Text, p.UserName, p.RoomID); err != nil {
		return outcomeError
	}
	return outcomeOK
}
