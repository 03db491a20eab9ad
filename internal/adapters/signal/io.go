package signal

import (
	"context"
	"time"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/metrics"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump owns the session: when it returns the session is released.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Orch.Disconnect(sid)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(sid)
		}
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		ctl.handleSignal(ctx, sid, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		metrics.SignalRequests.WithLabelValues("invalid", "invalid").Inc()
		return
	}

	var outcome string
	switch req.Type {
	case TypeCreateRoom:
		outcome = ctl.createRoom(ctx, sid, req)
	case TypeJoinRoom:
		outcome = ctl.joinRoom(ctx, sid, req)
	case TypeLeaveRoom:
		outcome = ctl.leaveRoom(sid, req)
	case TypeRequestTransport:
		outcome = ctl.requestTransport(ctx, sid, req)
	case TypeConnectTransport:
		outcome = ctl.connectTransport(ctx, sid, req)
	case TypeStartProducing:
		outcome = ctl.startProducing(ctx, sid, req)
	case TypeConsumeMedia:
		outcome = ctl.consumeMedia(ctx, sid, req)
	case TypeUnpauseConsumer:
		outcome = ctl.unpauseConsumer(ctx, sid, req)
	case TypeAudioChange:
		outcome = ctl.audioChange(sid, req)
	case TypeSendMessage:
		outcome = ctl.sendMessage(sid, req)
	case TypePing:
		outcome = ctl.handlePing(sid)
	default:
		log.Warn().Str("module", "signal").Str("type", req.Type).Msg("unknown signal")
		metrics.SignalRequests.WithLabelValues("unknown", "invalid").Inc()
		return
	}
	metrics.SignalRequests.WithLabelValues(req.Type, outcome).Inc()
}

const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeInvalid = "invalid"
)

// reply acks req with data.
func (ctl *SignalWSController) reply(sid core.SessionID, req request, data any) {
	b, err := encodeAck(req.ID, data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", req.Type).Msg("encode ack")
		return
	}
	ctl.Hub.Send(sid, b)
}

// replyInvalid acks a payload that failed to decode.
func (ctl *SignalWSController) replyInvalid(sid core.SessionID, req request, err error) string {
	log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", req.Type).Msg("bad payload")
	ctl.reply(sid, req, errorResult{Error: err.Error()})
	return outcomeInvalid
}
