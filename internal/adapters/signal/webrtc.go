package signal

import (
	"context"
	"errors"

	"github.com/dkeye/Conference/internal/app/orch"
	"github.com/dkeye/Conference/internal/core"
	"github.com/rs/zerolog/log"
)

type producingResult struct {
	ID string `json:"id"`
}

type consumeResult struct {
	ConsumerOptions orch.ConsumerOptions `json:"consumerOptions"`
}

const (
	statusSuccess       = "success"
	statusError         = "error"
	statusCannotConsume = "cannotConsume"
	statusConsumeFailed = "consumeFailed"
)

func (ctl *SignalWSController) requestTransport(ctx context.Context, sid core.SessionID, req request) string {
	var p requestTransportPayload
	if err := decode(req.Data, &p); err != nil {
		return ctl.replyInvalid(sid, req, err)
	}
	params, err := ctl.Orch.RequestTransport(ctx, sid, p.Type, p.AudioPID)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("transport_type", string(p.Type)).Msg("request transport")
		ctl.reply(sid, req, errorResult{Error: err.Error()})
		return outcomeError
	}
	ctl.reply(sid, req, params)
	return outcomeOK
}

func (ctl *SignalWSController) connectTransport(ctx context.Context, sid core.SessionID, req request) string {
	var p connectTransportPayload
	if err := decode(req.Data, &p); err != nil {
		return ctl.replyInvalid(sid, req, err)
	}
	err := ctl.Orch.ConnectTransport(ctx, sid, p.Type, p.AudioPID, core.ConnectParams{
		DtlsParameters: *p.DtlsParameters,
		IceParameters:  p.IceParameters,
		IceCandidates:  p.IceCandidates,
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("transport_type", string(p.Type)).Msg("connect transport")
		ctl.reply(sid, req, statusResult{Status: statusError})
		return outcomeError
	}
	ctl.reply(sid, req, statusResult{Status: statusSuccess})
	return outcomeOK
}

func (ctl *SignalWSController) startProducing(ctx context.Context, sid core.SessionID, req request) string {
	var p startProducingPayload
	if err := decode(req.Data, &p); err != nil {
		return ctl.replyInvalid(sid, req, err)
	}
	id, err := ctl.Orch.StartProducing(ctx, sid, p.Kind, *p.RtpParameters)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("kind", string(p.Kind)).Msg("start producing")
		ctl.reply(sid, req, errorResult{Error: err.Error()})
		return outcomeError
	}
	ctl.reply(sid, req, producingResult{ID: id})
	return outcomeOK
}

func (ctl *SignalWSController) consumeMedia(ctx context.Context, sid core.SessionID, req request) string {
	var p consumeMediaPayload
	if err := decode(req.Data, &p); err != nil {
		return ctl.replyInvalid(sid, req, err)
	}
	opts, err := ctl.Orch.ConsumeMedia(ctx, sid, *p.RtpCapabilities, p.ProducerID, p.Kind)
	switch {
	case errors.Is(err, core.ErrCannotConsume):
		ctl.reply(sid, req, statusResult{Status: statusCannotConsume})
		return outcomeError
	case err != nil:
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("producer_id", p.ProducerID).Msg("consume media")
		ctl.reply(sid, req, statusResult{Status: statusConsumeFailed})
		return outcomeError
	}
	ctl.reply(sid, req, consumeResult{ConsumerOptions: opts})
	return outcomeOK
}

func (ctl *SignalWSController) unpauseConsumer(ctx context.Context, sid core.SessionID, req request) string {
	var p unpauseConsumerPayload
	if err := decode(req.Data, &p); err != nil {
		ctl.reply(sid, req, statusResult{Status: statusError})
		return outcomeInvalid
	}
	if err := ctl.Orch.UnpauseConsumer(ctx, sid, p.producer(), p.Kind); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("producer_id", p.producer()).Msg("unpause consumer")
		ctl.reply(sid, req, statusResult{Status: statusError})
		return outcomeError
	}
	ctl.reply(sid, req, statusResult{Status: statusSuccess})
	return outcomeOK
}
