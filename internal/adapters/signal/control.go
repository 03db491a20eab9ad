package signal

import "github.com/dkeye/Conference/internal/core"

func (ctl *SignalWSController) handlePing(sid core.SessionID) string {
	ctl.Hub.Push(sid, EventPong, nil)
	return outcomeOK
}
