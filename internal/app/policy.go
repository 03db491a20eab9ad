package app

import "github.com/dkeye/Conference/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a session whose outbound queue is full.
// room is nil when the session has not joined yet.
type Policy interface {
	OnBackPressure(room *core.Room, sid core.SessionID) BackpressureAction
}

// SimplePolicy disconnects any session that cannot keep up.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(*core.Room, core.SessionID) BackpressureAction {
	return KickMember
}

// LobbyPolicy tolerates slow sessions outside rooms and kicks them inside.
type LobbyPolicy struct{}

func (LobbyPolicy) OnBackPressure(room *core.Room, _ core.SessionID) BackpressureAction {
	if room == nil {
		return DropFrame
	}
	return KickMember
}
