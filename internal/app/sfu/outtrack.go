package sfu

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// PacketSink receives forwarded RTP. *webrtc.TrackLocalStaticRTP satisfies it.
type PacketSink interface {
	WriteRTP(*rtp.Packet) error
}

// OutTrack is one consumer's view of a relay. A consumer is created
// paused, so a new OutTrack starts muted.
type OutTrack struct {
	Sink  PacketSink
	state atomic.Int32
}

func NewOutTrack(sink PacketSink) *OutTrack {
	ot := &OutTrack{Sink: sink}
	ot.MarkMuted()
	return ot
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

// MarkOk resumes forwarding unless the track is already deleted.
func (ot *OutTrack) MarkOk() {
	ot.state.CompareAndSwap(int32(TrackStateMuted), int32(TrackStateOk))
}

func (ot *OutTrack) MarkMuted() {
	ot.state.CompareAndSwap(int32(TrackStateOk), int32(TrackStateMuted))
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}
