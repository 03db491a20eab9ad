package core

// Frame is a raw encoded payload.
type Frame []byte

// SessionID identifies one signaling connection. A Client has the id of
// the connection that created it.
type SessionID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// ConsumeTarget is one remote peer a client should consume.
type ConsumeTarget struct {
	AudioPID string `json:"audioPid"`
	VideoPID string `json:"videoPid"`
	UserName string `json:"userName"`
}

type ProducersToConsume struct {
	RouterRtpCapabilities RtpCapabilities
	Targets               []ConsumeTarget
	ActiveSpeakers        []string
}

// Notifier delivers room push events. Room calls it while holding the room
// lock, so implementations must not block and must not call back into Room.
type Notifier interface {
	ActiveSpeakers(to SessionID, top []string)
	ProducersToConsume(to SessionID, ev ProducersToConsume)
}
