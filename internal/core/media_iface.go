package core

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/media_mock.go -package=mocks github.com/dkeye/Conference/internal/core Router,Transport,Consumer

// Worker is an execution context hosting routers.
type Worker interface {
	ID() int
	RouterCount() int
	CreateRouter(ctx context.Context, codecs []RtpCodec) (Router, error)
	// Died is closed when the worker terminates unexpectedly.
	Died() <-chan struct{}
	Err() error
	Close()
}

// Router bounds codecs and capabilities for one room.
type Router interface {
	ID() string
	RtpCapabilities() RtpCapabilities
	CanConsume(producerID string, caps RtpCapabilities) bool
	CreateActiveSpeakerObserver(ctx context.Context, interval time.Duration) (ActiveSpeakerObserver, error)
	CreateWebRtcTransport(ctx context.Context, opts TransportOptions) (Transport, error)
	Close()
}

// ActiveSpeakerObserver periodically reports the dominant audio producer.
// Callbacks must not be invoked while holding locks the observer's own
// methods need.
type ActiveSpeakerObserver interface {
	AddProducer(producerID string) error
	RemoveProducer(producerID string) error
	OnDominantSpeaker(fn func(producerID string))
	Close()
}

type Transport interface {
	ID() string
	Params() TransportParams
	SetMaxIncomingBitrate(bps uint32) error
	Connect(ctx context.Context, params ConnectParams) error
	Produce(ctx context.Context, kind MediaKind, rtp RtpParameters) (Producer, error)
	Consume(ctx context.Context, producerID string, caps RtpCapabilities, paused bool) (Consumer, error)
	Close()
}

// Producer is an inbound stream. Pause and Resume on a closed producer
// are no-ops returning nil.
type Producer interface {
	ID() string
	Kind() MediaKind
	Pause() error
	Resume() error
	Paused() bool
	Close()
	Closed() bool
}

// Consumer is a forwarded copy of a producer. Pause and Resume on a
// closed consumer are no-ops returning nil.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() MediaKind
	RtpParameters() RtpParameters
	Pause() error
	Resume() error
	Paused() bool
	Close()
	Closed() bool
}
