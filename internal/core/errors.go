package core

import "errors"

var (
	ErrProvisioning  = errors.New("provisioning failed")
	ErrNegotiation   = errors.New("negotiation failed")
	ErrCannotConsume = errors.New("cannot consume")
	ErrConsumeFailed = errors.New("consume failed")
	ErrUnknownRoom   = errors.New("unknown room")
	ErrWorkerLost    = errors.New("worker died")

	ErrNoTransport  = errors.New("no such transport")
	ErrPairMismatch = errors.New("consumer does not match transport pairing")
	ErrRegistration = errors.New("producer registration failed")
	ErrClientClosed = errors.New("client closed")
	ErrRoomClosed   = errors.New("room closed")
)
