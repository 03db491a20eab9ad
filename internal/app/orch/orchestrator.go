package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
)

const DefaultTimeout = 10 * time.Second

var (
	ErrTimeout       = errors.New("negotiation timed out")
	ErrNotJoined     = errors.New("session has not joined a room")
	ErrNoSession     = errors.New("unknown session")
	ErrEmptyRoomName = errors.New("room name empty")
)

// Pusher delivers events that do not come out of a room recompute.
type Pusher interface {
	NewRoom(info app.RoomInfo)
	NewMessage(to []core.SessionID, m domain.Message)
}

// Orchestrator maps signaling requests onto the registry, rooms and clients.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Pusher   Pusher
	// Timeout bounds every provisioning and negotiation call.
	Timeout time.Duration
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	d := o.Timeout
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

// timedOut turns an error caused by the negotiation deadline into ErrTimeout.
func timedOut(ctx context.Context, err error) error {
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

func (o *Orchestrator) client(sid core.SessionID) (*core.Client, error) {
	c, ok := o.Registry.ClientOf(sid)
	if !ok {
		return nil, ErrNotJoined
	}
	return c, nil
}
