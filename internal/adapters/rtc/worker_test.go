package rtc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Conference/internal/core"
)

func TestPortSlice(t *testing.T) {
	tests := []struct {
		lo, hi   uint16
		i, n     int
		wantLo   uint16
		wantHigh uint16
	}{
		{40000, 40099, 0, 2, 40000, 40049},
		{40000, 40099, 1, 2, 40050, 40099},
		{40000, 40100, 2, 3, 40066, 40100},
		{0, 0, 1, 4, 0, 0},
		{40000, 40001, 1, 4, 40000, 40001},
	}
	for _, tt := range tests {
		lo, hi := portSlice(tt.lo, tt.hi, tt.i, tt.n)
		if lo != tt.wantLo || hi != tt.wantHigh {
			t.Errorf("portSlice(%d,%d,%d,%d) = %d-%d, want %d-%d", tt.lo, tt.hi, tt.i, tt.n, lo, hi, tt.wantLo, tt.wantHigh)
		}
	}
}

func TestWorkerRouterLifecycle(t *testing.T) {
	w, err := NewWorker(0, WorkerSettings{})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	defer w.Close()

	r, err := w.CreateRouter(context.Background(), core.DefaultRouterCodecs)
	if err != nil {
		t.Fatalf("CreateRouter: %v", err)
	}
	if w.RouterCount() != 1 {
		t.Fatalf("RouterCount = %d", w.RouterCount())
	}
	caps := r.RtpCapabilities()
	if len(caps.Codecs) != len(core.DefaultRouterCodecs) {
		t.Fatalf("codecs = %d", len(caps.Codecs))
	}
	if caps.Codecs[0].PayloadType != 111 {
		t.Fatalf("opus payload type = %d", caps.Codecs[0].PayloadType)
	}
	if r.CanConsume("missing", caps) {
		t.Fatal("CanConsume true for unknown producer")
	}

	obs, err := r.CreateActiveSpeakerObserver(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("observer: %v", err)
	}
	if err := obs.AddProducer("p"); err != nil {
		t.Fatalf("AddProducer: %v", err)
	}

	r.Close()
	r.Close()
	if w.RouterCount() != 0 {
		t.Fatalf("RouterCount after close = %d", w.RouterCount())
	}
	if err := obs.AddProducer("q"); !errors.Is(err, ErrObserverClosed) {
		t.Fatalf("observer still open: %v", err)
	}
	if _, err := r.CreateWebRtcTransport(context.Background(), core.TransportOptions{}); !errors.Is(err, core.ErrRoomClosed) {
		t.Fatalf("transport on closed router: %v", err)
	}
}

func TestWorkerDiesOnPanic(t *testing.T) {
	w, err := NewWorker(3, WorkerSettings{})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	if w.Err() != nil {
		t.Fatal("fresh worker has an error")
	}
	w.goSafe("test", func() { panic("boom") })

	select {
	case <-w.Died():
	case <-time.After(time.Second):
		t.Fatal("worker did not die")
	}
	if w.Err() == nil {
		t.Fatal("dead worker has no error")
	}
	if _, err := w.CreateRouter(context.Background(), core.DefaultRouterCodecs); !errors.Is(err, core.ErrWorkerLost) {
		t.Fatalf("CreateRouter on dead worker: %v", err)
	}
}

func TestStartWorkers(t *testing.T) {
	ws, err := StartWorkers(context.Background(), 2, WorkerSettings{PortMin: 41000, PortMax: 41099})
	if err != nil {
		t.Fatalf("StartWorkers: %v", err)
	}
	defer func() {
		for _, w := range ws {
			w.Close()
		}
	}()
	if len(ws) != 2 || ws[1].ID() != 1 {
		t.Fatalf("workers = %v", ws)
	}
	if ws[1].settings.PortMin != 41050 {
		t.Fatalf("second worker ports start at %d", ws[1].settings.PortMin)
	}
	if _, err := StartWorkers(context.Background(), 0, WorkerSettings{}); err == nil {
		t.Fatal("zero workers accepted")
	}
}
