package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/core/mediatest"
)

func TestPickLeastLoaded(t *testing.T) {
	w0, w1, w2 := mediatest.NewWorker(0), mediatest.NewWorker(1), mediatest.NewWorker(2)
	ctx := context.Background()
	for range 2 {
		if _, err := w0.CreateRouter(ctx, nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := w1.CreateRouter(ctx, nil); err != nil {
		t.Fatal(err)
	}
	pool := NewWorkerPool(w0, w1, w2)

	w, err := pool.Pick()
	if err != nil {
		t.Fatal(err)
	}
	if w.ID() != 2 {
		t.Fatalf("picked worker %d, want 2", w.ID())
	}
}

func TestPickRotatesOnTies(t *testing.T) {
	pool := NewWorkerPool(mediatest.NewWorker(0), mediatest.NewWorker(1), mediatest.NewWorker(2))
	var got []int
	for range 4 {
		w, err := pool.Pick()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, w.ID())
	}
	want := []int{0, 1, 2, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("picks = %v, want %v", got, want)
		}
	}
}

func TestPickSkipsDeadWorkers(t *testing.T) {
	w0, w1 := mediatest.NewWorker(0), mediatest.NewWorker(1)
	w0.Kill(errors.New("crash"))
	pool := NewWorkerPool(w0, w1)

	w, err := pool.Pick()
	if err != nil || w.ID() != 1 {
		t.Fatalf("picked %v, %v", w, err)
	}

	w1.Kill(errors.New("crash"))
	if _, err := pool.Pick(); !errors.Is(err, core.ErrWorkerLost) {
		t.Fatalf("expected ErrWorkerLost, got %v", err)
	}
	if _, err := NewWorkerPool().Pick(); !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("expected ErrNoWorkers, got %v", err)
	}
}

func TestSuperviseReportsDeath(t *testing.T) {
	w0, w1 := mediatest.NewWorker(0), mediatest.NewWorker(1)
	pool := NewWorkerPool(w0, w1)
	died := make(chan int, 1)

	go pool.Supervise(context.Background(), func(w core.Worker, err error) {
		if !errors.Is(err, core.ErrWorkerLost) {
			t.Errorf("death error = %v", err)
		}
		died <- w.ID()
	})
	w1.Kill(errors.New("segfault"))

	select {
	case id := <-died:
		if id != 1 {
			t.Fatalf("reported worker %d", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("death not reported")
	}
}

func TestSuperviseStopsWithContext(t *testing.T) {
	pool := NewWorkerPool(mediatest.NewWorker(0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Supervise(ctx, func(core.Worker, error) { t.Error("unexpected death") })
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Supervise did not return")
	}
}
