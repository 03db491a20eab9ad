package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/core/mediatest"
	"github.com/google/uuid"
)

func newManager(workers ...*mediatest.Worker) *RoomManager {
	ws := make([]core.Worker, 0, len(workers))
	for _, w := range workers {
		ws = append(ws, w)
	}
	return NewRoomManager(RoomManagerOptions{Pool: NewWorkerPool(ws...)})
}

func TestRoomIDForIsStableUUIDv5(t *testing.T) {
	a, b := RoomIDFor("lobby"), RoomIDFor("lobby")
	if a != b {
		t.Fatalf("ids differ: %s %s", a, b)
	}
	if RoomIDFor("other") == a {
		t.Fatal("different names share an id")
	}
	u, err := uuid.Parse(string(a))
	if err != nil {
		t.Fatalf("not a uuid: %v", err)
	}
	if u.Version() != 5 {
		t.Fatalf("version = %d", u.Version())
	}
}

func TestCreateRoomIsIdempotent(t *testing.T) {
	w := mediatest.NewWorker(0)
	m := newManager(w)
	ctx := context.Background()

	r1, created1, err := m.CreateRoom(ctx, "lobby")
	if err != nil {
		t.Fatal(err)
	}
	r2, created2, err := m.CreateRoom(ctx, "lobby")
	if err != nil {
		t.Fatal(err)
	}
	if r1.ID() != r2.ID() || r1 != r2 {
		t.Fatal("second call returned a different room")
	}
	if !created1 || created2 {
		t.Fatalf("created flags = %v, %v", created1, created2)
	}
	if n := len(w.Routers()); n != 1 {
		t.Fatalf("routers = %d, want 1", n)
	}
}

func TestConcurrentCreateRoomMakesOneRouter(t *testing.T) {
	w := mediatest.NewWorker(0)
	m := newManager(w)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := make(map[string]int)
	creators := 0
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, created, err := m.CreateRoom(context.Background(), "standup")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			ids[string(r.ID())]++
			if created {
				creators++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != 1 {
		t.Fatalf("ids = %v", ids)
	}
	if creators != 1 {
		t.Fatalf("creators = %d", creators)
	}
	if n := len(w.Routers()); n != 1 {
		t.Fatalf("routers = %d, want 1", n)
	}
}

func TestCreateRoomSpreadsAcrossWorkers(t *testing.T) {
	w0, w1 := mediatest.NewWorker(0), mediatest.NewWorker(1)
	m := newManager(w0, w1)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c", "d"} {
		if _, _, err := m.CreateRoom(ctx, nameOf(name)); err != nil {
			t.Fatal(err)
		}
	}
	if len(w0.Routers()) != 2 || len(w1.Routers()) != 2 {
		t.Fatalf("routers per worker = %d, %d", len(w0.Routers()), len(w1.Routers()))
	}
}

func TestCreateRoomProvisioningFailure(t *testing.T) {
	w := mediatest.NewWorker(0)
	w.FailRouter = errors.New("no capacity")
	m := newManager(w)

	_, _, err := m.CreateRoom(context.Background(), "lobby")
	if !errors.Is(err, core.ErrProvisioning) {
		t.Fatalf("expected ErrProvisioning, got %v", err)
	}
	if _, ok := m.GetRoom(RoomIDFor("lobby")); ok {
		t.Fatal("room registered after failure")
	}
}

func TestStopRoomReleasesRouter(t *testing.T) {
	w := mediatest.NewWorker(0)
	m := newManager(w)
	r, _, err := m.CreateRoom(context.Background(), "lobby")
	if err != nil {
		t.Fatal(err)
	}
	c := core.NewClient("sid", "alice", r)
	if _, err := r.AddClient(c); err != nil {
		t.Fatal(err)
	}

	if !m.StopRoom(r.ID()) {
		t.Fatal("StopRoom returned false")
	}
	if m.StopRoom(r.ID()) {
		t.Fatal("second StopRoom returned true")
	}
	if !w.Routers()[0].Closed() {
		t.Fatal("router not closed")
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("client not closed")
	}
	if w.RouterCount() != 0 {
		t.Fatal("worker still counts the router")
	}
}

func TestListSortedByName(t *testing.T) {
	m := newManager(mediatest.NewWorker(0))
	ctx := context.Background()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, _, err := m.CreateRoom(ctx, nameOf(name)); err != nil {
			t.Fatal(err)
		}
	}
	list := m.List()
	if len(list) != 3 || list[0].Name != "alpha" || list[2].Name != "zeta" {
		t.Fatalf("list = %+v", list)
	}
}
