package core_test

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"testing"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/core/mediatest"
	"github.com/dkeye/Conference/internal/domain"
)

type fixture struct {
	room     *core.Room
	router   *mediatest.Router
	observer *mediatest.Observer
	notifier *mediatest.Notifier
}

func newFixture(t *testing.T, k int) *fixture {
	t.Helper()
	router := mediatest.NewRouter(core.DefaultRouterCodecs)
	obs, err := router.CreateActiveSpeakerObserver(context.Background(), 0)
	if err != nil {
		t.Fatalf("observer: %v", err)
	}
	n := mediatest.NewNotifier()
	room := core.NewRoom(core.RoomOptions{
		ID:        "room-1",
		Name:      "lobby",
		Router:    router,
		Observer:  obs,
		MaxActive: k,
		Bitrates:  core.Bitrates{MaxIncoming: 5_000_000, InitialOutgoing: 5_000_000},
		Notifier:  n,
	})
	return &fixture{room: room, router: router, observer: router.Observer(), notifier: n}
}

func (f *fixture) join(t *testing.T, name string) *core.Client {
	t.Helper()
	c := core.NewClient(core.SessionID("sid-"+name), name, f.room)
	if _, err := f.room.AddClient(c); err != nil {
		t.Fatalf("AddClient(%s): %v", name, err)
	}
	return c
}

// publish registers video then audio producers; the audio id is name.
func (f *fixture) publish(t *testing.T, c *core.Client, name string) (*mediatest.Producer, *mediatest.Producer) {
	t.Helper()
	video := mediatest.NewProducer("video-"+name, core.KindVideo)
	if err := c.AddProducer(core.KindVideo, video); err != nil {
		t.Fatalf("AddProducer video: %v", err)
	}
	audio := mediatest.NewProducer(name, core.KindAudio)
	if err := c.AddProducer(core.KindAudio, audio); err != nil {
		t.Fatalf("AddProducer audio: %v", err)
	}
	return audio, video
}

// consumeAll gives c a downstream transport with both consumers for every
// other publisher in names.
func (f *fixture) consumeAll(t *testing.T, c *core.Client, names []string) {
	t.Helper()
	ctx := context.Background()
	for _, n := range names {
		if "sid-"+n == string(c.ID()) {
			continue
		}
		if _, err := c.AddTransport(ctx, core.TransportConsumer, n, "video-"+n); err != nil {
			t.Fatalf("AddTransport: %v", err)
		}
		if _, err := c.Consume(ctx, core.KindAudio, n, mediatest.Capabilities()); err != nil {
			t.Fatalf("Consume audio %s: %v", n, err)
		}
		if _, err := c.Consume(ctx, core.KindVideo, "video-"+n, mediatest.Capabilities()); err != nil {
			t.Fatalf("Consume video %s: %v", n, err)
		}
	}
}

func TestNewAudioProducerEntersRanking(t *testing.T) {
	f := newFixture(t, 5)
	a := f.join(t, "a")
	f.publish(t, a, "a")
	b := f.join(t, "b")
	f.publish(t, b, "b")

	if got := f.room.ActiveSpeakers(); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("ranking = %v", got)
	}
	if !f.observer.Has("a") || !f.observer.Has("b") {
		t.Fatal("audio producers not registered with observer")
	}
	if f.observer.Has("video-a") {
		t.Fatal("video producer registered with observer")
	}
}

func TestDominantSpeakerMoveToFront(t *testing.T) {
	f := newFixture(t, 5)
	for _, n := range []string{"a", "b", "c"} {
		f.publish(t, f.join(t, n), n)
	}

	f.observer.Emit("b")
	if got := f.room.ActiveSpeakers(); !slices.Equal(got, []string{"b", "a", "c"}) {
		t.Fatalf("after b: %v", got)
	}

	f.publish(t, f.join(t, "d"), "d")
	f.observer.Emit("d")
	if got := f.room.ActiveSpeakers(); !slices.Equal(got, []string{"d", "b", "a", "c"}) {
		t.Fatalf("after d: %v", got)
	}

	top, ok := f.notifier.LastActive("sid-c")
	if !ok || !slices.Equal(top, []string{"d", "b", "a", "c"}) {
		t.Fatalf("broadcast to c = %v", top)
	}
}

func TestDominantSpeakerIgnoresUnknownProducer(t *testing.T) {
	f := newFixture(t, 5)
	f.publish(t, f.join(t, "a"), "a")
	f.notifier.Reset()

	f.observer.Emit("ghost")

	if got := f.room.ActiveSpeakers(); !slices.Equal(got, []string{"a"}) {
		t.Fatalf("ranking = %v", got)
	}
	if f.notifier.ActiveCount("sid-a") != 0 {
		t.Fatal("unexpected broadcast for unknown producer")
	}
}

func TestRecomputeSplitsAtK(t *testing.T) {
	f := newFixture(t, 5)
	names := []string{"p0", "p1", "p2", "p3", "p4", "p5", "p6"}
	clients := make(map[string]*core.Client)
	producers := make(map[string][2]*mediatest.Producer)
	for _, n := range names {
		c := f.join(t, n)
		a, v := f.publish(t, c, n)
		clients[n] = c
		producers[n] = [2]*mediatest.Producer{a, v}
	}
	for _, n := range names {
		f.consumeAll(t, clients[n], names)
	}

	needed := f.room.RecomputeActiveSpeakers()
	if len(needed) != 0 {
		t.Fatalf("nothing should be needed, got %v", needed)
	}

	active := names[:5]
	for _, n := range names {
		wantPaused := !slices.Contains(active, n)
		for _, p := range producers[n] {
			if p.Paused() != wantPaused {
				t.Fatalf("producer %s paused=%v, want %v", p.ID(), p.Paused(), wantPaused)
			}
		}
	}
	for _, n := range names {
		for _, dt := range clients[n].Downstreams() {
			wantPaused := !slices.Contains(active, dt.AudioPID())
			for _, kind := range []core.MediaKind{core.KindAudio, core.KindVideo} {
				cons, ok := dt.Consumer(kind)
				if !ok {
					t.Fatalf("%s missing %s consumer for %s", n, kind, dt.AudioPID())
				}
				if cons.Paused() != wantPaused {
					t.Fatalf("%s consumer of %s paused=%v, want %v", n, cons.ProducerID(), cons.Paused(), wantPaused)
				}
			}
		}
	}
	for _, n := range names {
		top, _ := f.notifier.LastActive(core.SessionID("sid-" + n))
		if !slices.Equal(top, active) {
			t.Fatalf("%s got top %v", n, top)
		}
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	f := newFixture(t, 2)
	var clients []*core.Client
	for _, n := range []string{"a", "b", "c"} {
		c := f.join(t, n)
		f.publish(t, c, n)
		clients = append(clients, c)
	}
	f.consumeAll(t, clients[0], []string{"b", "c"})

	snapshot := func() map[string]bool {
		out := make(map[string]bool)
		for _, c := range clients {
			for _, kind := range []core.MediaKind{core.KindAudio, core.KindVideo} {
				if p, ok := c.Producer(kind); ok {
					out[p.ID()] = p.Paused()
				}
			}
			for _, dt := range c.Downstreams() {
				if cons, ok := dt.Consumer(core.KindAudio); ok {
					out[string(c.ID())+">"+cons.ProducerID()] = cons.Paused()
				}
			}
		}
		return out
	}

	first := f.room.RecomputeActiveSpeakers()
	s1 := snapshot()
	second := f.room.RecomputeActiveSpeakers()
	s2 := snapshot()

	if fmt.Sprint(first) != fmt.Sprint(second) {
		t.Fatalf("needed changed: %v vs %v", first, second)
	}
	if fmt.Sprint(s1) != fmt.Sprint(s2) {
		t.Fatalf("pause state changed: %v vs %v", s1, s2)
	}
	if got := f.room.ActiveSpeakers(); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Fatalf("ranking changed: %v", got)
	}
}

func TestRecomputeReportsNeededProducers(t *testing.T) {
	f := newFixture(t, 5)
	f.publish(t, f.join(t, "a"), "a")
	f.publish(t, f.join(t, "b"), "b")
	f.join(t, "c")
	f.notifier.Reset()

	needed := f.room.RecomputeActiveSpeakers()

	if got := needed["sid-c"]; !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("c needs %v", got)
	}
	if got := needed["sid-a"]; !slices.Equal(got, []string{"b"}) {
		t.Fatalf("a needs %v", got)
	}
	evs := f.notifier.Produce("sid-c")
	if len(evs) != 1 {
		t.Fatalf("expected one newProducersToConsume for c, got %d", len(evs))
	}
	want := []core.ConsumeTarget{
		{AudioPID: "a", VideoPID: "video-a", UserName: "a"},
		{AudioPID: "b", VideoPID: "video-b", UserName: "b"},
	}
	if !slices.Equal(evs[0].Targets, want) {
		t.Fatalf("targets = %+v", evs[0].Targets)
	}
	if !slices.Equal(evs[0].ActiveSpeakers, []string{"a", "b"}) {
		t.Fatalf("snapshot = %v", evs[0].ActiveSpeakers)
	}
	if len(evs[0].RouterRtpCapabilities.Codecs) != len(core.DefaultRouterCodecs) {
		t.Fatal("router capabilities missing")
	}
}

func TestRemovingRankZeroPromotesNext(t *testing.T) {
	f := newFixture(t, 5)
	a := f.join(t, "a")
	f.publish(t, a, "a")
	b := f.join(t, "b")
	f.publish(t, b, "b")
	c := f.join(t, "c")
	f.publish(t, c, "c")
	f.observer.Emit("c")
	f.notifier.Reset()

	c.Close()

	if got := f.room.ActiveSpeakers(); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("ranking = %v", got)
	}
	for _, sid := range []core.SessionID{"sid-a", "sid-b"} {
		top, ok := f.notifier.LastActive(sid)
		if !ok || !slices.Equal(top, []string{"a", "b"}) {
			t.Fatalf("%s got %v", sid, top)
		}
	}
	if f.notifier.ActiveCount("sid-c") != 0 {
		t.Fatal("departed client received a broadcast")
	}
	if f.observer.Has("c") {
		t.Fatal("producer still registered with observer")
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestRemovingClientReleasesPairedDownstreams(t *testing.T) {
	f := newFixture(t, 5)
	a := f.join(t, "a")
	f.publish(t, a, "a")
	b := f.join(t, "b")
	f.consumeAll(t, b, []string{"a"})

	dts := b.Downstreams()
	if len(dts) != 1 {
		t.Fatalf("downstreams = %d", len(dts))
	}
	cons, _ := dts[0].Consumer(core.KindAudio)

	a.Close()

	if len(b.Downstreams()) != 0 {
		t.Fatal("downstream paired with departed producer kept")
	}
	if !dts[0].Transport().(*mediatest.Transport).Closed() {
		t.Fatal("transport not closed")
	}
	if !cons.Closed() {
		t.Fatal("consumer not closed")
	}
}

func TestPidsToCreate(t *testing.T) {
	f := newFixture(t, 2)
	for _, n := range []string{"a", "b", "c"} {
		f.publish(t, f.join(t, n), n)
	}
	f.observer.Emit("c")

	got := f.room.PidsToCreate()
	want := []core.ConsumeTarget{
		{AudioPID: "c", VideoPID: "video-c", UserName: "c"},
		{AudioPID: "a", VideoPID: "video-a", UserName: "a"},
	}
	if !slices.Equal(got, want) {
		t.Fatalf("PidsToCreate = %+v", got)
	}
}

func TestMessagesDoNotRecompute(t *testing.T) {
	f := newFixture(t, 5)
	f.publish(t, f.join(t, "a"), "a")
	f.notifier.Reset()

	m, err := domain.NewMessage("hello", "a", testNow)
	if err != nil {
		t.Fatal(err)
	}
	f.room.AddMessage(m)

	if got := f.room.Messages(); len(got) != 1 || got[0].Text != "hello" {
		t.Fatalf("messages = %+v", got)
	}
	if f.notifier.ActiveCount("sid-a") != 0 {
		t.Fatal("message triggered a broadcast")
	}
}

func TestRankingNeverHoldsDuplicates(t *testing.T) {
	f := newFixture(t, 3)
	rng := rand.New(rand.NewSource(7))
	live := make(map[string]*core.Client)
	next := 0

	for step := 0; step < 400; step++ {
		switch rng.Intn(4) {
		case 0:
			name := fmt.Sprintf("u%d", next)
			next++
			live[name] = f.join(t, name)
		case 1:
			for name, c := range live {
				if _, ok := c.Producer(core.KindAudio); !ok {
					f.publish(t, c, name)
				}
				break
			}
		case 2:
			for name, c := range live {
				c.Close()
				delete(live, name)
				break
			}
		case 3:
			ranking := f.room.ActiveSpeakers()
			if len(ranking) > 0 {
				f.observer.Emit(ranking[rng.Intn(len(ranking))])
			}
		}

		ranking := f.room.ActiveSpeakers()
		seen := make(map[string]bool)
		for _, id := range ranking {
			if seen[id] {
				t.Fatalf("step %d: duplicate %s in %v", step, id, ranking)
			}
			seen[id] = true
			if _, ok := live[id]; !ok {
				t.Fatalf("step %d: %s has no owner in room", step, id)
			}
		}
	}
}

func TestConcurrentEventsKeepRankingConsistent(t *testing.T) {
	f := newFixture(t, 5)
	var clients []*core.Client
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("c%d", i)
		c := f.join(t, name)
		f.publish(t, c, name)
		clients = append(clients, c)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for j := 0; j < 200; j++ {
				f.observer.Emit(fmt.Sprintf("c%d", rng.Intn(8)))
			}
		}(int64(i))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			f.room.RecomputeActiveSpeakers()
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		clients[7].Close()
		clients[6].Close()
	}()
	wg.Wait()

	ranking := f.room.ActiveSpeakers()
	if len(ranking) != 6 {
		t.Fatalf("ranking = %v", ranking)
	}
	if slices.Contains(ranking, "c7") || slices.Contains(ranking, "c6") {
		t.Fatalf("departed producer lingers: %v", ranking)
	}
}

func TestCloseRoomEvictsClients(t *testing.T) {
	f := newFixture(t, 5)
	a := f.join(t, "a")
	f.publish(t, a, "a")

	f.room.Close()

	if f.room.ClientCount() != 0 {
		t.Fatal("clients left after close")
	}
	if !f.router.Closed() {
		t.Fatal("router not closed")
	}
	if _, err := f.room.AddClient(core.NewClient("late", "late", f.room)); err == nil {
		t.Fatal("AddClient after close should fail")
	}
}

func TestAddClientReportsFirstOnly(t *testing.T) {
	f := newFixture(t, 5)
	a := core.NewClient("a", "a", f.room)
	first, err := f.room.AddClient(a)
	if err != nil || !first {
		t.Fatalf("first AddClient = %v, %v", first, err)
	}
	if again, _ := f.room.AddClient(a); again {
		t.Fatal("re-adding a member reported an empty room")
	}
	if second, _ := f.room.AddClient(core.NewClient("b", "b", f.room)); second {
		t.Fatal("second client reported an empty room")
	}
}
