package rtc

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func loud(o *Observer, id string, n int) {
	for range n {
		o.Report(id, 20, true)
	}
}

func TestObserverPicksLoudest(t *testing.T) {
	o := newObserver(time.Hour, zerolog.Nop())
	o.AddProducer("a")
	o.AddProducer("b")

	loud(o, "a", 10)
	o.Report("b", 100, true)
	id, _, changed := o.tick()
	if !changed || id != "a" {
		t.Fatalf("tick = %q %v, want a", id, changed)
	}

	loud(o, "a", 3)
	if _, _, changed := o.tick(); changed {
		t.Fatal("unchanged dominant reported again")
	}
}

func TestObserverSwitchesAfterSilence(t *testing.T) {
	o := newObserver(time.Hour, zerolog.Nop())
	o.AddProducer("a")
	o.AddProducer("b")
	loud(o, "a", 10)
	o.tick()

	for range 5 {
		loud(o, "b", 10)
		if id, _, changed := o.tick(); changed {
			if id != "b" {
				t.Fatalf("switched to %q", id)
			}
			return
		}
	}
	t.Fatal("never switched to b")
}

func TestObserverQuietRoomHasNoSpeaker(t *testing.T) {
	o := newObserver(time.Hour, zerolog.Nop())
	o.AddProducer("a")
	o.Report("a", 127, false)
	if _, _, changed := o.tick(); changed {
		t.Fatal("silence made a dominant speaker")
	}
}

func TestObserverIgnoresUnregistered(t *testing.T) {
	o := newObserver(time.Hour, zerolog.Nop())
	loud(o, "ghost", 10)
	if _, _, changed := o.tick(); changed {
		t.Fatal("unregistered producer became dominant")
	}

	o.AddProducer("a")
	loud(o, "a", 10)
	o.tick()
	o.RemoveProducer("a")
	loud(o, "a", 10)
	if _, _, changed := o.tick(); changed {
		t.Fatal("removed producer reported")
	}
}

func TestObserverRunEmits(t *testing.T) {
	o := newObserver(5*time.Millisecond, zerolog.Nop())
	got := make(chan string, 1)
	o.OnDominantSpeaker(func(id string) {
		select {
		case got <- id:
		default:
		}
	})
	o.AddProducer("a")
	go o.run()
	defer o.Close()

	deadline := time.After(time.Second)
	for {
		loud(o, "a", 1)
		select {
		case id := <-got:
			if id != "a" {
				t.Fatalf("emitted %q", id)
			}
			return
		case <-deadline:
			t.Fatal("no dominant speaker emitted")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestObserverClosedRejectsProducers(t *testing.T) {
	o := newObserver(time.Hour, zerolog.Nop())
	o.Close()
	o.Close()
	if err := o.AddProducer("a"); err != ErrObserverClosed {
		t.Fatalf("err = %v", err)
	}
}
