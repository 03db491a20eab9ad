package sfu

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
)

type chanSource chan *rtp.Packet

func (c chanSource) ReadRTP() (*rtp.Packet, error) {
	p, ok := <-c
	if !ok {
		return nil, io.EOF
	}
	return p, nil
}

type sink struct {
	mu   sync.Mutex
	got  []uint16
	fail error
}

func (s *sink) WriteRTP(p *rtp.Packet) error {
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, p.SequenceNumber)
	return nil
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func packet(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: seq}}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOutTrackStartsMuted(t *testing.T) {
	ot := NewOutTrack(&sink{})
	if ot.GetState() != TrackStateMuted {
		t.Fatalf("state = %d", ot.GetState())
	}
	ot.MarkOk()
	if ot.GetState() != TrackStateOk {
		t.Fatalf("state = %d", ot.GetState())
	}
	ot.MarkDelete()
	ot.MarkOk()
	if ot.GetState() != TrackStateDelete {
		t.Fatal("deleted track revived")
	}
}

func TestRelayForwardsToUnmutedOnly(t *testing.T) {
	m := NewRelayManager()
	src := make(chanSource)
	var tapped int
	var tapMu sync.Mutex
	m.StartRelay(context.Background(), "p1", src, func(*rtp.Packet) {
		tapMu.Lock()
		tapped++
		tapMu.Unlock()
	})

	live, muted := &sink{}, &sink{}
	ot, ok := m.AddSubscriber("p1", "c1", live)
	if !ok {
		t.Fatal("AddSubscriber failed")
	}
	ot.MarkOk()
	m.AddSubscriber("p1", "c2", muted)

	src <- packet(1)
	src <- packet(2)
	waitFor(t, func() bool { return live.count() == 2 })
	if muted.count() != 0 {
		t.Fatalf("muted sink got %d packets", muted.count())
	}
	tapMu.Lock()
	defer tapMu.Unlock()
	if tapped != 2 {
		t.Fatalf("tap saw %d packets", tapped)
	}
}

func TestRelayPauseStillTaps(t *testing.T) {
	m := NewRelayManager()
	src := make(chanSource)
	taps := make(chan struct{}, 4)
	r := m.StartRelay(context.Background(), "p1", src, func(*rtp.Packet) { taps <- struct{}{} })
	s := &sink{}
	ot, _ := m.AddSubscriber("p1", "c1", s)
	ot.MarkOk()

	r.Pause()
	src <- packet(1)
	<-taps
	r.Resume()
	src <- packet(2)
	<-taps
	waitFor(t, func() bool { return s.count() == 1 })
	if s.got[0] != 2 {
		t.Fatalf("forwarded seq %d while paused", s.got[0])
	}
}

func TestRelayDropsFailingSubscriber(t *testing.T) {
	m := NewRelayManager()
	src := make(chanSource)
	r := m.StartRelay(context.Background(), "p1", src, nil)
	ot, _ := m.AddSubscriber("p1", "c1", &sink{fail: errors.New("closed pipe")})
	ot.MarkOk()

	src <- packet(1)
	waitFor(t, func() bool { return r.Subscribers() == 0 })
	if ot.GetState() != TrackStateDelete {
		t.Fatal("failing track not deleted")
	}
}

func TestRelayEndsOnSourceEOF(t *testing.T) {
	m := NewRelayManager()
	src := make(chanSource)
	r := m.StartRelay(context.Background(), "p1", src, nil)
	ot, _ := m.AddSubscriber("p1", "c1", &sink{})

	close(src)
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("relay loop did not stop")
	}
	if ot.GetState() != TrackStateDelete {
		t.Fatal("out track not deleted after EOF")
	}
}

func TestRelayManagerStopAndReplace(t *testing.T) {
	m := NewRelayManager()
	first := m.StartRelay(context.Background(), "p1", make(chanSource), nil)
	ot, _ := m.AddSubscriber("p1", "c1", &sink{})

	second := m.StartRelay(context.Background(), "p1", make(chanSource), nil)
	if r, _ := m.Relay("p1"); r != second || r == first {
		t.Fatal("relay not replaced")
	}
	if ot.GetState() != TrackStateDelete {
		t.Fatal("old subscribers survived replacement")
	}

	if _, ok := m.AddSubscriber("missing", "c", &sink{}); ok {
		t.Fatal("subscribed to missing relay")
	}
	m.StopRelay("p1")
	if m.HasRelay("p1") {
		t.Fatal("relay still registered")
	}
}
