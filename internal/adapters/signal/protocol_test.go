package signal

import (
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Conference/internal/core"
)

func TestDecodeAudioChange(t *testing.T) {
	tests := []struct {
		in      string
		mute    bool
		wantErr bool
	}{
		{`"mute"`, true, false},
		{`"Unmute"`, false, false},
		{`{"change":"mute"}`, true, false},
		{`"shout"`, false, true},
		{`42`, false, true},
	}
	for _, tt := range tests {
		mute, err := decodeAudioChange([]byte(tt.in))
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: err = %v", tt.in, err)
		}
		if err == nil && mute != tt.mute {
			t.Fatalf("%s: mute = %v", tt.in, mute)
		}
		if err != nil && !errors.Is(err, ErrBadPayload) {
			t.Fatalf("%s: error %v is not ErrBadPayload", tt.in, err)
		}
	}
}

func TestCreateRoomPayloadForms(t *testing.T) {
	for _, in := range []string{`"lobby"`, `{"roomName":"lobby"}`} {
		var p createRoomPayload
		if err := decode([]byte(in), &p); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if p.RoomName != "lobby" {
			t.Fatalf("%s: name = %q", in, p.RoomName)
		}
	}
	var p createRoomPayload
	if err := decode([]byte(`{}`), &p); !errors.Is(err, ErrBadPayload) {
		t.Fatalf("empty payload err = %v", err)
	}
}

func TestUnpausePayloadAcceptsPid(t *testing.T) {
	var p unpauseConsumerPayload
	if err := decode([]byte(`{"pid":"p1","kind":"video"}`), &p); err != nil {
		t.Fatal(err)
	}
	if p.producer() != "p1" {
		t.Fatalf("producer = %q", p.producer())
	}
	var missing unpauseConsumerPayload
	if err := decode([]byte(`{"kind":"video"}`), &missing); err == nil {
		t.Fatal("expected an error without a producer id")
	}
}

func TestConsumerTransportNeedsAudioPid(t *testing.T) {
	var p requestTransportPayload
	if err := decode([]byte(`{"type":"consumer"}`), &p); err == nil {
		t.Fatal("consumer transport without audioPid accepted")
	}
	if err := decode([]byte(`{"type":"producer"}`), &p); err != nil {
		t.Fatal(err)
	}
}

func TestNewConsumeDataKeepsPairsAligned(t *testing.T) {
	d := newConsumeData(core.RtpCapabilities{}, []core.ConsumeTarget{
		{AudioPID: "a1", VideoPID: "v1", UserName: "ann"},
		{AudioPID: "a2", UserName: "bob"},
	}, []string{"a2", "a1"})
	if len(d.AudioPidsToCreate) != 2 || d.VideoPidsToCreate[1] != "" || d.AssociatedUserNames[1] != "bob" {
		t.Fatalf("consumeData = %+v", d)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewRoomRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	if !rl.Allow("s") || !rl.Allow("s") {
		t.Fatal("first two messages should pass")
	}
	if rl.Allow("s") {
		t.Fatal("third message inside the window should fail")
	}
	if !rl.Allow("other") {
		t.Fatal("limits are per session")
	}
	now = now.Add(1500 * time.Millisecond)
	if !rl.Allow("s") {
		t.Fatal("window should have slid")
	}
	rl.Forget("s")
	if !rl.Allow("s") || !rl.Allow("s") {
		t.Fatal("forgotten session starts fresh")
	}

	if !NewRoomRateLimiter(0, time.Second).Allow("s") {
		t.Fatal("zero limit means unlimited")
	}
}
