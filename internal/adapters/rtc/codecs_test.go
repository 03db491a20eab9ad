package rtc

import (
	"errors"
	"testing"

	"github.com/dkeye/Conference/internal/core"
	"github.com/pion/webrtc/v4"
)

func TestFmtpLineOrder(t *testing.T) {
	got := fmtpLine(map[string]string{
		"level-asymmetry-allowed": "1",
		"x-custom":                "y",
		"packetization-mode":      "1",
		"profile-level-id":        "42e01f",
	})
	want := "packetization-mode=1;profile-level-id=42e01f;level-asymmetry-allowed=1;x-custom=y"
	if got != want {
		t.Fatalf("fmtpLine = %q, want %q", got, want)
	}
	if fmtpLine(nil) != "" {
		t.Fatal("empty params rendered")
	}
}

func TestRouterCodec(t *testing.T) {
	c, err := routerCodec(core.DefaultRouterCodecs, core.KindVideo, core.RtpParameters{
		Codecs: []core.RtpCodec{{MimeType: "video/h264", ClockRate: 90000}},
	})
	if err != nil {
		t.Fatalf("routerCodec: %v", err)
	}
	if c.PreferredPayloadType != 102 {
		t.Fatalf("matched %+v", c)
	}

	_, err = routerCodec(core.DefaultRouterCodecs, core.KindAudio, core.RtpParameters{
		Codecs: []core.RtpCodec{{MimeType: "video/VP8", ClockRate: 90000}},
	})
	if !errors.Is(err, ErrUnsupportedCodec) {
		t.Fatalf("kind mismatch err = %v", err)
	}
	if _, err := routerCodec(core.DefaultRouterCodecs, core.KindAudio, core.RtpParameters{}); !errors.Is(err, ErrUnsupportedCodec) {
		t.Fatalf("no codecs err = %v", err)
	}
}

func TestDTLSRoleMapping(t *testing.T) {
	for role, want := range map[string]webrtc.DTLSRole{
		"client": webrtc.DTLSRoleClient,
		"server": webrtc.DTLSRoleServer,
		"auto":   webrtc.DTLSRoleAuto,
		"":       webrtc.DTLSRoleAuto,
	} {
		got := toDTLSParameters(core.DtlsParameters{
			Role:         role,
			Fingerprints: []core.DtlsFingerprint{{Algorithm: "sha-256", Value: "AB:CD"}},
		})
		if got.Role != want {
			t.Errorf("role %q -> %v, want %v", role, got.Role, want)
		}
		if len(got.Fingerprints) != 1 || got.Fingerprints[0].Value != "AB:CD" {
			t.Errorf("fingerprints = %+v", got.Fingerprints)
		}
	}
}

func TestICECandidateConversion(t *testing.T) {
	in := core.IceCandidate{
		Foundation: "1",
		Priority:   2130706431,
		IP:         "10.0.0.1",
		Protocol:   "udp",
		Port:       40000,
		Type:       "host",
	}
	wc, err := toICECandidate(in)
	if err != nil {
		t.Fatalf("toICECandidate: %v", err)
	}
	if back := iceCandidateOf(wc); back != in {
		t.Fatalf("converted back to %+v", back)
	}
	if _, err := toICECandidate(core.IceCandidate{Protocol: "sctp", Type: "host"}); err == nil {
		t.Fatal("bad protocol accepted")
	}
}
