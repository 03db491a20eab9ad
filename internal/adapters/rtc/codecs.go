package rtc

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dkeye/Conference/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

var (
	ErrUnsupportedCodec = errors.New("codec not supported by router")
	ErrMissingICE       = errors.New("remote ice parameters required")
)

func codecType(kind core.MediaKind) webrtc.RTPCodecType {
	if kind == core.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

// fmtpLine renders codec parameters in a stable key order.
func fmtpLine(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := []string{"packetization-mode", "profile-level-id", "level-asymmetry-allowed", "minptime", "useinbandfec"}
	var parts []string
	seen := make(map[string]bool, len(params))
	for _, k := range keys {
		if v, ok := params[k]; ok {
			parts = append(parts, k+"="+v)
			seen[k] = true
		}
	}
	for _, k := range slices.Sorted(maps.Keys(params)) {
		if !seen[k] {
			parts = append(parts, k+"="+params[k])
		}
	}
	return strings.Join(parts, ";")
}

func capabilityOf(c core.RtpCodec) webrtc.RTPCodecCapability {
	var fb []webrtc.RTCPFeedback
	if c.Kind == core.KindVideo {
		fb = []webrtc.RTCPFeedback{{Type: "nack"}, {Type: "nack", Parameter: "pli"}, {Type: "goog-remb"}}
	}
	return webrtc.RTPCodecCapability{
		MimeType:     c.MimeType,
		ClockRate:    c.ClockRate,
		Channels:     c.Channels,
		SDPFmtpLine:  fmtpLine(c.Parameters),
		RTCPFeedback: fb,
	}
}

// newAPI builds the per-router pion API: the fixed codec set, the audio
// level header extension, default interceptors and periodic PLI.
func newAPI(codecs []core.RtpCodec, se webrtc.SettingEngine) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range codecs {
		params := webrtc.RTPCodecParameters{
			RTPCodecCapability: capabilityOf(c),
			PayloadType:        webrtc.PayloadType(c.PreferredPayloadType),
		}
		if err := m.RegisterCodec(params, codecType(c.Kind)); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}
	if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: core.AudioLevelURI}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register audio level extension: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create PLI factory: %w", err)
	}
	registry.Add(pli)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

// capabilitiesOf advertises the router codecs with their payload types.
func capabilitiesOf(codecs []core.RtpCodec) core.RtpCapabilities {
	caps := core.RtpCapabilities{
		Codecs: make([]core.RtpCodec, 0, len(codecs)),
		HeaderExtensions: []core.RtpHeaderExtension{
			{Kind: core.KindAudio, URI: core.AudioLevelURI, ID: 1},
		},
	}
	for _, c := range codecs {
		c.PayloadType = c.PreferredPayloadType
		caps.Codecs = append(caps.Codecs, c)
	}
	return caps
}

// routerCodec finds the router codec matching the producer's first codec.
func routerCodec(codecs []core.RtpCodec, kind core.MediaKind, rtp core.RtpParameters) (core.RtpCodec, error) {
	if len(rtp.Codecs) == 0 {
		return core.RtpCodec{}, fmt.Errorf("%w: no codecs", ErrUnsupportedCodec)
	}
	want := rtp.Codecs[0]
	for _, c := range codecs {
		if c.Kind == kind && c.Matches(want) {
			return c, nil
		}
	}
	return core.RtpCodec{}, fmt.Errorf("%w: %s/%d", ErrUnsupportedCodec, want.MimeType, want.ClockRate)
}

func iceParametersOf(p webrtc.ICEParameters) core.IceParameters {
	return core.IceParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
		IceLite:          p.ICELite,
	}
}

func toICEParameters(p core.IceParameters) webrtc.ICEParameters {
	return webrtc.ICEParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
		ICELite:          p.IceLite,
	}
}

func iceCandidateOf(c webrtc.ICECandidate) core.IceCandidate {
	return core.IceCandidate{
		Foundation: c.Foundation,
		Priority:   c.Priority,
		IP:         c.Address,
		Protocol:   c.Protocol.String(),
		Port:       c.Port,
		Type:       c.Typ.String(),
		TCPType:    c.TCPType,
	}
}

func toICECandidate(c core.IceCandidate) (webrtc.ICECandidate, error) {
	proto, err := webrtc.NewICEProtocol(c.Protocol)
	if err != nil {
		return webrtc.ICECandidate{}, err
	}
	typ, err := webrtc.NewICECandidateType(c.Type)
	if err != nil {
		return webrtc.ICECandidate{}, err
	}
	return webrtc.ICECandidate{
		Foundation: c.Foundation,
		Priority:   c.Priority,
		Address:    c.IP,
		Protocol:   proto,
		Port:       c.Port,
		Typ:        typ,
		Component:  1,
		TCPType:    c.TCPType,
	}, nil
}

func dtlsParametersOf(p webrtc.DTLSParameters) core.DtlsParameters {
	out := core.DtlsParameters{
		Role:         p.Role.String(),
		Fingerprints: make([]core.DtlsFingerprint, 0, len(p.Fingerprints)),
	}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, core.DtlsFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}

func toDTLSParameters(p core.DtlsParameters) webrtc.DTLSParameters {
	out := webrtc.DTLSParameters{
		Role:         webrtc.DTLSRoleAuto,
		Fingerprints: make([]webrtc.DTLSFingerprint, 0, len(p.Fingerprints)),
	}
	switch p.Role {
	case "client":
		out.Role = webrtc.DTLSRoleClient
	case "server":
		out.Role = webrtc.DTLSRoleServer
	}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}
