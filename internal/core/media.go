package core

import "strings"

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool { return k == KindAudio || k == KindVideo }

type TransportType string

const (
	TransportProducer TransportType = "producer"
	TransportConsumer TransportType = "consumer"
)

func (t TransportType) Valid() bool { return t == TransportProducer || t == TransportConsumer }

type RtpCodec struct {
	Kind                 MediaKind         `json:"kind,omitempty"`
	MimeType             string            `json:"mimeType"`
	ClockRate            uint32            `json:"clockRate"`
	Channels             uint16            `json:"channels,omitempty"`
	PreferredPayloadType uint8             `json:"preferredPayloadType,omitempty"`
	PayloadType          uint8             `json:"payloadType,omitempty"`
	Parameters           map[string]string `json:"parameters,omitempty"`
}

// Matches compares mime type (case-insensitive) and clock rate.
func (c RtpCodec) Matches(o RtpCodec) bool {
	return strings.EqualFold(c.MimeType, o.MimeType) && c.ClockRate == o.ClockRate
}

type RtpHeaderExtension struct {
	Kind MediaKind `json:"kind,omitempty"`
	URI  string    `json:"uri"`
	ID   uint8     `json:"id,omitempty"`
}

type RtpCapabilities struct {
	Codecs           []RtpCodec           `json:"codecs"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions,omitempty"`
}

// Supports reports whether caps contain a codec matching c.
func (caps RtpCapabilities) Supports(c RtpCodec) bool {
	for _, cc := range caps.Codecs {
		if cc.Matches(c) {
			return true
		}
	}
	return false
}

type RtpEncoding struct {
	SSRC uint32 `json:"ssrc"`
	RID  string `json:"rid,omitempty"`
}

type RtpParameters struct {
	Mid              string               `json:"mid,omitempty"`
	Codecs           []RtpCodec           `json:"codecs"`
	Encodings        []RtpEncoding        `json:"encodings,omitempty"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions,omitempty"`
}

// HeaderExtensionID returns the negotiated id of uri, or 0.
func (p RtpParameters) HeaderExtensionID(uri string) uint8 {
	for _, ext := range p.HeaderExtensions {
		if ext.URI == uri {
			return ext.ID
		}
	}
	return 0
}

type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TCPType    string `json:"tcpType,omitempty"`
}

type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

// TransportParams is what a client needs to connect to a server-side transport.
type TransportParams struct {
	ID             string         `json:"id"`
	IceParameters  IceParameters  `json:"iceParameters"`
	IceCandidates  []IceCandidate `json:"iceCandidates"`
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
}

// ConnectParams carries the remote side of the handshake.
type ConnectParams struct {
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
	IceParameters  *IceParameters `json:"iceParameters,omitempty"`
	IceCandidates  []IceCandidate `json:"iceCandidates,omitempty"`
}

type TransportOptions struct {
	InitialAvailableOutgoingBitrate uint32
}

// Bitrates is the per-room transport bitrate policy.
type Bitrates struct {
	MaxIncoming     uint32
	InitialOutgoing uint32
}

const AudioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

// DefaultRouterCodecs is the fixed codec set every router is created with:
// one audio codec and two video alternatives.
var DefaultRouterCodecs = []RtpCodec{
	{
		Kind:                 KindAudio,
		MimeType:             "audio/opus",
		ClockRate:            48000,
		Channels:             2,
		PreferredPayloadType: 111,
	},
	{
		Kind:                 KindVideo,
		MimeType:             "video/VP8",
		ClockRate:            90000,
		PreferredPayloadType: 96,
	},
	{
		Kind:                 KindVideo,
		MimeType:             "video/H264",
		ClockRate:            90000,
		PreferredPayloadType: 102,
		Parameters: map[string]string{
			"packetization-mode":      "1",
			"profile-level-id":        "42e01f",
			"level-asymmetry-allowed": "1",
		},
	},
}
