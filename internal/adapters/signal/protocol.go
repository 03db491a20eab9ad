package signal

import (
	"errors"
	"strings"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Request types.
const (
	TypeCreateRoom       = "createRoom"
	TypeJoinRoom         = "joinRoom"
	TypeLeaveRoom        = "leaveRoom"
	TypeRequestTransport = "requestTransport"
	TypeConnectTransport = "connectTransport"
	TypeStartProducing   = "startProducing"
	TypeConsumeMedia     = "consumeMedia"
	TypeUnpauseConsumer  = "unpauseConsumer"
	TypeAudioChange      = "audioChange"
	TypeSendMessage      = "sendMessage"
	TypePing             = "ping"
)

// Push event types.
const (
	EventAck                   = "ack"
	EventPong                  = "pong"
	EventConnectionSuccess     = "connectionSuccess"
	EventNewRoom               = "newRoom"
	EventNewMessage            = "newMessage"
	EventUpdateActiveSpeakers  = "updateActiveSpeakers"
	EventNewProducersToConsume = "newProducersToConsume"
)

var (
	ErrBadPayload = errors.New("bad payload")
	validate      = validator.New(validator.WithRequiredStructEnabled())
)

// request is the inbound envelope. ID is echoed in the ack as sent.
type request struct {
	Type string          `json:"type"`
	ID   json.RawMessage `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ack struct {
	Type string          `json:"type"`
	ID   json.RawMessage `json:"id,omitempty"`
	Data any             `json:"data"`
}

type push struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type errorResult struct {
	Error string `json:"error"`
}

type statusResult struct {
	Status string `json:"status"`
}

type roomSummary struct {
	RoomID   domain.RoomID   `json:"roomId"`
	RoomName domain.RoomName `json:"roomName"`
}

type connectionSuccess struct {
	SocketID core.SessionID `json:"socketId"`
	Rooms    []roomSummary  `json:"rooms"`
}

type consumeData struct {
	RouterRtpCapabilities core.RtpCapabilities `json:"routerRtpCapabilities"`
	AudioPidsToCreate     []string             `json:"audioPidsToCreate"`
	VideoPidsToCreate     []string             `json:"videoPidsToCreate"`
	AssociatedUserNames   []string             `json:"associatedUserNames"`
	ActiveSpeakerList     []string             `json:"activeSpeakerList,omitempty"`
}

func newConsumeData(caps core.RtpCapabilities, targets []core.ConsumeTarget, active []string) consumeData {
	d := consumeData{
		RouterRtpCapabilities: caps,
		AudioPidsToCreate:     make([]string, 0, len(targets)),
		VideoPidsToCreate:     make([]string, 0, len(targets)),
		AssociatedUserNames:   make([]string, 0, len(targets)),
		ActiveSpeakerList:     active,
	}
	for _, t := range targets {
		d.AudioPidsToCreate = append(d.AudioPidsToCreate, t.AudioPID)
		d.VideoPidsToCreate = append(d.VideoPidsToCreate, t.VideoPID)
		d.AssociatedUserNames = append(d.AssociatedUserNames, t.UserName)
	}
	return d
}

type joinResult struct {
	ConsumeData consumeData      `json:"consumeData"`
	NewRoom     bool             `json:"newRoom"`
	Messages    []domain.Message `json:"messages"`
}

// Request payloads.

type createRoomPayload struct {
	RoomName string `json:"roomName" validate:"required,max=64"`
}

// UnmarshalJSON also accepts a bare room name string.
func (p *createRoomPayload) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		p.RoomName = name
		return nil
	}
	type plain createRoomPayload
	return json.Unmarshal(b, (*plain)(p))
}

type joinRoomPayload struct {
	UserName string        `json:"userName" validate:"required,max=36"`
	RoomID   domain.RoomID `json:"roomId" validate:"required"`
}

type requestTransportPayload struct {
	Type     core.TransportType `json:"type" validate:"required,oneof=producer consumer"`
	AudioPID string             `json:"audioPid" validate:"required_if=Type consumer"`
}

type connectTransportPayload struct {
	Type           core.TransportType   `json:"type" validate:"required,oneof=producer consumer"`
	AudioPID       string               `json:"audioPid" validate:"required_if=Type consumer"`
	DtlsParameters *core.DtlsParameters `json:"dtlsParameters" validate:"required"`
	IceParameters  *core.IceParameters  `json:"iceParameters"`
	IceCandidates  []core.IceCandidate  `json:"iceCandidates"`
}

type startProducingPayload struct {
	Kind          core.MediaKind      `json:"kind" validate:"required,oneof=audio video"`
	RtpParameters *core.RtpParameters `json:"rtpParameters" validate:"required"`
}

type consumeMediaPayload struct {
	RtpCapabilities *core.RtpCapabilities `json:"rtpCapabilities" validate:"required"`
	ProducerID      string                `json:"producerId" validate:"required"`
	Kind            core.MediaKind        `json:"kind" validate:"required,oneof=audio video"`
}

// unpauseConsumerPayload accepts both producerId and the older pid key.
type unpauseConsumerPayload struct {
	ProducerID string         `json:"producerId" validate:"required_without=PID"`
	PID        string         `json:"pid"`
	Kind       core.MediaKind `json:"kind" validate:"required,oneof=audio video"`
}

func (p unpauseConsumerPayload) producer() string {
	if p.ProducerID != "" {
		return p.ProducerID
	}
	return p.PID
}

type sendMessagePayload struct {
	Text     string        `json:"text" validate:"required,max=2000"`
	UserName string        `json:"userName" validate:"required,max=36"`
	RoomID   domain.RoomID `json:"roomId" validate:"required"`
}

// decode unmarshals and validates a request payload.
func decode(data []byte, v any) error {
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Join(ErrBadPayload, err)
	}
	if err := validate.Struct(v); err != nil {
		return errors.Join(ErrBadPayload, err)
	}
	return nil
}

// decodeAudioChange reads "mute" or "unmute", bare or as {"change": ...}.
func decodeAudioChange(data []byte) (mute bool, err error) {
	var change string
	if err := json.Unmarshal(data, &change); err != nil {
		var obj struct {
			Change string `json:"change"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return false, errors.Join(ErrBadPayload, err)
		}
		change = obj.Change
	}
	change = strings.ToLower(strings.TrimSpace(change))
	if err := validate.Var(change, "required,oneof=mute unmute"); err != nil {
		return false, errors.Join(ErrBadPayload, err)
	}
	return change == "mute", nil
}

func encodeAck(id json.RawMessage, data any) ([]byte, error) {
	return json.Marshal(ack{Type: EventAck, ID: id, Data: data})
}

func encodePush(typ string, data any) ([]byte, error) {
	return json.Marshal(push{Type: typ, Data: data})
}
