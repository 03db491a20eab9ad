// Package mediatest provides an in-memory media engine for tests.
package mediatest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Conference/internal/core"
)

var seq atomic.Int64

func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, seq.Add(1))
}

// Capabilities is what a compatible receiver sends.
func Capabilities() core.RtpCapabilities {
	return core.RtpCapabilities{Codecs: core.DefaultRouterCodecs}
}

type Worker struct {
	id         int
	FailRouter error

	mu      sync.Mutex
	routers []*Router
	died    chan struct{}
	err     error
	once    sync.Once
}

func NewWorker(id int) *Worker {
	return &Worker{id: id, died: make(chan struct{})}
}

func (w *Worker) ID() int { return w.id }

func (w *Worker) RouterCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, r := range w.routers {
		if !r.Closed() {
			n++
		}
	}
	return n
}

func (w *Worker) CreateRouter(_ context.Context, codecs []core.RtpCodec) (core.Router, error) {
	if w.FailRouter != nil {
		return nil, w.FailRouter
	}
	r := NewRouter(codecs)
	w.mu.Lock()
	w.routers = append(w.routers, r)
	w.mu.Unlock()
	return r, nil
}

func (w *Worker) Routers() []*Router {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.routers)
}

func (w *Worker) Died() <-chan struct{} { return w.died }

func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Kill simulates an unexpected worker exit.
func (w *Worker) Kill(err error) {
	w.once.Do(func() {
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		close(w.died)
	})
}

func (w *Worker) Close() {}

type Router struct {
	id   string
	caps core.RtpCapabilities

	FailTransport error
	FailObserver  error

	mu           sync.Mutex
	incompatible map[string]bool
	transports   []*Transport
	observers    []*Observer
	closed       bool
}

func NewRouter(codecs []core.RtpCodec) *Router {
	return &Router{
		id:           nextID("router"),
		caps:         core.RtpCapabilities{Codecs: codecs},
		incompatible: make(map[string]bool),
	}
}

func (r *Router) ID() string                            { return r.id }
func (r *Router) RtpCapabilities() core.RtpCapabilities { return r.caps }

// Reject makes CanConsume fail for producerID.
func (r *Router) Reject(producerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incompatible[producerID] = true
}

func (r *Router) CanConsume(producerID string, caps core.RtpCapabilities) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.incompatible[producerID] && len(caps.Codecs) > 0
}

func (r *Router) CreateActiveSpeakerObserver(_ context.Context, _ time.Duration) (core.ActiveSpeakerObserver, error) {
	if r.FailObserver != nil {
		return nil, r.FailObserver
	}
	o := NewObserver()
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()
	return o, nil
}

func (r *Router) CreateWebRtcTransport(_ context.Context, _ core.TransportOptions) (core.Transport, error) {
	if r.FailTransport != nil {
		return nil, r.FailTransport
	}
	t := NewTransport()
	r.mu.Lock()
	r.transports = append(r.transports, t)
	r.mu.Unlock()
	return t, nil
}

func (r *Router) Transports() []*Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.transports)
}

func (r *Router) Observer() *Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.observers) == 0 {
		return nil
	}
	return r.observers[0]
}

func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type Observer struct {
	FailAdd error

	mu        sync.Mutex
	producers map[string]bool
	fn        func(string)
	closed    bool
}

func NewObserver() *Observer {
	return &Observer{producers: make(map[string]bool)}
}

func (o *Observer) AddProducer(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.FailAdd != nil {
		return o.FailAdd
	}
	o.producers[id] = true
	return nil
}

func (o *Observer) RemoveProducer(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.producers, id)
	return nil
}

func (o *Observer) OnDominantSpeaker(fn func(string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fn = fn
}

// Emit delivers a dominant speaker notification like the engine's timer would.
func (o *Observer) Emit(id string) {
	o.mu.Lock()
	fn := o.fn
	o.mu.Unlock()
	if fn != nil {
		fn(id)
	}
}

func (o *Observer) Has(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.producers[id]
}

func (o *Observer) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
}

type Transport struct {
	id string

	FailConnect error
	FailProduce error
	FailConsume error
	FailBitrate error

	// BlockConnect makes Connect wait for its context.
	BlockConnect bool

	mu          sync.Mutex
	maxIncoming uint32
	connected   bool
	produced    []*Producer
	consumed    []*Consumer
	closed      bool
}

func NewTransport() *Transport {
	return &Transport{id: nextID("transport")}
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Params() core.TransportParams {
	return core.TransportParams{
		ID:            t.id,
		IceParameters: core.IceParameters{UsernameFragment: "ufrag", Password: "pwd"},
		DtlsParameters: core.DtlsParameters{
			Role:         "auto",
			Fingerprints: []core.DtlsFingerprint{{Algorithm: "sha-256", Value: "00:11"}},
		},
	}
}

func (t *Transport) SetMaxIncomingBitrate(bps uint32) error {
	if t.FailBitrate != nil {
		return t.FailBitrate
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxIncoming = bps
	return nil
}

func (t *Transport) MaxIncoming() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxIncoming
}

func (t *Transport) Connect(ctx context.Context, _ core.ConnectParams) error {
	if t.BlockConnect {
		<-ctx.Done()
		return ctx.Err()
	}
	if t.FailConnect != nil {
		return t.FailConnect
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Produce(_ context.Context, kind core.MediaKind, _ core.RtpParameters) (core.Producer, error) {
	if t.FailProduce != nil {
		return nil, t.FailProduce
	}
	p := NewProducer(nextID(string(kind)), kind)
	t.mu.Lock()
	t.produced = append(t.produced, p)
	t.mu.Unlock()
	return p, nil
}

func (t *Transport) Produced() []*Producer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.produced)
}

func (t *Transport) Consume(_ context.Context, producerID string, _ core.RtpCapabilities, paused bool) (core.Consumer, error) {
	if t.FailConsume != nil {
		return nil, t.FailConsume
	}
	c := NewConsumer(nextID("consumer"), producerID, kindOf(producerID))
	c.paused = paused
	t.mu.Lock()
	t.consumed = append(t.consumed, c)
	t.mu.Unlock()
	return c, nil
}

func (t *Transport) Consumed() []*Consumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.consumed)
}

func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func kindOf(producerID string) core.MediaKind {
	if len(producerID) >= 5 && producerID[:5] == "video" {
		return core.KindVideo
	}
	return core.KindAudio
}

// state is shared by the fake producer and consumer.
type state struct {
	mu      sync.Mutex
	paused  bool
	closed  bool
	pauses  int
	resumes int
}

func (s *state) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.paused = true
	s.pauses++
	return nil
}

func (s *state) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.paused = false
	s.resumes++
	return nil
}

func (s *state) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *state) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *state) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Calls returns how often Pause and Resume took effect.
func (s *state) Calls() (pauses, resumes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauses, s.resumes
}

type Producer struct {
	state
	id   string
	kind core.MediaKind
}

func NewProducer(id string, kind core.MediaKind) *Producer {
	return &Producer{id: id, kind: kind}
}

func (p *Producer) ID() string           { return p.id }
func (p *Producer) Kind() core.MediaKind { return p.kind }

type Consumer struct {
	state
	id         string
	producerID string
	kind       core.MediaKind
}

func NewConsumer(id, producerID string, kind core.MediaKind) *Consumer {
	return &Consumer{id: id, producerID: producerID, kind: kind}
}

func (c *Consumer) ID() string           { return c.id }
func (c *Consumer) ProducerID() string   { return c.producerID }
func (c *Consumer) Kind() core.MediaKind { return c.kind }

func (c *Consumer) RtpParameters() core.RtpParameters {
	return core.RtpParameters{
		Codecs:    []core.RtpCodec{core.DefaultRouterCodecs[0]},
		Encodings: []core.RtpEncoding{{SSRC: 1234}},
	}
}

// Notifier records push events per recipient.
type Notifier struct {
	mu      sync.Mutex
	active  map[core.SessionID][][]string
	produce map[core.SessionID][]core.ProducersToConsume
}

func NewNotifier() *Notifier {
	return &Notifier{
		active:  make(map[core.SessionID][][]string),
		produce: make(map[core.SessionID][]core.ProducersToConsume),
	}
}

func (n *Notifier) ActiveSpeakers(to core.SessionID, top []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.active[to] = append(n.active[to], slices.Clone(top))
}

func (n *Notifier) ProducersToConsume(to core.SessionID, ev core.ProducersToConsume) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.produce[to] = append(n.produce[to], ev)
}

// LastActive is the most recent top-K pushed to sid.
func (n *Notifier) LastActive(sid core.SessionID) ([]string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	evs := n.active[sid]
	if len(evs) == 0 {
		return nil, false
	}
	return evs[len(evs)-1], true
}

func (n *Notifier) ActiveCount(sid core.SessionID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.active[sid])
}

func (n *Notifier) Produce(sid core.SessionID) []core.ProducersToConsume {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.produce[sid])
}

func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	clear(n.active)
	clear(n.produce)
}
