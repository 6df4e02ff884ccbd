// Package rtctest provides in-memory fakes of the rtc engine interfaces.
// Events are raised explicitly by the test and callbacks run on the
// calling goroutine.
package rtctest

import (
	"context"
	"errors"
	"sync"

	"github.com/Xosrov/webrtc-vtx/internal/rtc"
)

// OfferSDP is the SDP every fake peer offers.
const OfferSDP = "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\na=mid:0\r\na=sendonly\r\na=rtpmap:96 H264/90000\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\na=mid:1\r\na=sendonly\r\na=rtpmap:111 opus/48000/2\r\n" +
	"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\na=mid:2\r\n"

var ErrClosed = errors.New("rtctest: closed")

// Builder records every build and hands out fake pipelines.
type Builder struct {
	mu        sync.Mutex
	err       error
	pipelines []*Pipeline
	params    []rtc.MediaParams
}

// Fail makes every later Build return err. nil restores success.
func (b *Builder) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *Builder) Build(_ context.Context, params rtc.MediaParams) (rtc.Pipeline, rtc.PeerConnection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.params = append(b.params, params)
	if b.err != nil {
		return nil, nil, b.err
	}
	p := &Pipeline{Peer: &Peer{}}
	b.pipelines = append(b.pipelines, p)
	return p, p.Peer, nil
}

// Builds counts successful builds.
func (b *Builder) Builds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pipelines)
}

func (b *Builder) Last() *Pipeline {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pipelines) == 0 {
		return nil
	}
	return b.pipelines[len(b.pipelines)-1]
}

func (b *Builder) Pipelines() []*Pipeline {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Pipeline(nil), b.pipelines...)
}

func (b *Builder) LastParams() rtc.MediaParams {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.params) == 0 {
		return rtc.MediaParams{}
	}
	return b.params[len(b.params)-1]
}

type Pipeline struct {
	Peer *Peer

	mu    sync.Mutex
	stops int
}

func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *Pipeline) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

// Peer is a fake rtc.PeerConnection.
type Peer struct {
	mu sync.Mutex

	onNegotiation func()
	pending       bool
	onCandidate   func(rtc.Candidate)
	onGathering   func(string)
	onConnection  func(string)
	onDataChannel func(rtc.DataChannel)

	channels   []*Channel
	offers     int
	local      []rtc.Description
	remote     []rtc.Description
	candidates []rtc.Candidate
	closes     int
}

func (p *Peer) OnNegotiationNeeded(f func()) {
	p.mu.Lock()
	p.onNegotiation = f
	pending := p.pending && f != nil
	p.pending = false
	p.mu.Unlock()
	if pending {
		f()
	}
}

func (p *Peer) OnICECandidate(f func(rtc.Candidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = f
}

func (p *Peer) OnICEGatheringStateChange(f func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onGathering = f
}

func (p *Peer) OnICEConnectionStateChange(f func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnection = f
}

func (p *Peer) OnDataChannel(f func(rtc.DataChannel)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDataChannel = f
}

func (p *Peer) CreateDataChannel(label string, opts rtc.ChannelOptions) (rtc.DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closes > 0 {
		return nil, ErrClosed
	}
	ch := &Channel{label: label, Options: opts}
	p.channels = append(p.channels, ch)
	return ch, nil
}

func (p *Peer) CreateOffer() (rtc.Description, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closes > 0 {
		return rtc.Description{}, ErrClosed
	}
	p.offers++
	return rtc.Description{Type: "offer", SDP: OfferSDP}, nil
}

func (p *Peer) SetLocalDescription(d rtc.Description) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = append(p.local, d)
	return nil
}

func (p *Peer) SetRemoteDescription(d rtc.Description) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = append(p.remote, d)
	return nil
}

func (p *Peer) AddICECandidate(c rtc.Candidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

// NeedNegotiation raises negotiation-needed, or latches it until a
// handler is registered.
func (p *Peer) NeedNegotiation() {
	p.mu.Lock()
	f := p.onNegotiation
	if f == nil {
		p.pending = true
	}
	p.mu.Unlock()
	if f != nil {
		f()
	}
}

func (p *Peer) EmitCandidate(c rtc.Candidate) {
	p.mu.Lock()
	f := p.onCandidate
	p.mu.Unlock()
	if f != nil {
		f(c)
	}
}

func (p *Peer) EmitGatheringState(s string) {
	p.mu.Lock()
	f := p.onGathering
	p.mu.Unlock()
	if f != nil {
		f(s)
	}
}

func (p *Peer) EmitConnectionState(s string) {
	p.mu.Lock()
	f := p.onConnection
	p.mu.Unlock()
	if f != nil {
		f(s)
	}
}

// EmitDataChannel announces a channel created by the remote side.
func (p *Peer) EmitDataChannel(label string) *Channel {
	ch := &Channel{label: label, Options: rtc.ChannelOptions{Ordered: true}}
	p.mu.Lock()
	f := p.onDataChannel
	p.mu.Unlock()
	if f != nil {
		f(ch)
	}
	return ch
}

func (p *Peer) Channels() []*Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Channel(nil), p.channels...)
}

// Channel returns the most recently created local channel with label.
func (p *Peer) Channel(label string) *Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.channels) - 1; i >= 0; i-- {
		if p.channels[i].label == label {
			return p.channels[i]
		}
	}
	return nil
}

func (p *Peer) Offers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers
}

func (p *Peer) LocalDescriptions() []rtc.Description {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]rtc.Description(nil), p.local...)
}

func (p *Peer) RemoteDescriptions() []rtc.Description {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]rtc.Description(nil), p.remote...)
}

func (p *Peer) Candidates() []rtc.Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]rtc.Candidate(nil), p.candidates...)
}

func (p *Peer) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// Channel is a fake rtc.DataChannel.
type Channel struct {
	label   string
	Options rtc.ChannelOptions

	mu      sync.Mutex
	onOpen  func()
	onClose func()
	onError func(error)
	onMsg   func(rtc.Message)
	sent    []rtc.Message
	closes  int
}

func (c *Channel) Label() string { return c.label }

func (c *Channel) OnOpen(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = f
}

func (c *Channel) OnClose(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = f
}

func (c *Channel) OnError(f func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = f
}

func (c *Channel) OnMessage(f func(rtc.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMsg = f
}

func (c *Channel) Send(data []byte) error {
	return c.record(rtc.Message{Data: append([]byte(nil), data...)})
}

func (c *Channel) SendText(s string) error {
	return c.record(rtc.Message{IsString: true, Data: []byte(s)})
}

func (c *Channel) record(m rtc.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes > 0 {
		return ErrClosed
	}
	c.sent = append(c.sent, m)
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

// Open raises the open event.
func (c *Channel) Open() {
	c.mu.Lock()
	f := c.onOpen
	c.mu.Unlock()
	if f != nil {
		f()
	}
}

// RemoteClose raises the close event.
func (c *Channel) RemoteClose() {
	c.mu.Lock()
	f := c.onClose
	c.mu.Unlock()
	if f != nil {
		f()
	}
}

func (c *Channel) Fail(err error) {
	c.mu.Lock()
	f := c.onError
	c.mu.Unlock()
	if f != nil {
		f(err)
	}
}

// Deliver raises a message event as if the viewer sent text.
func (c *Channel) Deliver(text string) {
	c.mu.Lock()
	f := c.onMsg
	c.mu.Unlock()
	if f != nil {
		f(rtc.Message{IsString: true, Data: []byte(text)})
	}
}

func (c *Channel) Sent() []rtc.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]rtc.Message(nil), c.sent...)
}

func (c *Channel) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}
