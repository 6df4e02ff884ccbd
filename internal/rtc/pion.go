// pion backed pipeline: RTP from a local encoder is forwarded into
// static tracks of a fresh peer connection
package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
)

// RTP packets are read into buffers of this size
const rtpBufferSize = 1600

type PionConfig struct {
	ICEServers []string
	// local UDP addresses the external encoder sends RTP to
	VideoRTPAddr string
	AudioRTPAddr string
	// coalesces bursts of negotiation-needed events
	NegotiationDebounce time.Duration
	LoggerFactory       logging.LoggerFactory
}

type PionBuilder struct {
	cfg PionConfig
	log logging.LeveledLogger
}

func NewPionBuilder(cfg PionConfig) *PionBuilder {
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if cfg.NegotiationDebounce <= 0 {
		cfg.NegotiationDebounce = 50 * time.Millisecond
	}
	return &PionBuilder{cfg: cfg, log: cfg.LoggerFactory.NewLogger("rtc")}
}

func (b *PionBuilder) Build(ctx context.Context, params MediaParams) (Pipeline, PeerConnection, error) {
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, fmt.Errorf("rtc: register codecs: %w", err)
	}
	settings := webrtc.SettingEngine{LoggerFactory: b.cfg.LoggerFactory}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithSettingEngine(settings))

	config := webrtc.Configuration{}
	if len(b.cfg.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: b.cfg.ICEServers}}
	}
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, nil, fmt.Errorf("rtc: new peer connection: %w", err)
	}
	peer := newPionPeer(pc, b.cfg.NegotiationDebounce)
	pipe := &pionPipeline{pc: pc, log: b.log}

	if params.VideoEncoder != "" {
		codec, _ := params.VideoCodec()
		if err := pipe.addSource(ctx, "video", codec, b.cfg.VideoRTPAddr); err != nil {
			pipe.Stop()
			return nil, nil, err
		}
	}
	if params.AudioEncoder != "" {
		codec, _ := params.AudioCodec()
		if err := pipe.addSource(ctx, "audio", codec, b.cfg.AudioRTPAddr); err != nil {
			pipe.Stop()
			return nil, nil, err
		}
	}
	b.log.Infof("pipeline started (video=%q audio=%q)", params.VideoEncoder, params.AudioEncoder)
	return pipe, peer, nil
}

type pionSource struct {
	kind     string
	listener *net.UDPConn
	sender   *webrtc.RTPSender
}

type pionPipeline struct {
	pc       *webrtc.PeerConnection
	log      logging.LeveledLogger
	sources  []*pionSource
	stopOnce sync.Once
}

func (p *pionPipeline) addSource(ctx context.Context, kind string, codec webrtc.RTPCodecCapability, addr string) error {
	track, err := webrtc.NewTrackLocalStaticRTP(codec, kind, "vtx")
	if err != nil {
		return fmt.Errorf("rtc: %s track: %w", kind, err)
	}
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("rtc: listen %s rtp on %s: %w", kind, addr, err)
	}
	listener := conn.(*net.UDPConn)
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		listener.Close()
		return fmt.Errorf("rtc: add %s track: %w", kind, err)
	}
	src := &pionSource{kind: kind, listener: listener, sender: sender}
	p.sources = append(p.sources, src)

	// keep reading RTCP so interceptors run, until the sender stops
	go func() {
		rtcpBuffer := make([]byte, rtpBufferSize)
		for {
			if _, _, err := sender.Read(rtcpBuffer); err != nil {
				return
			}
		}
	}()
	// forward RTP until the listener closes
	go func() {
		packet := make([]byte, rtpBufferSize)
		for {
			n, _, err := listener.ReadFrom(packet)
			if err != nil {
				return
			}
			if _, err = track.Write(packet[:n]); err != nil {
				if errors.Is(err, io.ErrClosedPipe) {
					return
				}
				p.log.Warnf("%s track write: %v", kind, err)
			}
		}
	}()
	p.log.Debugf("%s rtp source listening on %s", kind, listener.LocalAddr())
	return nil
}

// addr returns the RTP listen address of the given kind.
func (p *pionPipeline) addr(kind string) net.Addr {
	for _, src := range p.sources {
		if src.kind == kind {
			return src.listener.LocalAddr()
		}
	}
	return nil
}

func (p *pionPipeline) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		for _, src := range p.sources {
			src.listener.Close()
			if e := src.sender.Stop(); e != nil && err == nil {
				err = e
			}
		}
		if e := p.pc.Close(); e != nil && err == nil {
			err = e
		}
		p.log.Info("pipeline stopped")
	})
	return err
}

type pionPeer struct {
	pc        *webrtc.PeerConnection
	debounced func(func())

	mu                 sync.Mutex
	onNegotiation      func()
	negotiationPending bool
}

func newPionPeer(pc *webrtc.PeerConnection, delay time.Duration) *pionPeer {
	p := &pionPeer{pc: pc, debounced: debounce.New(delay)}
	pc.OnNegotiationNeeded(func() { p.debounced(p.negotiationNeeded) })
	return p
}

func (p *pionPeer) negotiationNeeded() {
	p.mu.Lock()
	handler := p.onNegotiation
	if handler == nil {
		p.negotiationPending = true
	}
	p.mu.Unlock()
	if handler != nil {
		handler()
	}
}

func (p *pionPeer) OnNegotiationNeeded(f func()) {
	p.mu.Lock()
	p.onNegotiation = f
	pending := p.negotiationPending && f != nil
	if pending {
		p.negotiationPending = false
	}
	p.mu.Unlock()
	if pending {
		f()
	}
}

func (p *pionPeer) OnICECandidate(f func(Candidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		cand := c.ToJSON()
		f(Candidate{Candidate: cand.Candidate, SDPMid: cand.SDPMid, SDPMLineIndex: cand.SDPMLineIndex})
	})
}

func (p *pionPeer) OnICEGatheringStateChange(f func(string)) {
	p.pc.OnICEGatheringStateChange(func(s webrtc.ICEGathererState) { f(s.String()) })
}

func (p *pionPeer) OnICEConnectionStateChange(f func(string)) {
	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) { f(s.String()) })
}

func (p *pionPeer) OnDataChannel(f func(DataChannel)) {
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) { f(&pionChannel{dc: dc}) })
}

func (p *pionPeer) CreateDataChannel(label string, opts ChannelOptions) (DataChannel, error) {
	ordered := opts.Ordered
	dc, err := p.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered:           &ordered,
		MaxPacketLifeTime: opts.MaxPacketLifeTime,
		MaxRetransmits:    opts.MaxRetransmits,
	})
	if err != nil {
		return nil, fmt.Errorf("rtc: create data channel %s: %w", label, err)
	}
	return &pionChannel{dc: dc}, nil
}

func (p *pionPeer) CreateOffer() (Description, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return Description{}, fmt.Errorf("rtc: create offer: %w", err)
	}
	return Description{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (p *pionPeer) SetLocalDescription(d Description) error {
	return p.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP})
}

func (p *pionPeer) SetRemoteDescription(d Description) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP})
}

func (p *pionPeer) AddICECandidate(c Candidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionChannel) Label() string           { return c.dc.Label() }
func (c *pionChannel) OnOpen(f func())         { c.dc.OnOpen(f) }
func (c *pionChannel) OnClose(f func())        { c.dc.OnClose(f) }
func (c *pionChannel) OnError(f func(error))   { c.dc.OnError(f) }
func (c *pionChannel) Send(data []byte) error  { return c.dc.Send(data) }
func (c *pionChannel) SendText(s string) error { return c.dc.SendText(s) }
func (c *pionChannel) Close() error            { return c.dc.Close() }

func (c *pionChannel) OnMessage(f func(Message)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		f(Message{IsString: msg.IsString, Data: msg.Data})
	})
}
