package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/Xosrov/webrtc-vtx/internal/rtc"
	"github.com/Xosrov/webrtc-vtx/internal/session"
	"github.com/Xosrov/webrtc-vtx/internal/signaling"
	"github.com/Xosrov/webrtc-vtx/internal/telemetry"
)

// error texts reported to the viewer
const (
	errParseParams  = "Failed to parse mediaParams"
	errWiFi         = "Failed to initialize WPA supplicant"
	errFlightCtl    = "Failed to open flight controller: %s"
	errPipeline     = "Failed to start pipeline"
	errOffer        = "Failed to create offer"
	errAnswer       = "Failed to parse SDP answer"
	errRemoteAnswer = "Failed to apply SDP answer"
)

const mediaParamsKey = "mediaParams"

// peerContext is everything that belongs to one viewer stream.
type peerContext struct {
	id       string
	pipeline rtc.Pipeline
	pc       rtc.PeerConnection
	fc       FlightController
	wifi     WiFiProvider
	incoming []rtc.DataChannel

	gathering  string
	connection string
}

// preparation is a stream start running on the worker.
type preparation struct {
	viewer string
	cancel context.CancelFunc
}

type prepared struct {
	pipeline rtc.Pipeline
	pc       rtc.PeerConnection
	fc       FlightController
	wifi     WiFiProvider
	err      string
}

func (r *prepared) release() {
	if r.pipeline != nil {
		r.pipeline.Stop()
	}
	if r.fc != nil {
		r.fc.Close()
	}
	if r.wifi != nil {
		r.wifi.Close()
	}
}

// mediaParams reads params from the mediaParams member, or from the top
// level of the envelope when there is none.
func mediaParams(env *signaling.Envelope) (rtc.MediaParams, error) {
	if env.Has(mediaParamsKey) {
		return rtc.ParseMediaParams(env.Raw(mediaParamsKey))
	}
	raw, err := json.Marshal(env.Members())
	if err != nil {
		return rtc.MediaParams{}, err
	}
	return rtc.ParseMediaParams(raw)
}

func (c *Controller) onStreamStart(env *signaling.Envelope) {
	viewer := env.ViewerID
	if viewer == "" {
		c.log.Errorf("stream start without %s", signaling.ViewerIDKey)
		return
	}
	if !c.session.Registered() {
		c.log.Warnf("stream start from %s before registration, ignoring", viewer)
		return
	}
	if c.session.HasViewer() || c.peer != nil || c.prep != nil {
		c.ResumeReady("New stream requested")
	}
	c.session.SetViewer(viewer)
	c.log.Infof("starting stream for %s", viewer)

	params, err := mediaParams(env)
	if err != nil {
		c.log.Warnf("media params: %v", err)
		c.failStream(errParseParams)
		return
	}

	ctx, cancel := context.WithCancel(c.ctx)
	prep := &preparation{viewer: viewer, cancel: cancel}
	c.prep = prep
	ok := c.opts.Worker.Submit(func() {
		res := c.prepare(ctx, params)
		if !c.opts.Loop.Post(func() { c.prepared(prep, res) }) {
			res.release()
		}
	})
	if !ok {
		c.prep = nil
		cancel()
		c.failStream(errPipeline)
	}
}

// prepare runs on the worker and acquires everything the stream needs.
// On failure it releases what it already holds.
func (c *Controller) prepare(ctx context.Context, params rtc.MediaParams) *prepared {
	res := &prepared{}
	if params.NetworkInterface != "" && c.opts.OpenWiFi != nil {
		wifi, err := c.opts.OpenWiFi(params.NetworkInterface)
		if err != nil {
			c.log.Warnf("wifi provider %s: %v", params.NetworkInterface, err)
			res.err = errWiFi
			return res
		}
		res.wifi = wifi
	}
	if params.FlightController != "" && c.opts.OpenFlightController != nil {
		fc, err := c.opts.OpenFlightController(params.FlightController)
		if err != nil {
			c.log.Warnf("flight controller %s: %v", params.FlightController, err)
			res.release()
			return &prepared{err: fmt.Sprintf(errFlightCtl, params.FlightController)}
		}
		res.fc = fc
	}
	pipeline, pc, err := c.opts.Builder.Build(ctx, params)
	if err != nil {
		c.log.Warnf("build pipeline: %v", err)
		res.release()
		return &prepared{err: errPipeline}
	}
	res.pipeline, res.pc = pipeline, pc
	return res
}

func (c *Controller) prepared(prep *preparation, res *prepared) {
	if c.prep != prep {
		c.log.Infof("stream for %s was cancelled during setup, releasing", prep.viewer)
		res.release()
		return
	}
	c.prep = nil
	prep.cancel()
	if res.err != "" {
		c.failStream(res.err)
		return
	}
	c.peer = &peerContext{
		id:       uuid.NewString(),
		pipeline: res.pipeline,
		pc:       res.pc,
		fc:       res.fc,
		wifi:     res.wifi,
	}
	c.session.Transition(session.StreamAccepted)
	c.subscribe(c.peer)
	c.log.Infof("stream accepted for %s (context %s)", prep.viewer, c.peer.id)
}

// failStream reports a stream level failure and returns to idle.
func (c *Controller) failStream(message string) {
	c.sendError(message)
	c.ResumeReady(message)
}

// onPeer posts an engine event to the loop. Events of a context that was
// released in the meantime are dropped.
func (c *Controller) onPeer(id string, fn func(p *peerContext)) {
	c.opts.Loop.Post(func() {
		if c.peer == nil || c.peer.id != id {
			c.log.Debugf("dropping event of released context %s", id)
			return
		}
		fn(c.peer)
	})
}

func (c *Controller) subscribe(p *peerContext) {
	id := p.id
	p.pc.OnICECandidate(func(cand rtc.Candidate) {
		c.onPeer(id, func(p *peerContext) { c.onLocalCandidate(cand) })
	})
	p.pc.OnICEGatheringStateChange(func(state string) {
		c.onPeer(id, func(p *peerContext) {
			p.gathering = state
			c.log.Infof("ICE gathering state: %s", state)
		})
	})
	p.pc.OnICEConnectionStateChange(func(state string) {
		c.onPeer(id, func(p *peerContext) {
			p.connection = state
			c.log.Infof("ICE connection state: %s", state)
		})
	})
	p.pc.OnDataChannel(func(dc rtc.DataChannel) {
		c.onPeer(id, func(p *peerContext) { c.onIncomingChannel(p, dc) })
	})
	// registered last: a latched event may fire immediately
	p.pc.OnNegotiationNeeded(func() {
		c.onPeer(id, c.onNegotiationNeeded)
	})
}

func (c *Controller) onIncomingChannel(p *peerContext, dc rtc.DataChannel) {
	label := dc.Label()
	c.log.Infof("viewer opened data channel %s", label)
	p.incoming = append(p.incoming, dc)
	id := p.id
	dc.OnMessage(func(msg rtc.Message) {
		c.onPeer(id, func(*peerContext) {
			if msg.IsString {
				c.log.Infof("message on %s: %s", label, msg.Data)
			} else {
				c.log.Debugf("%d bytes on %s", len(msg.Data), label)
			}
		})
	})
}

func (c *Controller) onNegotiationNeeded(p *peerContext) {
	if c.session.State() != session.StreamAccepted {
		c.log.Debugf("negotiation needed in state %s, ignoring", c.session.State())
		return
	}
	c.session.Transition(session.Negotiating)
	c.mux.Open(p.pc, c.resolver(p), c.control)

	offer, err := p.pc.CreateOffer()
	if err == nil {
		err = p.pc.SetLocalDescription(offer)
	}
	if err != nil {
		c.log.Warnf("offer: %v", err)
		c.failStream(errOffer)
		return
	}
	c.send(signaling.NewOutbound(signaling.SDPOfferType, c.session.OwnID(), c.session.ViewerID()).
		Set("offer", signaling.SessionDescription{Type: offer.Type, SDP: offer.SDP}))
	c.session.Transition(session.OfferSent)
}

// resolver binds telemetry channels to the sources of this stream.
func (c *Controller) resolver(p *peerContext) telemetry.Resolver {
	return func(spec telemetry.ChannelSpec) telemetry.Source {
		kind, arg := spec.SourceKind()
		switch kind {
		case telemetry.SourceMSP:
			if p.fc == nil {
				return nil
			}
			code, err := strconv.ParseUint(arg, 10, 8)
			if err != nil {
				c.log.Warnf("channel %s: bad msp code %q", spec.Label, arg)
				return nil
			}
			return p.fc.Source(uint8(code))
		case telemetry.SourceWPA:
			if p.wifi == nil {
				return nil
			}
			return p.wifi.Source()
		case telemetry.SourceSynthetic:
			if src := telemetry.NewSyntheticSource(arg, c.opts.Clock.Now().UnixNano()); src != nil {
				return src
			}
			c.log.Warnf("channel %s: unknown synthetic source %q", spec.Label, arg)
		}
		return nil
	}
}

func (c *Controller) onLocalCandidate(cand rtc.Candidate) {
	if !c.session.HasViewer() {
		return
	}
	c.send(signaling.NewOutbound(signaling.LocalCandidateType, c.session.OwnID(), c.session.ViewerID()).
		Set("candidate", signaling.Candidate{
			Candidate:     cand.Candidate,
			SDPMLineIndex: cand.SDPMLineIndex,
			SDPMid:        cand.SDPMid,
		}))
}

func (c *Controller) onAnswer(env *signaling.Envelope) {
	if c.peer == nil {
		c.log.Infof("ignoring SDP answer, no active peer connection")
		return
	}
	if c.session.State() != session.OfferSent {
		c.log.Warnf("ignoring SDP answer in state %s", c.session.State())
		return
	}
	var answer signaling.SessionDescription
	if err := env.Decode("answer", &answer); err != nil || answer.SDP == "" {
		c.log.Warnf("SDP answer without answer.sdp")
		return
	}
	rejected, err := rtc.CheckAnswer(answer.SDP)
	if err != nil {
		c.log.Warnf("%v", err)
		c.failStream(errAnswer)
		return
	}
	if rejected.Any() {
		c.failStream(rejected.Message())
		return
	}
	if err := c.peer.pc.SetRemoteDescription(rtc.Description{Type: "answer", SDP: answer.SDP}); err != nil {
		c.log.Warnf("set remote description: %v", err)
		c.failStream(errRemoteAnswer)
		return
	}
	c.session.Transition(session.AnswerReceived)
}

func (c *Controller) onRemoteCandidate(env *signaling.Envelope) {
	if c.peer == nil {
		c.log.Infof("ignoring ICE candidate, peer connection has been cleaned up")
		return
	}
	var cand signaling.Candidate
	if err := env.Decode("candidate", &cand); err != nil {
		c.log.Warnf("ICE candidate: %v", err)
		return
	}
	err := c.peer.pc.AddICECandidate(rtc.Candidate{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	})
	if err != nil {
		c.log.Warnf("add ICE candidate: %v", err)
	}
}
