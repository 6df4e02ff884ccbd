// Package controller drives the transmitter: it dispatches signaling
// messages, negotiates one viewer stream at a time and tears streams
// down again. Every method runs on the event loop.
package controller

import (
	"context"
	"encoding/json"

	"github.com/pion/logging"

	"github.com/Xosrov/webrtc-vtx/internal/clock"
	"github.com/Xosrov/webrtc-vtx/internal/command"
	"github.com/Xosrov/webrtc-vtx/internal/eventloop"
	"github.com/Xosrov/webrtc-vtx/internal/inspect"
	"github.com/Xosrov/webrtc-vtx/internal/rtc"
	"github.com/Xosrov/webrtc-vtx/internal/session"
	"github.com/Xosrov/webrtc-vtx/internal/signaling"
	"github.com/Xosrov/webrtc-vtx/internal/telemetry"
)

// Transport is the signaling connection.
type Transport interface {
	Send(data []byte) error
	Close() error
}

type Inspector interface {
	Inspect(ctx context.Context) inspect.Capabilities
}

// FlightController serves MSP requests for one stream.
type FlightController interface {
	Source(code uint8) telemetry.Source
	Close() error
}

// WiFiProvider reports supplicant status for one stream.
type WiFiProvider interface {
	Source() telemetry.Source
	Close() error
}

type Options struct {
	Transport Transport
	Loop      eventloop.Poster
	Worker    eventloop.Submitter
	Builder   rtc.PipelineBuilder
	Inspector Inspector
	Clock     clock.Clock

	// telemetry table; DefaultChannels when empty
	Channels         []telemetry.ChannelSpec
	UnavailableLimit int

	OpenFlightController func(path string) (FlightController, error)
	OpenWiFi             func(iface string) (WiFiProvider, error)

	// Stop ends the event loop once the controller has terminated.
	Stop func()

	LoggerFactory logging.LoggerFactory
}

type Controller struct {
	opts    Options
	log     logging.LeveledLogger
	session *session.Session
	mux     *telemetry.Multiplexer
	control *command.Handler

	ctx    context.Context
	cancel context.CancelFunc

	peer *peerContext
	prep *preparation

	terminated bool
}

func New(opts Options) *Controller {
	if opts.LoggerFactory == nil {
		opts.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if len(opts.Channels) == 0 {
		opts.Channels = telemetry.DefaultChannels()
	}
	c := &Controller{
		opts:    opts,
		log:     opts.LoggerFactory.NewLogger("controller"),
		session: session.New(opts.LoggerFactory.NewLogger("session")),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mux = telemetry.NewMultiplexer(telemetry.Options{
		Channels:         opts.Channels,
		UnavailableLimit: opts.UnavailableLimit,
		Loop:             opts.Loop,
		Worker:           opts.Worker,
		Clock:            opts.Clock,
		Log:              opts.LoggerFactory.NewLogger("telemetry"),
	})
	c.control = command.NewHandler(opts.LoggerFactory.NewLogger("command"), func() {
		c.ResumeReady("Hang up requested by viewer")
	})
	return c
}

func (c *Controller) Session() *session.Session { return c.session }

// Connecting marks the start of the signaling dial.
func (c *Controller) Connecting() {
	c.session.Transition(session.Connecting)
}

// TransportOpened is called once the signaling connection is up.
func (c *Controller) TransportOpened() {
	c.session.Transition(session.Connected)
}

// ConnectFailed records a failed dial and terminates.
func (c *Controller) ConnectFailed(err error) {
	c.log.Errorf("signaling connection failed: %v", err)
	c.session.Transition(session.ConnectionError)
	c.terminate("Server connection failed")
}

// TransportClosed terminates after the signaling connection went away.
func (c *Controller) TransportClosed(err error) {
	if err != nil {
		c.log.Warnf("signaling connection lost: %v", err)
	}
	c.terminate("Server connection closed")
}

// Shutdown terminates on an explicit stop request.
func (c *Controller) Shutdown() {
	c.terminate("Shutdown requested")
}

// HandleText parses and dispatches one signaling message. Malformed
// input is logged and dropped.
func (c *Controller) HandleText(data []byte) {
	if c.terminated {
		return
	}
	env, err := signaling.Parse(data)
	if err != nil {
		c.log.Warnf("dropping signaling message: %v", err)
		return
	}
	c.log.Debugf(">>> %d %s", env.Type, env.Type)

	switch env.Type {
	case signaling.SessionIDType:
		c.onSessionID(env)
	case signaling.CapabilityRequestType:
		c.onCapabilityRequest(env)
	case signaling.StreamStartType:
		c.onStreamStart(env)
	case signaling.SDPAnswerType:
		if c.forCurrentViewer(env) {
			c.onAnswer(env)
		}
	case signaling.ICECandidateType:
		if c.forCurrentViewer(env) {
			c.onRemoteCandidate(env)
		}
	case signaling.ViewerCloseType:
		if c.forCurrentViewer(env) {
			c.ResumeReady("Receiver closed connection")
		}
	case signaling.PeerErrorType:
		c.log.Errorf("peer reported an error: %s", data)
	default:
		c.log.Infof("unhandled message type %d", env.Type)
	}
}

// forCurrentViewer drops viewer scoped messages addressed from a viewer
// other than the current one.
func (c *Controller) forCurrentViewer(env *signaling.Envelope) bool {
	if env.ViewerID == "" || !c.session.HasViewer() || env.ViewerID == c.session.ViewerID() {
		return true
	}
	c.log.Infof("dropping %s from %s, current viewer is %s", env.Type, env.ViewerID, c.session.ViewerID())
	return false
}

func (c *Controller) onSessionID(env *signaling.Envelope) {
	id, ok := env.String("sessionId")
	if !ok || id == "" {
		c.log.Errorf("session id issuance without sessionId")
		c.session.Transition(session.RegistrationError)
		return
	}
	if !c.session.SetOwnID(id) {
		return
	}
	// a repeated issuance must not pull an active stream back to Registered
	switch c.session.State() {
	case session.Connected, session.RegistrationError:
	default:
		c.log.Debugf("session id %s repeated in state %s", id, c.session.State())
		return
	}
	c.log.Infof("assigned session id %s", id)
	c.session.Transition(session.Registered)
}

func (c *Controller) onCapabilityRequest(env *signaling.Envelope) {
	requester := env.ViewerID
	if requester == "" {
		c.log.Warnf("capability request without %s", signaling.ViewerIDKey)
		return
	}
	if c.opts.Inspector == nil {
		c.log.Warnf("no inspector configured, ignoring capability request")
		return
	}
	ctx := c.ctx
	ok := c.opts.Worker.Submit(func() {
		caps := c.opts.Inspector.Inspect(ctx)
		c.opts.Loop.Post(func() { c.sendCapabilities(requester, caps) })
	})
	if !ok {
		c.log.Warnf("worker busy, dropping capability request from %s", requester)
	}
}

func (c *Controller) sendCapabilities(requester string, caps inspect.Capabilities) {
	if c.terminated {
		return
	}
	c.send(signaling.NewOutbound(signaling.CapabilityResponseType, c.session.OwnID(), requester).
		Set("source", caps.Source).
		Set("platform", caps.Platform).
		Set("network", caps.Network).
		Set("devices", caps.Devices).
		Set("codecs", caps.Codecs).
		Set("flight_controllers", caps.FlightControllers))
}

func (c *Controller) send(o *signaling.Outbound) {
	data, err := json.Marshal(o)
	if err != nil {
		c.log.Errorf("encode %s: %v", o.Type, err)
		return
	}
	if err := c.opts.Transport.Send(data); err != nil {
		c.log.Warnf("send %s: %v", o.Type, err)
		return
	}
	c.log.Debugf("<<< %d %s", o.Type, o.Type)
}

// sendError reports a system error to the current viewer.
func (c *Controller) sendError(message string) {
	c.log.Errorf("%s", message)
	c.send(signaling.NewOutbound(signaling.SystemErrorType, c.session.OwnID(), c.session.ViewerID()).
		Set("message", message))
}

// Snapshot is the controller state reported by the status endpoint.
type Snapshot struct {
	State         string                   `json:"state"`
	OwnID         string                   `json:"ws1Id,omitempty"`
	ViewerID      string                   `json:"ws2Id,omitempty"`
	Context       string                   `json:"context,omitempty"`
	Preparing     bool                     `json:"preparing"`
	ICEGathering  string                   `json:"iceGatheringState,omitempty"`
	ICEConnection string                   `json:"iceConnectionState,omitempty"`
	Channels      []telemetry.ChannelState `json:"channels"`
}

func (c *Controller) Snapshot() Snapshot {
	s := Snapshot{
		State:     c.session.State().String(),
		OwnID:     c.session.OwnID(),
		ViewerID:  c.session.ViewerID(),
		Preparing: c.prep != nil,
		Channels:  c.mux.Channels(),
	}
	if p := c.peer; p != nil {
		s.Context = p.id
		s.ICEGathering = p.gathering
		s.ICEConnection = p.connection
	}
	return s
}
