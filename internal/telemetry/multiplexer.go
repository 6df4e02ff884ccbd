package telemetry

import (
	"context"
	"errors"

	"github.com/pion/logging"

	"github.com/Xosrov/webrtc-vtx/internal/clock"
	"github.com/Xosrov/webrtc-vtx/internal/eventloop"
	"github.com/Xosrov/webrtc-vtx/internal/rtc"
)

// ControlHandler answers messages on the control channel. A nil reply
// sends nothing.
type ControlHandler interface {
	Handle(data []byte) []byte
}

// Resolver picks the sample source of a channel for the current stream.
// nil means the stream has no such source.
type Resolver func(spec ChannelSpec) Source

// Multiplexer owns the data channels of one stream at a time. Every
// method runs on the event loop; engine callbacks are posted there and
// dropped if they belong to a stream that was torn down since.
type Multiplexer struct {
	specs  []ChannelSpec
	limit  int
	loop   eventloop.Poster
	worker eventloop.Submitter
	sched  *Scheduler
	log    logging.LeveledLogger

	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	control  ControlHandler
	channels map[string]*channelInstance
	order    []string
}

type channelInstance struct {
	spec     ChannelSpec
	dc       rtc.DataChannel
	source   Source
	open     bool
	inflight bool
	misses   int
	sent     uint64
}

type Options struct {
	Channels []ChannelSpec
	// consecutive failed samples before a channel's timer is dropped
	UnavailableLimit int
	Loop             eventloop.Poster
	Worker           eventloop.Submitter
	Clock            clock.Clock
	Log              logging.LeveledLogger
}

func NewMultiplexer(opts Options) *Multiplexer {
	if opts.UnavailableLimit <= 0 {
		opts.UnavailableLimit = 3
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Multiplexer{
		specs:    opts.Channels,
		limit:    opts.UnavailableLimit,
		loop:     opts.Loop,
		worker:   opts.Worker,
		sched:    NewScheduler(opts.Clock, opts.Loop),
		log:      opts.Log,
		channels: make(map[string]*channelInstance),
	}
}

// Open creates the channel table on pc and returns how many channels
// were created. A previous stream is torn down first.
func (m *Multiplexer) Open(pc rtc.PeerConnection, resolve Resolver, control ControlHandler) int {
	m.Teardown()
	m.gen++
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.control = control

	for _, spec := range m.specs {
		var src Source
		if !spec.Control() {
			if resolve != nil {
				src = resolve(spec)
			}
			if src == nil {
				if spec.Optional {
					m.log.Debugf("skipping channel %s, no source", spec.Label)
					continue
				}
				src = Unavailable
			}
		}
		dc, err := pc.CreateDataChannel(spec.Label, spec.Options())
		if err != nil {
			m.log.Errorf("create channel %s: %v", spec.Label, err)
			continue
		}
		ch := &channelInstance{spec: spec, dc: dc, source: src}
		m.channels[spec.Label] = ch
		m.order = append(m.order, spec.Label)
		m.watch(ch)
	}
	m.log.Infof("created %d data channels", len(m.order))
	return len(m.order)
}

func (m *Multiplexer) post(gen uint64, fn func()) {
	m.loop.Post(func() {
		if gen != m.gen {
			return
		}
		fn()
	})
}

func (m *Multiplexer) watch(ch *channelInstance) {
	gen := m.gen
	label := ch.spec.Label
	ch.dc.OnOpen(func() { m.post(gen, func() { m.opened(ch) }) })
	ch.dc.OnClose(func() { m.post(gen, func() { m.closed(ch) }) })
	ch.dc.OnError(func(err error) {
		m.post(gen, func() { m.log.Warnf("channel %s error: %v", label, err) })
	})
	ch.dc.OnMessage(func(msg rtc.Message) {
		m.post(gen, func() { m.message(ch, msg) })
	})
}

func (m *Multiplexer) opened(ch *channelInstance) {
	ch.open = true
	m.log.Infof("channel %s open", ch.spec.Label)
	if ch.spec.Control() {
		return
	}
	interval := ch.spec.Interval()
	if interval <= 0 {
		return
	}
	ch.misses = 0
	m.sched.Every(ch.spec.Label, interval, func() { m.tick(ch) })
}

func (m *Multiplexer) closed(ch *channelInstance) {
	ch.open = false
	if m.sched.Cancel(ch.spec.Label) {
		m.log.Infof("channel %s closed, timer cancelled", ch.spec.Label)
	} else {
		m.log.Infof("channel %s closed", ch.spec.Label)
	}
}

func (m *Multiplexer) message(ch *channelInstance, msg rtc.Message) {
	if !ch.spec.Control() {
		m.log.Debugf("ignoring %d bytes from viewer on %s", len(msg.Data), ch.spec.Label)
		return
	}
	if m.control == nil {
		return
	}
	gen := m.gen
	reply := m.control.Handle(msg.Data)
	if reply == nil || gen != m.gen {
		return
	}
	if err := ch.dc.SendText(string(reply)); err != nil {
		m.log.Warnf("reply on %s: %v", ch.spec.Label, err)
	}
}

// tick runs on the loop; the sample is fetched on the worker and
// delivered back to the loop. A channel never has more than one fetch
// in flight.
func (m *Multiplexer) tick(ch *channelInstance) {
	if ch.inflight {
		return
	}
	ch.inflight = true
	gen, ctx, src := m.gen, m.ctx, ch.source
	ok := m.worker.Submit(func() {
		data, err := src.Sample(ctx)
		m.loop.Post(func() { m.deliver(gen, ch, data, err) })
	})
	if !ok {
		ch.inflight = false
		m.log.Warnf("worker busy, skipping %s sample", ch.spec.Label)
	}
}

func (m *Multiplexer) deliver(gen uint64, ch *channelInstance, data []byte, err error) {
	if gen != m.gen {
		return
	}
	ch.inflight = false
	label := ch.spec.Label
	if !m.sched.Active(label) {
		return
	}
	if err != nil {
		ch.misses++
		if !errors.Is(err, ErrUnavailable) {
			m.log.Warnf("sample %s: %v", label, err)
		}
		if ch.misses >= m.limit {
			m.sched.Cancel(label)
			m.log.Infof("source of %s unavailable %d times, timer removed", label, ch.misses)
		}
		return
	}
	ch.misses = 0
	if ch.spec.Payload == JSONString {
		err = ch.dc.SendText(string(data))
	} else {
		err = ch.dc.Send(data)
	}
	if err != nil {
		m.log.Debugf("send on %s: %v", label, err)
		return
	}
	ch.sent++
}

// Teardown cancels every timer, closes every channel and forgets the
// stream. Calling it again without an Open in between does nothing.
func (m *Multiplexer) Teardown() (timers, channels int) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if len(m.order) == 0 && len(m.sched.Keys()) == 0 {
		return 0, 0
	}
	m.gen++
	timers = m.sched.CancelAll()
	for _, label := range m.order {
		ch := m.channels[label]
		if err := ch.dc.Close(); err != nil {
			m.log.Debugf("close %s: %v", label, err)
		}
		channels++
	}
	m.channels = make(map[string]*channelInstance)
	m.order = nil
	m.control = nil
	m.log.Infof("telemetry torn down (%d timers, %d channels)", timers, channels)
	return timers, channels
}

// ChannelState is a status snapshot of one channel.
type ChannelState struct {
	Label string `json:"label"`
	Open  bool   `json:"open"`
	Timer bool   `json:"timer"`
	Sent  uint64 `json:"sent"`
}

func (m *Multiplexer) Channels() []ChannelState {
	states := make([]ChannelState, 0, len(m.order))
	for _, label := range m.order {
		ch := m.channels[label]
		states = append(states, ChannelState{
			Label: label,
			Open:  ch.open,
			Timer: m.sched.Active(label),
			Sent:  ch.sent,
		})
	}
	return states
}

// ActiveTimers lists channels with a running timer.
func (m *Multiplexer) ActiveTimers() []string {
	return m.sched.Keys()
}
