package telemetry

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/pion/logging"

	"github.com/Xosrov/webrtc-vtx/internal/clock"
	"github.com/Xosrov/webrtc-vtx/internal/eventloop"
	"github.com/Xosrov/webrtc-vtx/internal/rtc/rtctest"
)

type harness struct {
	loop   *eventloop.Manual
	worker *eventloop.Manual
	clock  *clock.Fake
	peer   *rtctest.Peer
	mux    *Multiplexer
}

func newHarness(specs []ChannelSpec, limit int) *harness {
	h := &harness{
		loop:   &eventloop.Manual{},
		worker: &eventloop.Manual{},
		clock:  clock.NewFake(time.Unix(0, 0)),
		peer:   &rtctest.Peer{},
	}
	h.mux = NewMultiplexer(Options{
		Channels:         specs,
		UnavailableLimit: limit,
		Loop:             h.loop,
		Worker:           h.worker,
		Clock:            h.clock,
		Log:              logging.NewDefaultLoggerFactory().NewLogger("telemetry"),
	})
	return h
}

// settle runs the loop and the worker until both are idle.
func (h *harness) settle() {
	for h.loop.Len()+h.worker.Len() > 0 {
		h.loop.Drain()
		h.worker.Drain()
	}
}

func (h *harness) step(d time.Duration) {
	h.clock.Advance(d)
	h.settle()
}

type countingSource struct {
	calls int
	data  []byte
	err   error
}

func (s *countingSource) Sample(context.Context) ([]byte, error) {
	s.calls++
	return s.data, s.err
}

type replies struct{ handled [][]byte }

func (r *replies) Handle(data []byte) []byte {
	r.handled = append(r.handled, data)
	if string(data) == `{"cmd":1}` {
		return []byte(`{"cmd":2}`)
	}
	return nil
}

func TestOpenCreatesTableWithPolicies(t *testing.T) {
	h := newHarness(DefaultChannels(), 3)
	n := h.mux.Open(h.peer, func(spec ChannelSpec) Source {
		if spec.Source == SourceWPA {
			return nil
		}
		return &countingSource{}
	}, &replies{})

	if n != 9 {
		t.Fatalf("created %d channels", n)
	}
	if h.peer.Channel("WPA_SUPPLICANT") != nil {
		t.Fatal("optional channel created without a source")
	}
	cmd := h.peer.Channel(ControlLabel)
	if !cmd.Options.Ordered || cmd.Options.MaxPacketLifeTime != nil || cmd.Options.MaxRetransmits != nil {
		t.Fatalf("control channel options = %+v", cmd.Options)
	}
	imu := h.peer.Channel("MSP_RAW_IMU")
	if imu.Options.Ordered || imu.Options.MaxPacketLifeTime == nil || *imu.Options.MaxPacketLifeTime != 50 {
		t.Fatalf("imu options = %+v", imu.Options)
	}
	gps := h.peer.Channel("MSP_RAW_GPS")
	if !gps.Options.Ordered || gps.Options.MaxRetransmits == nil || *gps.Options.MaxRetransmits != 5 {
		t.Fatalf("gps options = %+v", gps.Options)
	}
}

func TestTimerStartsOnOpenAndSends(t *testing.T) {
	bin := &countingSource{data: []byte{1, 2, 3}}
	js := &countingSource{data: []byte(`{"ok":true}`)}
	specs := []ChannelSpec{
		{Label: "BIN", CadenceHz: 10, Payload: Binary, Source: "x:bin"},
		{Label: "JSON", CadenceHz: 1, Payload: JSONString, Source: "x:json"},
	}
	h := newHarness(specs, 3)
	h.mux.Open(h.peer, func(spec ChannelSpec) Source {
		if spec.Label == "BIN" {
			return bin
		}
		return js
	}, nil)

	h.step(time.Second)
	if bin.calls != 0 || js.calls != 0 {
		t.Fatal("sampled before channel open")
	}

	h.peer.Channel("BIN").Open()
	h.peer.Channel("JSON").Open()
	h.settle()
	if got := h.mux.ActiveTimers(); len(got) != 2 {
		t.Fatalf("active timers = %v", got)
	}

	for i := 0; i < 10; i++ {
		h.step(100 * time.Millisecond)
	}
	sent := h.peer.Channel("BIN").Sent()
	if len(sent) != 10 || sent[0].IsString {
		t.Fatalf("binary channel sent %d messages", len(sent))
	}
	jsSent := h.peer.Channel("JSON").Sent()
	if len(jsSent) != 1 || !jsSent[0].IsString || string(jsSent[0].Data) != `{"ok":true}` {
		t.Fatalf("json channel sent %+v", jsSent)
	}
}

func TestUnavailableSourceRemovesTimer(t *testing.T) {
	src := &countingSource{err: ErrUnavailable}
	h := newHarness([]ChannelSpec{{Label: "FC", CadenceHz: 10, Source: "msp:108"}}, 3)
	h.mux.Open(h.peer, func(ChannelSpec) Source { return src }, nil)
	h.peer.Channel("FC").Open()
	h.settle()

	for i := 0; i < 10; i++ {
		h.step(100 * time.Millisecond)
	}
	if src.calls != 3 {
		t.Fatalf("source sampled %d times", src.calls)
	}
	if len(h.mux.ActiveTimers()) != 0 {
		t.Fatalf("timer still active: %v", h.mux.ActiveTimers())
	}
	if len(h.peer.Channel("FC").Sent()) != 0 {
		t.Fatal("sent on unavailable channel")
	}
	if h.clock.Pending() != 0 {
		t.Fatalf("clock still has %d timers", h.clock.Pending())
	}
}

func TestMissingSourceIsUnavailable(t *testing.T) {
	h := newHarness([]ChannelSpec{{Label: "FC", CadenceHz: 10, Source: "msp:108"}}, 2)
	h.mux.Open(h.peer, nil, nil)
	h.peer.Channel("FC").Open()
	h.settle()
	for i := 0; i < 5; i++ {
		h.step(100 * time.Millisecond)
	}
	if len(h.mux.ActiveTimers()) != 0 {
		t.Fatal("timer kept for a channel without source")
	}
}

func TestRecoveredSampleResetsMisses(t *testing.T) {
	src := &countingSource{err: ErrUnavailable}
	h := newHarness([]ChannelSpec{{Label: "FC", CadenceHz: 10, Source: "msp:108"}}, 3)
	h.mux.Open(h.peer, func(ChannelSpec) Source { return src }, nil)
	h.peer.Channel("FC").Open()
	h.settle()

	h.step(100 * time.Millisecond)
	h.step(100 * time.Millisecond)
	src.err, src.data = nil, []byte{9}
	h.step(100 * time.Millisecond)
	src.err = errors.New("read timeout")
	h.step(100 * time.Millisecond)
	h.step(100 * time.Millisecond)
	if len(h.mux.ActiveTimers()) != 1 {
		t.Fatal("timer removed although misses were not consecutive")
	}
	h.step(100 * time.Millisecond)
	if len(h.mux.ActiveTimers()) != 0 {
		t.Fatal("timer kept after three consecutive failures")
	}
}

func TestOneFetchInFlight(t *testing.T) {
	src := &countingSource{data: []byte{1}}
	h := newHarness([]ChannelSpec{{Label: "FAST", CadenceHz: 100, Source: "x"}}, 3)
	h.mux.Open(h.peer, func(ChannelSpec) Source { return src }, nil)
	h.peer.Channel("FAST").Open()
	h.settle()

	// the worker is stalled: ticks keep coming but only one job queues
	for i := 0; i < 5; i++ {
		h.clock.Advance(10 * time.Millisecond)
		h.loop.Drain()
	}
	if h.worker.Len() != 1 {
		t.Fatalf("worker has %d queued fetches", h.worker.Len())
	}
	h.settle()
	if src.calls != 1 || len(h.peer.Channel("FAST").Sent()) != 1 {
		t.Fatalf("calls=%d sent=%d", src.calls, len(h.peer.Channel("FAST").Sent()))
	}
}

func TestCloseEventCancelsTimer(t *testing.T) {
	src := &countingSource{data: []byte{1}}
	h := newHarness([]ChannelSpec{{Label: "A", CadenceHz: 10, Source: "x"}}, 3)
	h.mux.Open(h.peer, func(ChannelSpec) Source { return src }, nil)
	ch := h.peer.Channel("A")
	ch.Open()
	h.settle()
	ch.RemoteClose()
	h.settle()
	h.step(time.Second)
	if src.calls != 0 {
		t.Fatalf("sampled %d times after close", src.calls)
	}
}

func TestTeardownStopsEverything(t *testing.T) {
	src := &countingSource{data: []byte{1}}
	h := newHarness([]ChannelSpec{
		{Label: ControlLabel, Ordered: true, Source: SourceControl},
		{Label: "A", CadenceHz: 10, Source: "x"},
		{Label: "B", CadenceHz: 5, Source: "x"},
	}, 3)
	h.mux.Open(h.peer, func(ChannelSpec) Source { return src }, &replies{})
	for _, ch := range h.peer.Channels() {
		ch.Open()
	}
	h.settle()
	h.step(100 * time.Millisecond)

	// a tick is waiting on the loop when teardown happens
	h.clock.Advance(200 * time.Millisecond)
	timers, channels := h.mux.Teardown()
	if timers != 2 || channels != 3 {
		t.Fatalf("teardown reported %d timers, %d channels", timers, channels)
	}
	before := src.calls
	sentBefore := len(h.peer.Channel("A").Sent())
	h.settle()
	h.step(time.Second)
	if src.calls != before || len(h.peer.Channel("A").Sent()) != sentBefore {
		t.Fatal("activity after teardown")
	}
	for _, ch := range h.peer.Channels() {
		if ch.Closes() != 1 {
			t.Fatalf("%s closed %d times", ch.Label(), ch.Closes())
		}
	}
	if timers, channels := h.mux.Teardown(); timers != 0 || channels != 0 {
		t.Fatal("second teardown was not a no-op")
	}
	for _, ch := range h.peer.Channels() {
		if ch.Closes() != 1 {
			t.Fatalf("%s closed again", ch.Label())
		}
	}
	if h.clock.Pending() != 0 {
		t.Fatalf("clock still has %d timers", h.clock.Pending())
	}
}

func TestSampleInFlightDuringTeardownIsDropped(t *testing.T) {
	src := &countingSource{data: []byte{1}}
	h := newHarness([]ChannelSpec{{Label: "A", CadenceHz: 10, Source: "x"}}, 3)
	h.mux.Open(h.peer, func(ChannelSpec) Source { return src }, nil)
	ch := h.peer.Channel("A")
	ch.Open()
	h.settle()

	h.clock.Advance(100 * time.Millisecond)
	h.loop.Drain()
	if h.worker.Len() != 1 {
		t.Fatal("expected a fetch in flight")
	}
	h.mux.Teardown()
	h.settle()
	if len(ch.Sent()) != 0 {
		t.Fatal("late sample was sent after teardown")
	}
}

func TestControlChannelRepliesToPing(t *testing.T) {
	h := newHarness([]ChannelSpec{{Label: ControlLabel, Ordered: true, Source: SourceControl}}, 3)
	r := &replies{}
	h.mux.Open(h.peer, nil, r)
	cmd := h.peer.Channel(ControlLabel)
	cmd.Open()
	cmd.Deliver(`{"cmd":1}`)
	cmd.Deliver(`{"cmd":77}`)
	h.settle()

	sent := cmd.Sent()
	if len(sent) != 1 || string(sent[0].Data) != `{"cmd":2}` {
		t.Fatalf("control channel sent %+v", sent)
	}
	if len(r.handled) != 2 {
		t.Fatalf("handler saw %d messages", len(r.handled))
	}
	if len(h.mux.ActiveTimers()) != 0 {
		t.Fatal("control channel must not have a timer")
	}
}

func TestStaleEventsFromPreviousStreamAreDropped(t *testing.T) {
	src := &countingSource{data: []byte{1}}
	specs := []ChannelSpec{{Label: "A", CadenceHz: 10, Source: "x"}}
	h := newHarness(specs, 3)
	h.mux.Open(h.peer, func(ChannelSpec) Source { return src }, nil)
	old := h.peer.Channel("A")

	second := &rtctest.Peer{}
	h.mux.Open(second, func(ChannelSpec) Source { return src }, nil)
	old.Open()
	h.settle()
	if len(h.mux.ActiveTimers()) != 0 {
		t.Fatal("open event of a torn down channel armed a timer")
	}
	if old.Closes() != 1 {
		t.Fatal("previous channel not closed by the new Open")
	}
}

func TestSyntheticSources(t *testing.T) {
	q, err := NewSyntheticSource("quaternion", 1).Sample(context.Background())
	if err != nil || len(q) != 16 {
		t.Fatalf("quaternion: %v %d", err, len(q))
	}
	w := math.Float32frombits(binary.LittleEndian.Uint32(q[12:]))
	if w < 0.9 || w > 1.1 {
		t.Fatalf("w = %f", w)
	}

	g, err := NewSyntheticSource("gnss", 1).Sample(context.Background())
	if err != nil {
		t.Fatalf("gnss: %v", err)
	}
	var fix gnssFix
	if err := json.Unmarshal(g, &fix); err != nil || fix.Latitude < 34.9 || fix.Latitude > 35.1 {
		t.Fatalf("gnss fix %s: %v", g, err)
	}

	b, err := NewSyntheticSource("battery", 1).Sample(context.Background())
	if err != nil {
		t.Fatalf("battery: %v", err)
	}
	var status batteryStatus
	if err := json.Unmarshal(b, &status); err != nil {
		t.Fatalf("battery %s: %v", b, err)
	}
	if status.Charging && status.DischargingTime != -1 || !status.Charging && status.ChargingTime != -1 {
		t.Fatalf("battery times inconsistent: %+v", status)
	}

	if NewSyntheticSource("nope", 1) != nil {
		t.Fatal("unknown generator should be nil")
	}
}

func TestChannelSpecHelpers(t *testing.T) {
	spec := ChannelSpec{Label: "X", CadenceHz: 50, Source: "msp:102"}
	if spec.Interval() != 20*time.Millisecond {
		t.Fatalf("interval = %v", spec.Interval())
	}
	kind, arg := spec.SourceKind()
	if kind != SourceMSP || arg != "102" {
		t.Fatalf("source kind = %s %s", kind, arg)
	}
	if err := (ChannelSpec{Label: "Y", Source: "x"}).Validate(); err == nil {
		t.Fatal("expected cadence error")
	}
	if err := (ChannelSpec{Label: ControlLabel, Source: SourceControl, Reliability: MaxRetransmits(1)}).Validate(); err == nil {
		t.Fatal("expected reliability error for control channel")
	}
	for _, spec := range append(DefaultChannels(), SyntheticChannels()...) {
		if err := spec.Validate(); err != nil {
			t.Errorf("default table: %v", err)
		}
	}
}
