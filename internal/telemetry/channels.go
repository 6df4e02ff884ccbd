// Package telemetry pushes sensor samples to the viewer over auxiliary
// data channels, one channel per sample stream, each with its own
// delivery policy and cadence.
package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/Xosrov/webrtc-vtx/internal/rtc"
)

type ReliabilityKind int

const (
	Reliable ReliabilityKind = iota
	BoundedLifetime
	BoundedRetransmits
)

// Reliability is the partial reliability policy of a channel.
type Reliability struct {
	Kind  ReliabilityKind
	Value uint16
}

func MaxLifetimeMs(ms uint16) Reliability {
	return Reliability{Kind: BoundedLifetime, Value: ms}
}

func MaxRetransmits(n uint16) Reliability {
	return Reliability{Kind: BoundedRetransmits, Value: n}
}

type PayloadKind int

const (
	Binary PayloadKind = iota
	JSONString
)

// Source references, "<kind>" or "<kind>:<arg>".
const (
	SourceControl   = "control"
	SourceMSP       = "msp"
	SourceWPA       = "wpa"
	SourceSynthetic = "synthetic"
)

// ChannelSpec describes one data channel. Specs are fixed for the
// lifetime of the process.
type ChannelSpec struct {
	Label       string
	Ordered     bool
	Reliability Reliability
	CadenceHz   float64
	Payload     PayloadKind
	Source      string
	// Optional channels are not created when their source is missing.
	Optional bool
}

func (s ChannelSpec) Control() bool { return s.Source == SourceControl }

// SourceKind splits Source into its kind and argument.
func (s ChannelSpec) SourceKind() (kind, arg string) {
	kind, arg, _ = strings.Cut(s.Source, ":")
	return kind, arg
}

// Interval is the timer period, 1000/cadence ms.
func (s ChannelSpec) Interval() time.Duration {
	if s.CadenceHz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / s.CadenceHz)
}

func (s ChannelSpec) Options() rtc.ChannelOptions {
	opts := rtc.ChannelOptions{Ordered: s.Ordered}
	value := s.Reliability.Value
	switch s.Reliability.Kind {
	case BoundedLifetime:
		opts.MaxPacketLifeTime = &value
	case BoundedRetransmits:
		opts.MaxRetransmits = &value
	}
	return opts
}

func (s ChannelSpec) Validate() error {
	if s.Label == "" {
		return fmt.Errorf("telemetry: channel without label")
	}
	if !s.Control() && s.CadenceHz <= 0 {
		return fmt.Errorf("telemetry: channel %s needs a positive cadence", s.Label)
	}
	if s.Control() && s.Reliability.Kind != Reliable {
		return fmt.Errorf("telemetry: control channel %s must be reliable", s.Label)
	}
	return nil
}

// ControlLabel is the label of the command channel.
const ControlLabel = "CMD"

// DefaultChannels is the channel table of a transmitter with a flight
// controller and an optional Wi-Fi link.
func DefaultChannels() []ChannelSpec {
	return []ChannelSpec{
		{Label: ControlLabel, Ordered: true, Source: SourceControl},
		// high rate, latest sample wins
		{Label: "MSP_RAW_IMU", Ordered: false, Reliability: MaxLifetimeMs(50), CadenceHz: 50, Payload: Binary, Source: "msp:102"},
		{Label: "MSP_ATTITUDE", Ordered: false, Reliability: MaxLifetimeMs(100), CadenceHz: 30, Payload: Binary, Source: "msp:108"},
		// low rate, favor completeness
		{Label: "MSP_RAW_GPS", Ordered: true, Reliability: MaxRetransmits(5), CadenceHz: 1, Payload: Binary, Source: "msp:106"},
		{Label: "MSP_COMP_GPS", Ordered: true, Reliability: MaxRetransmits(5), CadenceHz: 1, Payload: Binary, Source: "msp:107"},
		{Label: "MSP_ALTITUDE", Ordered: true, Reliability: MaxRetransmits(3), CadenceHz: 10, Payload: Binary, Source: "msp:109"},
		{Label: "MSP_ANALOG", Ordered: true, Reliability: MaxRetransmits(5), CadenceHz: 2, Payload: Binary, Source: "msp:110"},
		{Label: "MSP_SONAR", Ordered: true, Reliability: MaxRetransmits(3), CadenceHz: 10, Payload: Binary, Source: "msp:58"},
		{Label: "MSP_BATTERY_STATE", Ordered: true, Reliability: MaxRetransmits(5), CadenceHz: 2, Payload: Binary, Source: "msp:130"},
		{Label: "WPA_SUPPLICANT", Ordered: true, Reliability: MaxRetransmits(5), CadenceHz: 1, Payload: JSONString, Source: SourceWPA, Optional: true},
	}
}

// SyntheticChannels replaces flight controller data with generated
// samples, for bench setups without hardware.
func SyntheticChannels() []ChannelSpec {
	return []ChannelSpec{
		{Label: "IMU", Ordered: false, Reliability: MaxLifetimeMs(50), CadenceHz: 15, Payload: Binary, Source: "synthetic:quaternion"},
		{Label: "GNSS", Ordered: true, Reliability: MaxRetransmits(3), CadenceHz: 1, Payload: JSONString, Source: "synthetic:gnss"},
		{Label: "BAT", Ordered: true, Reliability: MaxRetransmits(3), CadenceHz: 1, Payload: JSONString, Source: "synthetic:battery"},
	}
}
