// Package rtc describes the media engine the controller drives: a
// pipeline that produces media and the peer connection that carries it.
// PionBuilder is the production implementation; rtctest has fakes.
package rtc

import "context"

// Description is a local or remote session description.
type Description struct {
	Type string
	SDP  string
}

// Candidate is a trickled ICE candidate.
type Candidate struct {
	Candidate     string
	SDPMid        *string
	SDPMLineIndex *uint16
}

// ChannelOptions selects the delivery policy of a data channel. At most
// one of MaxPacketLifeTime and MaxRetransmits is set; neither means fully
// reliable.
type ChannelOptions struct {
	Ordered           bool
	MaxPacketLifeTime *uint16
	MaxRetransmits    *uint16
}

// Message is one data channel message.
type Message struct {
	IsString bool
	Data     []byte
}

// DataChannel callbacks may run on any goroutine.
type DataChannel interface {
	Label() string
	OnOpen(f func())
	OnClose(f func())
	OnError(f func(error))
	OnMessage(f func(Message))
	Send(data []byte) error
	SendText(s string) error
	Close() error
}

// PeerConnection callbacks may run on any goroutine. A negotiation-needed
// event raised before a handler is registered is delivered when one is.
type PeerConnection interface {
	OnNegotiationNeeded(f func())
	// f is not called for the end-of-candidates event.
	OnICECandidate(f func(Candidate))
	OnICEGatheringStateChange(f func(state string))
	OnICEConnectionStateChange(f func(state string))
	OnDataChannel(f func(DataChannel))

	CreateDataChannel(label string, opts ChannelOptions) (DataChannel, error)
	CreateOffer() (Description, error)
	SetLocalDescription(d Description) error
	SetRemoteDescription(d Description) error
	AddICECandidate(c Candidate) error
	Close() error
}

// Pipeline is a running media graph. Stop releases it and the peer
// connection it feeds.
type Pipeline interface {
	Stop() error
}

// PipelineBuilder builds and starts a pipeline for one viewer. Build
// may block and is never called from the event loop.
type PipelineBuilder interface {
	Build(ctx context.Context, params MediaParams) (Pipeline, PeerConnection, error)
}
