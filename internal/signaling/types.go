// basic type declarations for the signaling protocol
package signaling

// message types for signaling server communication
type MessageType int

// inbound, sent by the server or relayed from a viewer
const (
	SessionIDType         MessageType = 100 // sessionId for this transmitter
	CapabilityRequestType MessageType = 101 // viewer asks for devices/codecs
	StreamStartType       MessageType = 102 // viewer asks for a stream, carries media params
	SDPAnswerType         MessageType = 103 // answer.sdp
	ICECandidateType      MessageType = 104 // candidate.candidate, candidate.sdpMLineIndex
	ViewerCloseType       MessageType = 108 // viewer left
	PeerErrorType         MessageType = 109 // free-form error from the other side
)

// outbound
const (
	SessionIDMirrorType    MessageType = 200
	SenderEntriesType      MessageType = 201
	CapabilityResponseType MessageType = 202
	SDPOfferType           MessageType = 203
	LocalCandidateType     MessageType = 204
	SystemErrorType        MessageType = 209
)

// wire keys of the session identifiers
const (
	OwnIDKey    = "ws1Id"
	ViewerIDKey = "ws2Id"
)

var typeNames = map[MessageType]string{
	SessionIDType:          "SESSION_ID_ISSUANCE",
	CapabilityRequestType:  "CAPABILITY_REQUEST",
	StreamStartType:        "STREAM_START",
	SDPAnswerType:          "SDP_ANSWER",
	ICECandidateType:       "ICE_CANDIDATE",
	ViewerCloseType:        "VIEWER_CLOSE",
	PeerErrorType:          "PEER_ERROR",
	SessionIDMirrorType:    "SESSION_ID_MIRROR",
	SenderEntriesType:      "SENDER_ENTRIES",
	CapabilityResponseType: "CAPABILITY_RESPONSE",
	SDPOfferType:           "SDP_OFFER",
	LocalCandidateType:     "LOCAL_ICE_CANDIDATE",
	SystemErrorType:        "SYSTEM_ERROR",
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// SDP payloads, shaped like the browser's RTCSessionDescriptionInit
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is a trickled ICE candidate, shaped like RTCIceCandidateInit.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	SDPMid        *string `json:"sdpMid,omitempty"`
}
