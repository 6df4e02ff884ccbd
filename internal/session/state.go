// session state machine for the transmitter
package session

// State is the single process-wide application state.
type State int

const (
	Unknown State = iota
	Connecting
	ConnectionError
	Connected
	Registered
	RegistrationError
	Closed
	StreamAccepted
	Negotiating
	OfferSent
	AnswerReceived
)

var stateNames = map[State]string{
	Unknown:           "Unknown",
	Connecting:        "Connecting",
	ConnectionError:   "ConnectionError",
	Connected:         "Connected",
	Registered:        "Registered",
	RegistrationError: "RegistrationError",
	Closed:            "Closed",
	StreamAccepted:    "StreamAccepted",
	Negotiating:       "Negotiating",
	OfferSent:         "OfferSent",
	AnswerReceived:    "AnswerReceived",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "State(?)"
}

// edges lists every permitted transition except the universal edge
// into Closed.
var edges = map[State][]State{
	Unknown:           {Connecting},
	Connecting:        {Connected, ConnectionError},
	Connected:         {Registered, RegistrationError},
	RegistrationError: {Registered},
	Registered:        {StreamAccepted},
	StreamAccepted:    {Negotiating, Registered},
	Negotiating:       {OfferSent, Registered},
	OfferSent:         {AnswerReceived, Registered},
	AnswerReceived:    {Registered},
}

// CanTransition reports whether from -> to is a permitted edge.
func CanTransition(from, to State) bool {
	if to == Closed {
		return from != Closed
	}
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Streaming reports whether a viewer stream is being negotiated or is
// live.
func (s State) Streaming() bool {
	switch s {
	case StreamAccepted, Negotiating, OfferSent, AnswerReceived:
		return true
	}
	return false
}
