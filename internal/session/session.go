package session

import "github.com/pion/logging"

// Session holds the identifiers and state of this transmitter. It is
// confined to the event loop and carries no locks.
type Session struct {
	ownID    string
	viewerID string
	state    State
	log      logging.LeveledLogger
}

func New(log logging.LeveledLogger) *Session {
	return &Session{state: Unknown, log: log}
}

func (s *Session) State() State     { return s.state }
func (s *Session) OwnID() string    { return s.ownID }
func (s *Session) ViewerID() string { return s.viewerID }
func (s *Session) HasViewer() bool  { return s.viewerID != "" }
func (s *Session) Registered() bool { return s.ownID != "" }
func (s *Session) Terminated() bool { return s.state == Closed }

// Transition moves to the given state if the edge is permitted. An
// invalid edge leaves the state untouched.
func (s *Session) Transition(to State) bool {
	if !CanTransition(s.state, to) {
		s.log.Warnf("ignoring invalid state transition %s -> %s", s.state, to)
		return false
	}
	s.log.Debugf("state %s -> %s", s.state, to)
	s.state = to
	return true
}

// SetOwnID assigns the server issued id. The id never changes once set.
func (s *Session) SetOwnID(id string) bool {
	if id == "" {
		return false
	}
	if s.ownID != "" && s.ownID != id {
		s.log.Warnf("session id already assigned (%s), ignoring %s", s.ownID, id)
		return false
	}
	s.ownID = id
	return true
}

func (s *Session) SetViewer(id string) {
	if s.viewerID != "" && s.viewerID != id {
		s.log.Infof("replacing viewer %s with %s", s.viewerID, id)
	}
	s.viewerID = id
}

func (s *Session) ClearViewer() { s.viewerID = "" }
