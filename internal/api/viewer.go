package api

import (
	"github.com/lcastillo/vitrina/internal/chat"
	"github.com/lcastillo/vitrina/internal/readstate"
	"github.com/lcastillo/vitrina/internal/registry"
	"github.com/lcastillo/vitrina/internal/session"
	"github.com/lcastillo/vitrina/internal/timeline"
)

// Viewer bundles the per-participant engine state: the session, the
// conversation registry, the read synchronizer and the single open timeline.
type Viewer struct {
	Sess *session.Session
	Reg  *registry.Registry
	RS   *readstate.Synchronizer
	TL   *timeline.Timeline
}

// viewerFor returns the viewer for the given identity, creating it on first
// use. Two requests with the same participant id and role share one viewer,
// so the "one open conversation" rule holds across HTTP and websocket.
func (s *Server) viewerFor(participantID string, role chat.Role) (*Viewer, error) {
	key := string(role) + "/" + participantID

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.viewers[key]; ok {
		return v, nil
	}

	sess, err := session.New(participantID, role)
	if err != nil {
		return nil, err
	}
	reg := registry.New(s.db, sess, s.logger.Named("registry"))
	rs := readstate.New(s.db, reg, sess, s.logger.Named("readstate"))
	tl := timeline.New(s.db, reg, rs, s.dispatcher, sess, s.logger.Named("timeline"))

	v := &Viewer{Sess: sess, Reg: reg, RS: rs, TL: tl}
	s.viewers[key] = v
	return v, nil
}

// closeViewers tears down every open timeline. Called on server shutdown.
func (s *Server) closeViewers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.viewers {
		v.TL.Close()
	}
	s.viewers = make(map[string]*Viewer)
}
