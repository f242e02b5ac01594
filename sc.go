// Package sc is a safe API for describing a hierarchy of surfaces and
// submitting atomic updates to it to a system compositor.
//
// A Session wraps a compositor backend. Surfaces created from the
// session are reference-counted handles to nodes in the compositor's
// surface tree. A Transaction batches changes to any number of
// surfaces; Submit hands it to the compositor, which applies it
// asynchronously and reports back through the transaction's on-commit
// and on-complete callbacks.
package sc

import (
	"fmt"
	"sync"

	"deedles.dev/sc/internal/debug"
	"deedles.dev/sc/wire"
	"github.com/rs/zerolog"
)

// Session is a connection to a compositor backend.
type Session struct {
	backend wire.Backend
	caps    Capabilities
	log     zerolog.Logger

	m     sync.Mutex
	nodes map[wire.Node]*nodeInfo
}

type nodeInfo struct {
	name string
	refs int
}

// Open negotiates capabilities with backend. It fails if the backend's
// API level is too low to support surface control at all.
func Open(backend wire.Backend) (*Session, error) {
	caps, err := NewCapabilities(Level(backend.Level()))
	if err != nil {
		return nil, err
	}

	s := Session{
		backend: backend,
		caps:    caps,
		log:     debug.Named("sc"),
		nodes:   make(map[wire.Node]*nodeInfo),
	}
	s.log.Debug().
		Int("level", int(caps.Level())).
		Stringer("features", featureList(caps.Features())).
		Msg("session opened")

	return &s, nil
}

// Capabilities returns the features available to the session.
func (s *Session) Capabilities() Capabilities {
	return s.caps
}

// Backend returns the underlying compositor backend.
func (s *Session) Backend() wire.Backend {
	return s.backend
}

// LiveSurfaces returns the number of distinct surfaces for which the
// session holds at least one owned handle.
func (s *Session) LiveSurfaces() int {
	s.m.Lock()
	defer s.m.Unlock()

	return len(s.nodes)
}

func (s *Session) retain(node wire.Node, name string) {
	s.m.Lock()
	defer s.m.Unlock()

	info := s.nodes[node]
	if info == nil {
		info = &nodeInfo{name: name}
		s.nodes[node] = info
	}
	info.refs++
}

func (s *Session) drop(node wire.Node) {
	s.m.Lock()
	defer s.m.Unlock()

	info := s.nodes[node]
	if info == nil {
		return
	}
	info.refs--
	if info.refs <= 0 {
		delete(s.nodes, node)
	}
}

func (s *Session) nameOf(node wire.Node) string {
	s.m.Lock()
	defer s.m.Unlock()

	if info := s.nodes[node]; info != nil {
		return info.name
	}
	return ""
}

type featureList []Feature

func (list featureList) String() string {
	return fmt.Sprint([]Feature(list))
}
