package sc

import (
	"fmt"
	"sync"

	"deedles.dev/sc/wire"
)

// Surface is a handle to one node of the compositor's surface tree.
//
// Every owned handle holds one reference to the node and must be
// released exactly once. Clone produces another handle to the same
// node. The compositor may keep a node, and its subtree, on screen
// after its last handle is released for as long as its parent remains
// attached.
type Surface struct {
	session *Session
	node    wire.Node
	name    string

	m        sync.Mutex
	released bool

	// list is set for surfaces borrowed from a Stats. Such handles do not
	// own a reference and are valid until the list is released.
	list *Surfaces
}

// CreateFromWindow creates a surface whose parent is the window. The
// surface does not take ownership of the window handle.
func (s *Session) CreateFromWindow(parent wire.Window, name string) (*Surface, error) {
	if parent == 0 {
		return nil, fmt.Errorf("create surface %q: %w", name, ErrInvalidSurface)
	}

	node := s.backend.CreateFromWindow(parent, name)
	if node == 0 {
		return nil, fmt.Errorf("create surface %q from window %v: %w", name, parent, ErrCreateFailed)
	}
	return s.newSurface(node, name), nil
}

// Create creates a surface as a child of parent.
func (s *Session) Create(parent *Surface, name string) (*Surface, error) {
	pnode, err := parent.handle()
	if err != nil {
		return nil, fmt.Errorf("create surface %q: %w", name, err)
	}

	node := s.backend.Create(pnode, name)
	if node == 0 {
		return nil, fmt.Errorf("create surface %q under %v: %w", name, parent, ErrCreateFailed)
	}
	return s.newSurface(node, name), nil
}

func (s *Session) newSurface(node wire.Node, name string) *Surface {
	s.retain(node, name)
	s.log.Debug().Uint32("node", uint32(node)).Str("name", name).Msg("surface created")

	return &Surface{
		session: s,
		node:    node,
		name:    name,
	}
}

func (s *Surface) handle() (wire.Node, error) {
	if s == nil {
		return 0, ErrInvalidSurface
	}

	if s.list != nil {
		if !s.list.live() {
			return 0, ErrReleased
		}
		return s.node, nil
	}

	s.m.Lock()
	defer s.m.Unlock()

	if s.released {
		return 0, ErrReleased
	}
	return s.node, nil
}

// Name returns the debug name given to the surface at creation.
func (s *Surface) Name() string {
	return s.name
}

// ID returns the compositor's identity for the surface. All handles to
// the same node share an ID.
func (s *Surface) ID() uint32 {
	return uint32(s.node)
}

// Is reports whether s and other refer to the same node.
func (s *Surface) Is(other *Surface) bool {
	if (s == nil) || (other == nil) {
		return s == other
	}
	return (s.session == other.session) && (s.node == other.node)
}

// Borrowed reports whether the handle was obtained from Stats rather
// than owned by the caller.
func (s *Surface) Borrowed() bool {
	return s.list != nil
}

// Clone returns a new owned handle to the same node.
func (s *Surface) Clone() (*Surface, error) {
	node, err := s.handle()
	if err != nil {
		return nil, err
	}
	err = s.session.caps.check(FeatureClone)
	if err != nil {
		return nil, err
	}

	s.session.backend.Acquire(node)
	return s.session.newSurface(node, s.name), nil
}

// Release gives up this handle's reference to the node. It fails if
// the handle has already been released or is borrowed.
func (s *Surface) Release() error {
	if s == nil {
		return ErrInvalidSurface
	}
	if s.list != nil {
		return ErrBorrowed
	}

	s.m.Lock()
	if s.released {
		s.m.Unlock()
		return ErrReleased
	}
	s.released = true
	s.m.Unlock()

	s.session.drop(s.node)
	s.session.backend.Release(s.node)
	s.session.log.Debug().Uint32("node", uint32(s.node)).Str("name", s.name).Msg("surface released")
	return nil
}

func (s *Surface) String() string {
	if s == nil {
		return "<nil surface>"
	}
	return fmt.Sprintf("%q@%v", s.name, uint32(s.node))
}
