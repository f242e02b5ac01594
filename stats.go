package sc

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"deedles.dev/sc/fence"
	"deedles.dev/sc/wire"
)

// Phase identifies the callback that received a Stats.
type Phase = wire.Phase

const (
	PhaseCommit   = wire.PhaseCommit
	PhaseComplete = wire.PhaseComplete
)

// Stats describes the outcome of a transaction. It is only valid for
// the duration of the callback it was passed to.
type Stats struct {
	session *Session
	raw     wire.Stats
	phase   Phase

	m     sync.Mutex
	valid bool
	lists []*Surfaces
}

func newStats(s *Session, raw wire.Stats, phase Phase) *Stats {
	return &Stats{
		session: s,
		raw:     raw,
		phase:   phase,
		valid:   true,
	}
}

// expire invalidates the stats and releases any surface lists the
// callback left behind.
func (stats *Stats) expire() {
	stats.m.Lock()
	stats.valid = false
	lists := stats.lists
	stats.lists = nil
	stats.m.Unlock()

	for _, list := range lists {
		list.Release()
	}
}

func (stats *Stats) check() error {
	stats.m.Lock()
	defer stats.m.Unlock()

	if !stats.valid {
		return ErrStatsExpired
	}
	return nil
}

func (stats *Stats) checkFence() error {
	err := stats.check()
	if err != nil {
		return err
	}
	if stats.phase == PhaseCommit {
		return ErrCommitPhase
	}
	return nil
}

// Phase returns the callback phase the stats were produced for.
func (stats *Stats) Phase() Phase {
	return stats.phase
}

// LatchTime returns the time at which the transaction was applied.
func (stats *Stats) LatchTime() (time.Time, error) {
	err := stats.check()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, stats.session.backend.LatchTime(stats.raw)), nil
}

// PresentFence returns a fence that signals when the frame containing
// the transaction is presented. The caller owns the returned fence. It
// is nil if the device does not support present fences.
func (stats *Stats) PresentFence() (*fence.Fence, error) {
	err := stats.checkFence()
	if err != nil {
		return nil, err
	}
	return fence.FromRaw(stats.session.backend.PresentFenceFd(stats.raw)), nil
}

// Surfaces returns the surfaces affected by the transaction. The list
// is released automatically when the callback returns if the caller
// has not done so already.
func (stats *Stats) Surfaces() (*Surfaces, error) {
	err := stats.check()
	if err != nil {
		return nil, err
	}

	nodes := stats.session.backend.Surfaces(stats.raw)
	list := Surfaces{
		stats:    stats,
		nodes:    nodes,
		surfaces: make([]*Surface, 0, len(nodes)),
	}
	for _, node := range nodes {
		list.surfaces = append(list.surfaces, &Surface{
			session: stats.session,
			node:    node,
			name:    stats.session.nameOf(node),
			list:    &list,
		})
	}

	stats.m.Lock()
	stats.lists = append(stats.lists, &list)
	stats.m.Unlock()

	return &list, nil
}

// AcquireTime returns the time at which the acquire fence of the
// buffer set on s signaled. ok is false if no acquire fence was given.
func (stats *Stats) AcquireTime(s *Surface) (t time.Time, ok bool, err error) {
	err = stats.check()
	if err != nil {
		return time.Time{}, false, err
	}
	node, err := s.handle()
	if err != nil {
		return time.Time{}, false, err
	}

	ns := stats.session.backend.AcquireTime(stats.raw, node)
	if ns < 0 {
		return time.Time{}, false, nil
	}
	return time.Unix(0, ns), true, nil
}

// PreviousReleaseFence returns a fence that signals when the buffer
// that s displayed before the transaction may be reused. The caller
// owns the returned fence. It is nil if there was no previous buffer
// or if it may be reused immediately.
func (stats *Stats) PreviousReleaseFence(s *Surface) (*fence.Fence, error) {
	err := stats.checkFence()
	if err != nil {
		return nil, err
	}
	node, err := s.handle()
	if err != nil {
		return nil, err
	}
	return fence.FromRaw(stats.session.backend.PreviousReleaseFenceFd(stats.raw, node)), nil
}

// String dumps the stats. Fences are reported by descriptor and closed
// again; no fence held by the caller is affected.
func (stats *Stats) String() string {
	if stats.check() != nil {
		return "stats(expired)"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "stats(%v) {", stats.phase)

	latch, _ := stats.LatchTime()
	fmt.Fprintf(&sb, " latch: %v", latch.UnixNano())

	if stats.phase == PhaseComplete {
		f, _ := stats.PresentFence()
		fmt.Fprintf(&sb, ", present: %v", f)
		f.Close()
	}

	list, err := stats.Surfaces()
	if err != nil {
		sb.WriteString(" }")
		return sb.String()
	}
	defer list.Release()

	sb.WriteString(", surfaces: [")
	for i, s := range list.All() {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, " %v {", s)

		t, ok, _ := stats.AcquireTime(s)
		if ok {
			fmt.Fprintf(&sb, " acquire: %v", t.UnixNano())
		} else {
			sb.WriteString(" acquire: none")
		}

		if stats.phase == PhaseComplete {
			f, _ := stats.PreviousReleaseFence(s)
			fmt.Fprintf(&sb, ", release: %v", f)
			f.Close()
		}
		sb.WriteString(" }")
	}
	sb.WriteString(" ] }")
	return sb.String()
}

// Surfaces is a list of surfaces borrowed from a Stats. The handles in
// it are valid until the list is released. They cannot be released
// individually.
type Surfaces struct {
	stats    *Stats
	nodes    []wire.Node
	surfaces []*Surface

	m        sync.Mutex
	released bool
}

func (list *Surfaces) live() bool {
	list.m.Lock()
	defer list.m.Unlock()

	return !list.released
}

// All returns the handles in the list. The returned slice must not be
// modified.
func (list *Surfaces) All() []*Surface {
	return list.surfaces
}

// Len returns the number of surfaces in the list.
func (list *Surfaces) Len() int {
	return len(list.surfaces)
}

// Contains reports whether the list includes a handle to the same node
// as s.
func (list *Surfaces) Contains(s *Surface) bool {
	for _, c := range list.surfaces {
		if c.Is(s) {
			return true
		}
	}
	return false
}

// Release gives the list back to the compositor. The surfaces
// themselves are not released. Calling Release more than once has no
// effect.
func (list *Surfaces) Release() {
	list.m.Lock()
	defer list.m.Unlock()

	if list.released {
		return
	}
	list.released = true
	list.stats.session.backend.ReleaseSurfaces(list.nodes)
}
