// Package compositor implements a headless, in-process compositor.
//
// A Compositor keeps a surface tree per window and applies submitted
// transactions on a goroutine of its own, in submission order. It
// presents frames by signaling fences rather than by scanning out to a
// display, and Render composes the current state of a window into an
// image.
package compositor

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"deedles.dev/sc/internal/debug"
	"deedles.dev/sc/internal/ev"
	"deedles.dev/sc/internal/objstore"
	"deedles.dev/sc/internal/set"
	"deedles.dev/sc/wire"
	"deedles.dev/xsync"
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Config configures a Compositor. The zero value is usable.
type Config struct {
	// Level is the platform API level reported to clients. It defaults
	// to the highest level the compositor implements.
	Level int

	// Clock is the time source for latch and acquire times.
	Clock clock.Clock

	// Registerer, if not nil, receives the compositor's metrics.
	Registerer prometheus.Registerer

	// Logger defaults to the module logger tagged "compositor".
	Logger *zerolog.Logger

	// NoPresentFences emulates a device that does not provide present
	// fences.
	NoPresentFences bool
}

// MaxLevel is the highest API level implemented.
const MaxLevel = 33

func (cfg Config) withDefaults() Config {
	if cfg.Level == 0 {
		cfg.Level = MaxLevel
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		l := debug.Named("compositor")
		cfg.Logger = &l
	}
	return cfg
}

// Compositor is a headless implementation of wire.Backend.
type Compositor struct {
	cfg     Config
	log     zerolog.Logger
	metrics *metrics

	// m guards the surface tree.
	m       sync.Mutex
	windows *objstore.Store[*window]
	nodes   *objstore.Store[*node]

	txns        *objstore.Store[*txn]
	stats       *objstore.Store[*frameStats]
	outstanding atomic.Int64

	queue   xsync.Queue[*pending]
	qm      sync.Mutex
	queued  set.Set[*pending]
	stop    xsync.Stopper
	done    chan struct{}
	close   sync.Once
	closing sync.RWMutex
	closed  bool

	// Only touched by the apply loop.
	lastLatch int64
	held      ev.Batch
}

// New starts a compositor.
func New(cfg Config) *Compositor {
	cfg = cfg.withDefaults()

	c := Compositor{
		cfg:     cfg,
		log:     *cfg.Logger,
		metrics: newMetrics(cfg.Registerer),
		windows: objstore.New[*window](1),
		nodes:   objstore.New[*node](1),
		txns:    objstore.New[*txn](1),
		stats:   objstore.New[*frameStats](1),
		queued:  make(set.Set[*pending]),
		done:    make(chan struct{}),
	}
	go c.run()

	return &c
}

// Close stops the compositor. Transactions that have not been applied
// yet are dropped and their callbacks are called with a stats of 0.
// Buffers held back by back pressure are released.
func (c *Compositor) Close() (err error) {
	c.close.Do(func() {
		c.stop.Stop()
		<-c.done

		c.closing.Lock()
		c.closed = true
		c.closing.Unlock()

		c.queue.Stop()

		c.qm.Lock()
		dropped := c.queued.Slice()
		clear(c.queued)
		c.qm.Unlock()
		for _, p := range dropped {
			p.discard()
		}

		err = c.held.Flush()
	})
	return err
}

func (c *Compositor) Level() int {
	return c.cfg.Level
}

type window struct {
	name string
	w, h int
	// roots are the nodes created directly on the window.
	roots set.Set[wire.Node]
}

// CreateWindow creates an off-screen window of the given size that
// surfaces can be attached to.
func (c *Compositor) CreateWindow(name string, w, h int) wire.Window {
	if (w <= 0) || (h <= 0) {
		return 0
	}

	c.m.Lock()
	defer c.m.Unlock()

	id := c.windows.Add(&window{
		name:  name,
		w:     w,
		h:     h,
		roots: make(set.Set[wire.Node]),
	})
	c.log.Debug().Uint32("window", id).Str("name", name).Int("w", w).Int("h", h).Msg("window created")
	return wire.Window(id)
}

func (c *Compositor) CreateFromWindow(parent wire.Window, name string) wire.Node {
	c.m.Lock()
	defer c.m.Unlock()

	win, ok := c.windows.Get(uint32(parent))
	if !ok {
		c.log.Warn().Uint32("window", uint32(parent)).Msg("create surface on unknown window")
		return 0
	}

	n := newNode(name)
	n.state.Window = parent
	id := wire.Node(c.nodes.Add(n))
	win.roots.Add(id)
	c.metrics.nodes.Inc()
	return id
}

func (c *Compositor) Create(parent wire.Node, name string) wire.Node {
	c.m.Lock()
	defer c.m.Unlock()

	p, ok := c.nodes.Get(uint32(parent))
	if !ok {
		c.log.Warn().Uint32("node", uint32(parent)).Msg("create surface under unknown parent")
		return 0
	}

	n := newNode(name)
	n.state.Parent = parent
	id := wire.Node(c.nodes.Add(n))
	p.children.Add(id)
	c.metrics.nodes.Inc()
	return id
}

func (c *Compositor) Acquire(id wire.Node) {
	c.m.Lock()
	defer c.m.Unlock()

	n, ok := c.nodes.Get(uint32(id))
	if !ok {
		return
	}
	n.refs++
}

func (c *Compositor) Release(id wire.Node) {
	c.m.Lock()
	defer c.m.Unlock()

	n, ok := c.nodes.Get(uint32(id))
	if !ok || (n.refs <= 0) {
		c.log.Warn().Uint32("node", uint32(id)).Msg("release of unreferenced surface")
		return
	}
	n.refs--
	c.collect(id)
}

// collect removes id, and any unreferenced part of its subtree, if
// nothing keeps it alive anymore. It must be called with c.m held.
func (c *Compositor) collect(id wire.Node) {
	n, ok := c.nodes.Get(uint32(id))
	if !ok || (n.refs > 0) || n.attached() {
		return
	}

	c.nodes.Delete(uint32(id))
	c.metrics.nodes.Dec()
	c.log.Debug().Uint32("node", uint32(id)).Str("name", n.state.Name).Msg("surface destroyed")

	for child := range n.children {
		cn, ok := c.nodes.Get(uint32(child))
		if !ok {
			continue
		}
		cn.state.Parent = 0
		c.collect(child)
	}
}

// Snapshot returns the current state of a node.
func (c *Compositor) Snapshot(id wire.Node) (NodeState, bool) {
	c.m.Lock()
	defer c.m.Unlock()

	n, ok := c.nodes.Get(uint32(id))
	if !ok {
		return NodeState{}, false
	}
	return n.snapshot(), true
}

// Children returns the children of a node in drawing order.
func (c *Compositor) Children(id wire.Node) []wire.Node {
	c.m.Lock()
	defer c.m.Unlock()

	n, ok := c.nodes.Get(uint32(id))
	if !ok {
		return nil
	}
	return c.sorted(n.children)
}

// Roots returns the nodes attached directly to a window in drawing
// order.
func (c *Compositor) Roots(win wire.Window) []wire.Node {
	c.m.Lock()
	defer c.m.Unlock()

	w, ok := c.windows.Get(uint32(win))
	if !ok {
		return nil
	}
	return c.sorted(w.roots)
}

// sorted orders nodes by z order, then by creation. It must be called
// with c.m held.
func (c *Compositor) sorted(ids set.Set[wire.Node]) []wire.Node {
	r := ids.Slice()
	slices.SortFunc(r, func(a, b wire.Node) int {
		an, _ := c.nodes.Get(uint32(a))
		bn, _ := c.nodes.Get(uint32(b))
		if (an != nil) && (bn != nil) && (an.state.Z != bn.state.Z) {
			return int(an.state.Z) - int(bn.state.Z)
		}
		return int(a) - int(b)
	})
	return r
}

// Nodes returns the number of nodes that currently exist.
func (c *Compositor) Nodes() int {
	return c.nodes.Len()
}

// OutstandingSurfaceLists returns the number of lists returned by
// Surfaces that have not been given back with ReleaseSurfaces.
func (c *Compositor) OutstandingSurfaceLists() int {
	return int(c.outstanding.Load())
}

// stopContext returns a context that is canceled when the compositor
// is closed.
func (c *Compositor) stopContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-c.stop.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
