package compositor

import (
	"context"
	"errors"
	"sync"
	"time"

	"deedles.dev/sc/fence"
	"deedles.dev/sc/internal/ev"
	"deedles.dev/sc/internal/set"
	"deedles.dev/sc/wire"
	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"
)

type callback struct {
	f   wire.Callback
	ctx uintptr
}

type txn struct {
	m         sync.Mutex
	requests  []*wire.Request
	callbacks [2]callback
}

// pending is an applied transaction waiting for its turn.
type pending struct {
	txn       wire.Txn
	requests  []*wire.Request
	callbacks [2]callback
}

// discard closes the fences of p's requests and notifies any callback
// that has not been invoked that it never will be.
func (p *pending) discard() {
	for _, req := range p.requests {
		req.Close()
	}
	for i := range p.callbacks {
		cb := p.callbacks[i]
		p.callbacks[i] = callback{}
		if cb.f != nil {
			cb.f(cb.ctx, 0)
		}
	}
}

func (c *Compositor) CreateTransaction() wire.Txn {
	return wire.Txn(c.txns.Add(new(txn)))
}

func (c *Compositor) DeleteTransaction(id wire.Txn) {
	t, ok := c.txns.Delete(uint32(id))
	if !ok {
		return
	}

	t.m.Lock()
	defer t.m.Unlock()

	for _, req := range t.requests {
		req.Close()
	}
	t.requests = nil
}

func (c *Compositor) Stage(id wire.Txn, req *wire.Request) {
	t, ok := c.txns.Get(uint32(id))
	if !ok {
		c.log.Warn().Uint32("txn", uint32(id)).Stringer("request", req).Msg("request staged on unknown transaction")
		req.Close()
		return
	}

	t.m.Lock()
	defer t.m.Unlock()

	t.requests = append(t.requests, req)
}

func (c *Compositor) SetCallback(id wire.Txn, phase wire.Phase, cb wire.Callback, ctx uintptr) {
	if (phase != wire.PhaseCommit) && (phase != wire.PhaseComplete) {
		return
	}
	t, ok := c.txns.Get(uint32(id))
	if !ok {
		return
	}

	t.m.Lock()
	defer t.m.Unlock()

	t.callbacks[phase-wire.PhaseCommit] = callback{f: cb, ctx: ctx}
}

// Apply queues the transaction's current contents and empties it.
func (c *Compositor) Apply(id wire.Txn) {
	t, ok := c.txns.Get(uint32(id))
	if !ok {
		c.log.Warn().Uint32("txn", uint32(id)).Msg("apply of unknown transaction")
		return
	}

	t.m.Lock()
	p := pending{
		txn:       id,
		requests:  t.requests,
		callbacks: t.callbacks,
	}
	t.requests = nil
	t.callbacks = [2]callback{}
	t.m.Unlock()

	c.closing.RLock()
	defer c.closing.RUnlock()

	if c.closed {
		p.discard()
		return
	}

	c.qm.Lock()
	c.queued.Add(&p)
	c.qm.Unlock()

	select {
	case c.queue.Push() <- &p:
	case <-c.stop.Done():
		if c.dequeue(&p) {
			p.discard()
		}
	}
}

// dequeue removes p from the set of queued transactions. It reports
// whether p was still in it.
func (c *Compositor) dequeue(p *pending) bool {
	c.qm.Lock()
	defer c.qm.Unlock()

	if !c.queued.Has(p) {
		return false
	}
	c.queued.Delete(p)
	return true
}

func (c *Compositor) run() {
	defer close(c.done)

	ctx, cancel := c.stopContext()
	defer cancel()

	for {
		select {
		case <-c.stop.Done():
			return
		case p, ok := <-c.queue.Pop():
			if !ok {
				return
			}
			if c.dequeue(p) {
				c.frame(ctx, p)
			}
		}
	}
}

// frameStats is what a wire.Stats handle refers to. It exists for the
// duration of a transaction's callbacks.
type frameStats struct {
	m        sync.Mutex
	latch    int64
	present  *fence.Fence
	surfaces []wire.Node
	acquire  map[wire.Node]int64
	release  map[wire.Node]*fence.Fence
}

func (fs *frameStats) close() {
	fs.m.Lock()
	defer fs.m.Unlock()

	fs.present.Close()
	for _, f := range fs.release {
		f.Close()
	}
}

// frame applies one transaction and presents the result.
func (c *Compositor) frame(ctx context.Context, p *pending) {
	log := c.log.With().Uint32("txn", uint32(p.txn)).Logger()
	defer p.discard()

	acquire, err := c.waitAcquire(ctx, p)
	if err != nil {
		log.Debug().Err(err).Msg("transaction dropped")
		return
	}

	latch, err := c.latch(ctx, p)
	if err != nil {
		log.Debug().Err(err).Msg("transaction dropped")
		return
	}

	affected, replaced, latched := c.commit(log, p)

	fs := frameStats{
		latch:    latch,
		surfaces: affected,
		acquire:  acquire,
		release:  make(map[wire.Node]*fence.Fence, len(replaced)),
	}
	id := wire.Stats(c.stats.Add(&fs))
	defer func() {
		c.stats.Delete(uint32(id))
		fs.close()
	}()

	c.invoke(&p.callbacks[0], wire.PhaseCommit, id)
	c.present(log, &fs, replaced, latched)
	c.invoke(&p.callbacks[1], wire.PhaseComplete, id)

	c.metrics.applied.Inc()
}

// waitAcquire waits for the acquire fence of every buffer in p and
// records when each one signaled.
func (c *Compositor) waitAcquire(ctx context.Context, p *pending) (map[wire.Node]int64, error) {
	acquire := make(map[wire.Node]int64)
	for _, req := range p.requests {
		if req.Op() != wire.OpSetBuffer {
			continue
		}

		f := fence.FromRaw(req.TakeFence())
		if f == nil {
			acquire[req.Node()] = -1
			continue
		}

		err := f.Wait(ctx)
		f.Close()
		if err != nil {
			return nil, err
		}
		acquire[req.Node()] = c.cfg.Clock.Now().UnixNano()
	}
	return acquire, nil
}

// latch waits for the desired present time of p, if any, and returns
// the latch time. Latch times never decrease, so a transaction never
// preempts an earlier one with a later desired time.
func (c *Compositor) latch(ctx context.Context, p *pending) (int64, error) {
	var desired int64
	for _, req := range p.requests {
		if req.Op() == wire.OpSetDesiredPresentTime {
			desired = req.Reader().Int64()
		}
	}

	now := c.cfg.Clock.Now().UnixNano()
	if desired > now {
		timer := c.cfg.Clock.Timer(time.Duration(desired - now))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		}
		now = c.cfg.Clock.Now().UnixNano()
	}

	latch := max(c.lastLatch, desired, now)
	c.lastLatch = latch
	if desired > 0 {
		c.metrics.latchDelay.Observe(time.Duration(latch - desired).Seconds())
	}
	return latch, nil
}

// commit applies every request of p atomically. It returns the nodes
// named by the transaction, whether each node whose buffer was
// replaced has back pressure enabled, and whether any buffer was
// latched at all.
func (c *Compositor) commit(log zerolog.Logger, p *pending) (affected []wire.Node, replaced map[wire.Node]bool, latched bool) {
	c.m.Lock()
	defer c.m.Unlock()

	seen := make(set.Set[wire.Node])
	replaced = make(map[wire.Node]bool)
	for _, req := range p.requests {
		id := req.Node()
		if id == 0 {
			continue
		}

		n, ok := c.nodes.Get(uint32(id))
		if !ok {
			log.Warn().Stringer("request", req).Msg("request for unknown surface ignored")
			continue
		}
		if !seen.Has(id) {
			seen.Add(id)
			affected = append(affected, id)
		}

		log.Debug().Msgf(" <- %v", req)
		prev, err := c.set(id, n, req)
		if err != nil {
			log.Warn().Err(err).Stringer("request", req).Msg("request ignored")
			continue
		}
		if req.Op() != wire.OpSetBuffer {
			continue
		}
		latched = true
		if (prev != nil) && (prev != n.state.Buffer) {
			replaced[id] = n.state.BackPressure
		}
	}

	for _, id := range affected {
		c.collect(id)
	}
	return affected, replaced, latched
}

// present signals the frame's present fence and arranges for the
// buffers replaced by it to be released. Buffers on nodes with back
// pressure are held until the next frame is presented. A frame that
// latched no buffers has no present fence.
func (c *Compositor) present(log zerolog.Logger, fs *frameStats, replaced map[wire.Node]bool, latched bool) {
	var now, next ev.Batch
	for id, backPressure := range replaced {
		f, sig, err := fence.New()
		if err != nil {
			log.Error().Err(err).Msg("create release fence")
			continue
		}

		release := func() error {
			return errors.Join(sig.Signal(), sig.Close())
		}
		if backPressure {
			next.Add(release)
		} else {
			now.Add(release)
		}

		fs.m.Lock()
		fs.release[id] = f
		fs.m.Unlock()
	}

	if latched && !c.cfg.NoPresentFences {
		f, sig, err := fence.New()
		if err != nil {
			log.Error().Err(err).Msg("create present fence")
		} else {
			err = errors.Join(sig.Signal(), sig.Close())
			if err != nil {
				log.Error().Err(err).Msg("signal present fence")
			}
			fs.m.Lock()
			fs.present = f
			fs.m.Unlock()
		}
	}

	err := errors.Join(c.held.Flush(), now.Flush())
	if err != nil {
		log.Error().Err(err).Msg("release buffers")
	}
	c.held = next
}

func (c *Compositor) invoke(slot *callback, phase wire.Phase, stats wire.Stats) {
	cb := *slot
	*slot = callback{}
	if cb.f == nil {
		return
	}

	c.metrics.callbacks.WithLabelValues(phase.String()).Inc()
	cb.f(cb.ctx, stats)
}

func (c *Compositor) frameStats(id wire.Stats) *frameStats {
	fs, ok := c.stats.Get(uint32(id))
	if !ok {
		c.log.Warn().Uint32("stats", uint32(id)).Msg("use of expired stats")
		return nil
	}
	return fs
}

func (c *Compositor) LatchTime(stats wire.Stats) int64 {
	fs := c.frameStats(stats)
	if fs == nil {
		return 0
	}
	return fs.latch
}

// dupFd returns a new descriptor for f that the caller owns.
func (c *Compositor) dupFd(f *fence.Fence) int {
	dup, err := f.Dup()
	if err != nil {
		c.log.Error().Err(err).Msg("duplicate fence")
		return wire.NoFence
	}
	fd, _ := dup.Take()
	return fd
}

func (c *Compositor) PresentFenceFd(stats wire.Stats) int {
	fs := c.frameStats(stats)
	if fs == nil {
		return wire.NoFence
	}

	fs.m.Lock()
	defer fs.m.Unlock()
	return c.dupFd(fs.present)
}

func (c *Compositor) Surfaces(stats wire.Stats) []wire.Node {
	fs := c.frameStats(stats)
	if fs == nil {
		return nil
	}

	c.outstanding.Add(1)
	return append([]wire.Node(nil), fs.surfaces...)
}

func (c *Compositor) ReleaseSurfaces(nodes []wire.Node) {
	c.outstanding.Add(-1)
}

func (c *Compositor) AcquireTime(stats wire.Stats, node wire.Node) int64 {
	fs := c.frameStats(stats)
	if fs == nil {
		return -1
	}

	t, ok := fs.acquire[node]
	if !ok {
		return -1
	}
	return t
}

func (c *Compositor) PreviousReleaseFenceFd(stats wire.Stats, node wire.Node) int {
	fs := c.frameStats(stats)
	if fs == nil {
		return wire.NoFence
	}

	fs.m.Lock()
	defer fs.m.Unlock()
	return c.dupFd(fs.release[node])
}

// AcquireTimes returns the acquire times recorded for a stats handle.
// It is only valid during the handle's callbacks.
func (c *Compositor) AcquireTimes(stats wire.Stats) map[wire.Node]int64 {
	fs := c.frameStats(stats)
	if fs == nil {
		return nil
	}
	return maps.Clone(fs.acquire)
}
