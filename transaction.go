package sc

import (
	"fmt"
	"math"
	"sync"
	"time"

	"deedles.dev/sc/buffer"
	"deedles.dev/sc/fence"
	"deedles.dev/sc/wire"
	"deedles.dev/ximage/geom"
)

type txnState int

const (
	txnOpen txnState = iota
	txnSubmitted
	txnClosed
)

// Transaction is a collection of updates to the surface tree that are
// applied atomically.
//
// Staging methods validate their arguments and return an error instead
// of forwarding a malformed update, because the compositor silently
// ignores those. A transaction does not keep the surfaces it refers to
// alive.
type Transaction struct {
	session *Session

	m       sync.Mutex
	txn     wire.Txn
	state   txnState
	track   *track
	staged  int
	tokens  [2]uintptr
	present time.Time
}

// NewTransaction creates an empty transaction.
func (s *Session) NewTransaction() (*Transaction, error) {
	txn := s.backend.CreateTransaction()
	if txn == 0 {
		return nil, fmt.Errorf("create transaction: %w", ErrCreateFailed)
	}

	return &Transaction{
		session: s,
		txn:     txn,
		track:   new(track),
	}, nil
}

// usable must be called with tx.m held.
func (tx *Transaction) usable() error {
	switch tx.state {
	case txnSubmitted:
		return ErrSubmitted
	case txnClosed:
		return ErrClosed
	}
	return nil
}

// stage sends the requests built by build to the backend as a unit.
// s may be nil for transaction-wide requests.
func (tx *Transaction) stage(f Feature, s *Surface, build func(node wire.Node) []*wire.Request) error {
	if tx == nil {
		return ErrClosed
	}
	err := tx.session.caps.check(f)
	if err != nil {
		return err
	}

	var node wire.Node
	if s != nil {
		node, err = s.handle()
		if err != nil {
			return err
		}
	}

	tx.m.Lock()
	defer tx.m.Unlock()

	err = tx.usable()
	if err != nil {
		return err
	}

	for _, req := range build(node) {
		tx.session.log.Debug().Uint32("txn", uint32(tx.txn)).Msgf(" -> %v", req)
		tx.session.backend.Stage(tx.txn, req)
		tx.staged++
	}
	return nil
}

func (tx *Transaction) stageOne(f Feature, s *Surface, op wire.Op, args ...any) error {
	if s == nil {
		return ErrInvalidSurface
	}
	return tx.stage(f, s, func(node wire.Node) []*wire.Request {
		return []*wire.Request{wire.NewRequest(op, node).Write(args...)}
	})
}

// Reparent moves s under parent. Children of s move with it. A nil
// parent detaches s; detached surfaces are not displayed.
func (tx *Transaction) Reparent(s, parent *Surface) error {
	var pnode wire.Node
	if parent != nil {
		n, err := parent.handle()
		if err != nil {
			return fmt.Errorf("reparent: new parent: %w", err)
		}
		pnode = n
	}
	return tx.stageOne(FeatureCore, s, wire.OpReparent, pnode)
}

// SetVisibility shows or hides s and its whole subtree.
func (tx *Transaction) SetVisibility(s *Surface, v Visibility) error {
	if !v.valid() {
		return argError("SetVisibility", "visibility", v)
	}
	return tx.stageOne(FeatureCore, s, wire.OpSetVisibility, int32(v))
}

// SetZOrder sets the order of s relative to its siblings. The default
// is 0. Siblings with equal z order are stacked in an undefined order.
func (tx *Transaction) SetZOrder(s *Surface, z int32) error {
	return tx.stageOne(FeatureCore, s, wire.OpSetZOrder, z)
}

// SetBuffer sets the content of s. acquire, if not nil, must signal
// once the buffer may be read. Ownership of acquire moves into the
// transaction whether or not the call succeeds; the caller must not
// use or close it afterwards.
func (tx *Transaction) SetBuffer(s *Surface, buf *buffer.Buffer, acquire *fence.Fence) (err error) {
	defer func() {
		if err != nil {
			acquire.Close()
		}
	}()

	if buf == nil {
		return argError("SetBuffer", "buffer", buf)
	}
	if (acquire != nil) && !acquire.Valid() {
		return fmt.Errorf("SetBuffer: acquire fence: %w", fence.ErrClosed)
	}
	if s == nil {
		return ErrInvalidSurface
	}

	return tx.stage(FeatureCore, s, func(node wire.Node) []*wire.Request {
		req := wire.NewRequest(wire.OpSetBuffer, node).Write(wire.Buffer(buf))
		fd, ferr := acquire.Take()
		if ferr == nil {
			req.WriteFence(fd)
		}
		return []*wire.Request{req}
	})
}

// SetColor sets the background color of s, visible in transparent
// regions. The color components are interpreted in the given data
// space.
func (tx *Transaction) SetColor(s *Surface, r, g, b, alpha float32, space DataSpace) error {
	for _, c := range []struct {
		name string
		v    float32
	}{{"r", r}, {"g", g}, {"b", b}} {
		if !finite(c.v) {
			return argError("SetColor", c.name, c.v)
		}
	}
	if !unit(alpha) {
		return argError("SetColor", "alpha", alpha)
	}
	if !space.valid() {
		return argError("SetColor", "data space", space)
	}
	return tx.stageOne(FeatureCore, s, wire.OpSetColor, r, g, b, alpha, int32(space))
}

// SetGeometry sets the source rectangle of the buffer, the destination
// in the parent's space and a transform in one call.
//
// Deprecated: Use SetCrop, SetPosition, SetScale and
// SetBufferTransform. On API levels that provide those, SetGeometry
// stages the equivalent granular updates.
func (tx *Transaction) SetGeometry(s *Surface, src, dst Rect, transform Transform) error {
	if !nonEmpty(src) {
		return argError("SetGeometry", "source", src)
	}
	if !nonEmpty(dst) {
		return argError("SetGeometry", "destination", dst)
	}
	if !transform.valid() {
		return argError("SetGeometry", "transform", transform)
	}
	if s == nil {
		return ErrInvalidSurface
	}

	if !tx.session.caps.Has(FeatureScale) {
		return tx.stageOne(FeatureCore, s, wire.OpSetGeometry, src, dst, int32(transform))
	}

	sw, sh := src.Dx(), src.Dy()
	if transform&TransformRotate90 != 0 {
		sw, sh = sh, sw
	}
	xscale := float32(dst.Dx()) / float32(sw)
	yscale := float32(dst.Dy()) / float32(sh)

	return tx.stage(FeatureScale, s, func(node wire.Node) []*wire.Request {
		return []*wire.Request{
			wire.NewRequest(wire.OpSetCrop, node).Write(src),
			wire.NewRequest(wire.OpSetPosition, node).Write(dst.Min.X, dst.Min.Y),
			wire.NewRequest(wire.OpSetScale, node).Write(xscale, yscale),
			wire.NewRequest(wire.OpSetBufferTransform, node).Write(int32(transform)),
		}
	})
}

// SetCrop bounds s and its children to crop.
func (tx *Transaction) SetCrop(s *Surface, crop Rect) error {
	if (crop.Dx() < 0) || (crop.Dy() < 0) {
		return argError("SetCrop", "crop", crop)
	}
	return tx.stageOne(FeatureCrop, s, wire.OpSetCrop, crop)
}

// SetPosition sets where s is drawn in its parent's space.
func (tx *Transaction) SetPosition(s *Surface, x, y int32) error {
	return tx.stageOne(FeaturePosition, s, wire.OpSetPosition, x, y)
}

// SetBufferTransform sets the transform applied to the buffer after
// the crop.
func (tx *Transaction) SetBufferTransform(s *Surface, transform Transform) error {
	if !transform.valid() {
		return argError("SetBufferTransform", "transform", transform)
	}
	return tx.stageOne(FeatureBufferTransform, s, wire.OpSetBufferTransform, int32(transform))
}

// SetScale scales s around its origin. Both factors must be greater
// than zero.
func (tx *Transaction) SetScale(s *Surface, x, y float32) error {
	if !finite(x) || (x <= 0) {
		return argError("SetScale", "x scale", x)
	}
	if !finite(y) || (y <= 0) {
		return argError("SetScale", "y scale", y)
	}
	return tx.stageOne(FeatureScale, s, wire.OpSetScale, x, y)
}

// SetBufferTransparency declares how much of the buffer's content is
// opaque. Declaring opaque content that is not causes visual errors.
func (tx *Transaction) SetBufferTransparency(s *Surface, t Transparency) error {
	if !t.valid() {
		return argError("SetBufferTransparency", "transparency", t)
	}
	return tx.stageOne(FeatureCore, s, wire.OpSetBufferTransparency, int32(t))
}

// SetDamageRegion sets the region of s updated by this transaction.
// With no rectangles, the whole surface is considered damaged.
func (tx *Transaction) SetDamageRegion(s *Surface, rects ...Rect) error {
	for i, r := range rects {
		if (r.Dx() < 0) || (r.Dy() < 0) {
			return argError("SetDamageRegion", fmt.Sprintf("rect %v", i), r)
		}
	}
	return tx.stageOne(FeatureCore, s, wire.OpSetDamageRegion, append([]Rect(nil), rects...))
}

// SetDesiredPresentTime asks for the transaction to be presented at or
// after t. The transaction is still not presented before all of its
// acquire fences have signaled, and it never preempts an earlier
// transaction with a later desired time.
func (tx *Transaction) SetDesiredPresentTime(t time.Time) error {
	err := tx.stage(FeatureCore, nil, func(wire.Node) []*wire.Request {
		return []*wire.Request{wire.NewRequest(wire.OpSetDesiredPresentTime, 0).Write(t.UnixNano())}
	})
	if err == nil {
		tx.m.Lock()
		tx.present = t
		tx.m.Unlock()
	}
	return err
}

// SetBufferAlpha sets the premultiplied alpha of the buffer of s.
func (tx *Transaction) SetBufferAlpha(s *Surface, alpha float32) error {
	if !unit(alpha) {
		return argError("SetBufferAlpha", "alpha", alpha)
	}
	return tx.stageOne(FeatureCore, s, wire.OpSetBufferAlpha, alpha)
}

// SetBufferDataSpace sets the data space of the buffers of s. The
// default is DataSpaceSRGB.
func (tx *Transaction) SetBufferDataSpace(s *Surface, space DataSpace) error {
	if !space.valid() {
		return argError("SetBufferDataSpace", "data space", space)
	}
	return tx.stageOne(FeatureCore, s, wire.OpSetBufferDataSpace, int32(space))
}

// SetHdrMetadataSMPTE2086 sets mastering display metadata for the
// buffer of s. nil clears it.
func (tx *Transaction) SetHdrMetadataSMPTE2086(s *Surface, metadata *HdrMetadataSMPTE2086) error {
	if metadata != nil {
		m := *metadata
		metadata = &m
	}
	return tx.stageOne(FeatureCore, s, wire.OpSetHdrMetadataSMPTE2086, metadata)
}

// SetHdrMetadataCTA8613 sets content light level metadata for the
// buffer of s. nil clears it.
func (tx *Transaction) SetHdrMetadataCTA8613(s *Surface, metadata *HdrMetadataCTA8613) error {
	if metadata != nil {
		m := *metadata
		metadata = &m
	}
	return tx.stageOne(FeatureCore, s, wire.OpSetHdrMetadataCTA8613, metadata)
}

// SetFrameRate is SetFrameRateWithChangeStrategy with
// ChangeFrameRateOnlyIfSeamless, available from API level 30.
func (tx *Transaction) SetFrameRate(s *Surface, rate float32, compat FrameRateCompatibility) error {
	err := validateFrameRate("SetFrameRate", rate, compat)
	if err != nil {
		return err
	}
	return tx.stageOne(FeatureFrameRate, s, wire.OpSetFrameRate, rate, int32(compat))
}

// SetFrameRateWithChangeStrategy sets the intended frame rate of s in
// frames per second. A rate of 0 lets the system choose.
func (tx *Transaction) SetFrameRateWithChangeStrategy(s *Surface, rate float32, compat FrameRateCompatibility, strategy ChangeFrameRateStrategy) error {
	err := validateFrameRate("SetFrameRateWithChangeStrategy", rate, compat)
	if err != nil {
		return err
	}
	if !strategy.valid() {
		return argError("SetFrameRateWithChangeStrategy", "change strategy", strategy)
	}
	return tx.stageOne(FeatureFrameRateStrategy, s, wire.OpSetFrameRateWithChangeStrategy, rate, int32(compat), int32(strategy))
}

func validateFrameRate(op string, rate float32, compat FrameRateCompatibility) error {
	if !finite(rate) || (rate < 0) {
		return argError(op, "frame rate", rate)
	}
	if !compat.valid() {
		return argError(op, "compatibility", compat)
	}
	return nil
}

// SetEnableBackPressure requires every buffer set on s to be presented
// before it is released. By default a buffer may be dropped if a newer
// one arrives first.
func (tx *Transaction) SetEnableBackPressure(s *Surface, enable bool) error {
	return tx.stageOne(FeatureBackPressure, s, wire.OpSetEnableBackPressure, enable)
}

// SetFrameTimeline targets the frame timeline identified by id. Stale
// or unknown IDs are ignored by the compositor.
func (tx *Transaction) SetFrameTimeline(id VsyncID) error {
	return tx.stage(FeatureFrameTimeline, nil, func(wire.Node) []*wire.Request {
		return []*wire.Request{wire.NewRequest(wire.OpSetFrameTimeline, 0).Write(int64(id))}
	})
}

// Submit hands the transaction to the compositor, which applies it
// asynchronously and atomically. Transactions submitted from the same
// goroutine are applied in submission order. After Submit the
// transaction can only be closed.
func (tx *Transaction) Submit() error {
	if tx == nil {
		return ErrClosed
	}

	tx.m.Lock()
	defer tx.m.Unlock()

	err := tx.usable()
	if err != nil {
		return err
	}

	tx.state = txnSubmitted
	tx.tokens = [2]uintptr{}
	tx.session.log.Debug().
		Uint32("txn", uint32(tx.txn)).
		Int("staged", tx.staged).
		Time("present", tx.present).
		Msg("submit")
	tx.session.backend.Apply(tx.txn)
	return nil
}

// Close deletes the transaction. Callbacks of a transaction that was
// never submitted are discarded without being called. Closing a
// submitted transaction does not affect its application.
func (tx *Transaction) Close() error {
	if tx == nil {
		return ErrClosed
	}

	tx.m.Lock()
	defer tx.m.Unlock()

	if tx.state == txnClosed {
		return ErrClosed
	}
	tx.state = txnClosed

	for _, token := range tx.tokens {
		if token != 0 {
			callbacks.Drop(token)
		}
	}
	tx.tokens = [2]uintptr{}

	tx.session.backend.DeleteTransaction(tx.txn)
	return nil
}

func (tx *Transaction) String() string {
	return fmt.Sprintf("transaction@%v", uint32(tx.txn))
}

func finite(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
}

func unit(v float32) bool {
	return (v >= 0) && (v <= 1)
}

func nonEmpty(r geom.Rect[int32]) bool {
	return (r.Dx() > 0) && (r.Dy() > 0)
}
