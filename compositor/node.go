package compositor

import (
	"fmt"

	"deedles.dev/sc/internal/set"
	"deedles.dev/sc/wire"
	"deedles.dev/ximage/geom"
)

// NodeState is the applied state of one node.
type NodeState struct {
	Name   string
	Parent wire.Node
	Window wire.Window

	Visible bool
	Z       int32

	Buffer       wire.Buffer
	Crop         wire.Rect
	Position     geom.Point[int32]
	XScale       float32
	YScale       float32
	Transform    int32
	Transparency int32
	Damage       []wire.Rect
	Alpha        float32
	DataSpace    int32

	// Color is the background color as r, g, b, a. HasColor is false
	// until a color is set.
	Color          [4]float32
	ColorDataSpace int32
	HasColor       bool

	SMPTE2086 *wire.HdrMetadataSMPTE2086
	CTA8613   *wire.HdrMetadataCTA8613

	FrameRate              float32
	FrameRateCompatibility int32
	ChangeFrameRate        int32

	BackPressure bool

	// Frames counts the buffers that have been latched on the node.
	Frames int
}

type node struct {
	state    NodeState
	refs     int
	children set.Set[wire.Node]
}

func newNode(name string) *node {
	return &node{
		state: NodeState{
			Name:    name,
			Visible: true,
			XScale:  1,
			YScale:  1,
			Alpha:   1,
		},
		refs:     1,
		children: make(set.Set[wire.Node]),
	}
}

func (n *node) attached() bool {
	return (n.state.Parent != 0) || (n.state.Window != 0)
}

func (n *node) snapshot() NodeState {
	s := n.state
	s.Damage = append([]wire.Rect(nil), s.Damage...)
	return s
}

// set applies one request to n. It returns the buffer the request
// replaced, if any. It must be called with the tree lock held.
func (c *Compositor) set(id wire.Node, n *node, req *wire.Request) (wire.Buffer, error) {
	var prev wire.Buffer
	r := req.Reader()
	s := n.state

	switch req.Op() {
	case wire.OpReparent:
		parent := r.Node()
		if r.Err() != nil {
			return nil, r.Err()
		}
		return nil, c.reparent(id, n, parent)

	case wire.OpSetVisibility:
		v := r.Int32()
		s.Visible = v != 0

	case wire.OpSetZOrder:
		s.Z = r.Int32()

	case wire.OpSetBuffer:
		prev = s.Buffer
		s.Buffer = r.Buffer()
		s.Frames++

	case wire.OpSetColor:
		s.Color = [4]float32{r.Float32(), r.Float32(), r.Float32(), r.Float32()}
		s.ColorDataSpace = r.Int32()
		s.HasColor = true

	case wire.OpSetGeometry:
		src, dst := r.Rect(), r.Rect()
		transform := r.Int32()
		if r.Err() != nil {
			return nil, r.Err()
		}
		s.Crop = src
		s.Position = dst.Min
		s.Transform = transform
		sw, sh := src.Dx(), src.Dy()
		if transform&4 != 0 {
			sw, sh = sh, sw
		}
		s.XScale = float32(dst.Dx()) / float32(sw)
		s.YScale = float32(dst.Dy()) / float32(sh)

	case wire.OpSetCrop:
		s.Crop = r.Rect()

	case wire.OpSetPosition:
		x, y := r.Int32(), r.Int32()
		s.Position = geom.Pt(x, y)

	case wire.OpSetBufferTransform:
		s.Transform = r.Int32()

	case wire.OpSetScale:
		s.XScale, s.YScale = r.Float32(), r.Float32()

	case wire.OpSetBufferTransparency:
		s.Transparency = r.Int32()

	case wire.OpSetDamageRegion:
		s.Damage = r.Rects()

	case wire.OpSetBufferAlpha:
		s.Alpha = r.Float32()

	case wire.OpSetBufferDataSpace:
		s.DataSpace = r.Int32()

	case wire.OpSetHdrMetadataSMPTE2086:
		s.SMPTE2086 = r.SMPTE2086()

	case wire.OpSetHdrMetadataCTA8613:
		s.CTA8613 = r.CTA8613()

	case wire.OpSetFrameRate:
		s.FrameRate = r.Float32()
		s.FrameRateCompatibility = r.Int32()

	case wire.OpSetFrameRateWithChangeStrategy:
		s.FrameRate = r.Float32()
		s.FrameRateCompatibility = r.Int32()
		s.ChangeFrameRate = r.Int32()

	case wire.OpSetEnableBackPressure:
		s.BackPressure = r.Bool()

	default:
		return nil, wire.UnknownOpError{Op: req.Op()}
	}

	if err := r.Err(); err != nil {
		return nil, err
	}
	n.state = s
	return prev, nil
}

// reparent moves n under parent, or detaches it if parent is 0. It
// must be called with the tree lock held.
func (c *Compositor) reparent(id wire.Node, n *node, parent wire.Node) error {
	var p *node
	if parent != 0 {
		var ok bool
		p, ok = c.nodes.Get(uint32(parent))
		if !ok {
			return fmt.Errorf("reparent %v: unknown parent %v", id, parent)
		}
		for a := parent; a != 0; {
			if a == id {
				return fmt.Errorf("reparent %v: %v is a descendant", id, parent)
			}
			an, ok := c.nodes.Get(uint32(a))
			if !ok {
				break
			}
			a = an.state.Parent
		}
	}

	c.detach(id, n)
	if p != nil {
		n.state.Parent = parent
		p.children.Add(id)
	}
	return nil
}

// detach removes n from its parent or window. It must be called with
// the tree lock held.
func (c *Compositor) detach(id wire.Node, n *node) {
	if n.state.Parent != 0 {
		if p, ok := c.nodes.Get(uint32(n.state.Parent)); ok {
			p.children.Delete(id)
		}
		n.state.Parent = 0
	}
	if n.state.Window != 0 {
		if w, ok := c.windows.Get(uint32(n.state.Window)); ok {
			w.roots.Delete(id)
		}
		n.state.Window = 0
	}
}
