package compositor

import (
	"image"
	"image/color"

	"deedles.dev/sc/internal/xslices"
	"deedles.dev/sc/wire"
	"golang.org/x/image/draw"
)

// Render composes the visible surfaces of a window into an image. It
// returns nil if the window does not exist.
func (c *Compositor) Render(win wire.Window) *image.RGBA {
	c.m.Lock()
	defer c.m.Unlock()

	w, ok := c.windows.Get(uint32(win))
	if !ok {
		return nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, w.w, w.h))
	for _, id := range xslices.Filter(c.sorted(w.roots), c.visible) {
		c.render(dst, id, image.Point{})
	}
	return dst
}

// render draws a node and its subtree. origin is the position of the
// parent in window space. It must be called with c.m held.
func (c *Compositor) render(dst *image.RGBA, id wire.Node, origin image.Point) {
	n, _ := c.nodes.Get(uint32(id))
	s := &n.state
	pos := origin.Add(s.Position.ImagePoint())

	if s.HasColor && (s.Color[3] > 0) {
		area := dst.Bounds()
		if !s.Crop.Empty() {
			area = s.Crop.ImageRect().Add(pos)
		}
		draw.Draw(dst, area, image.NewUniform(colorOf(s.Color)), image.Point{}, draw.Over)
	}

	if s.Buffer != nil {
		c.renderBuffer(dst, s, pos)
	}

	for _, child := range xslices.Filter(c.sorted(n.children), c.visible) {
		c.render(dst, child, pos)
	}
}

func (c *Compositor) visible(id wire.Node) bool {
	n, ok := c.nodes.Get(uint32(id))
	return ok && n.state.Visible
}

func (c *Compositor) renderBuffer(dst *image.RGBA, s *NodeState, pos image.Point) {
	src, err := s.Buffer.Image()
	if err != nil {
		c.log.Warn().Err(err).Str("surface", s.Name).Msg("buffer not drawable")
		return
	}

	var img image.Image = src
	sr := src.Bounds()
	if !s.Crop.Empty() {
		sr = sr.Intersect(s.Crop.ImageRect())
	}
	if sr.Empty() {
		return
	}
	if s.Transform != 0 {
		img, sr = transformed(img, sr, s.Transform)
	}

	size := sr.Size()
	dr := image.Rectangle{
		Min: pos,
		Max: pos.Add(image.Pt(
			int(float32(size.X)*s.XScale),
			int(float32(size.Y)*s.YScale),
		)),
	}

	var opts *draw.Options
	if s.Alpha < 1 {
		opts = &draw.Options{
			SrcMask: image.NewUniform(color.Alpha{A: unorm(s.Alpha)}),
		}
	}

	var scaler draw.Scaler = draw.NearestNeighbor
	if (dr.Dx() < size.X) || (dr.Dy() < size.Y) {
		scaler = draw.ApproxBiLinear
	}
	scaler.Scale(dst, dr, img, sr, draw.Over, opts)
}

// transformed applies a buffer transform to the sr portion of src.
// Mirroring happens before rotation.
func transformed(src image.Image, sr image.Rectangle, t int32) (*image.RGBA, image.Rectangle) {
	w, h := sr.Dx(), sr.Dy()
	ow, oh := w, h
	if t&4 != 0 {
		ow, oh = h, w
	}

	out := image.NewRGBA(image.Rect(0, 0, ow, oh))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := x, y
			if t&1 != 0 {
				sx = w - 1 - x
			}
			if t&2 != 0 {
				sy = h - 1 - y
			}

			dx, dy := x, y
			if t&4 != 0 {
				dx, dy = h-1-y, x
			}
			out.Set(dx, dy, src.At(sr.Min.X+sx, sr.Min.Y+sy))
		}
	}
	return out, out.Bounds()
}

func colorOf(c [4]float32) color.NRGBA {
	return color.NRGBA{
		R: unorm(c[0]),
		G: unorm(c[1]),
		B: unorm(c[2]),
		A: unorm(c[3]),
	}
}

func unorm(v float32) uint8 {
	return uint8(min(max(v, 0), 1)*255 + 0.5)
}
