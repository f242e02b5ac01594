// Package wire defines the boundary between the safe surface API and
// a native compositor. It is primarily intended for use by backend
// implementations; applications use package sc instead.
//
// Values at this level follow native conventions: handles are plain
// integers with 0 as the failure sentinel, fences are raw file
// descriptors with NoFence (-1) meaning "none", and ownership is
// transferred by convention only.
package wire

import (
	"image"

	"deedles.dev/ximage/format"
	"deedles.dev/ximage/geom"
)

// NoFence is the raw descriptor value meaning "no fence" or "already
// signaled".
const NoFence = -1

// Handles to native objects. The zero value of each is the failure
// sentinel.
type (
	Window uint32
	Node   uint32
	Txn    uint32
	Stats  uint32
)

// Rect is a rectangle in buffer or parent coordinates.
type Rect = geom.Rect[int32]

// Buffer is pixel content that can be attached to a node.
type Buffer interface {
	Bounds() image.Rectangle
	Image() (*format.Image, error)
}

// Phase identifies which transaction callback is being invoked.
type Phase uint8

const (
	PhaseCommit Phase = iota + 1
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseCommit:
		return "commit"
	case PhaseComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Callback is the native callback signature. ctx is the opaque value
// that was passed to SetCallback. stats is only valid until the
// callback returns.
//
// A backend that drops an applied transaction without applying it calls
// each of its callbacks once with a stats of 0 so that the owner of ctx
// can free it.
type Callback func(ctx uintptr, stats Stats)

// XY is a chromaticity coordinate.
type XY struct {
	X, Y float32
}

// HdrMetadataSMPTE2086 is SMPTE ST 2086 "Mastering Display Color
// Volume" static metadata.
type HdrMetadataSMPTE2086 struct {
	DisplayPrimaryRed   XY
	DisplayPrimaryGreen XY
	DisplayPrimaryBlue  XY
	WhitePoint          XY
	MaxLuminance        float32
	MinLuminance        float32
}

// HdrMetadataCTA8613 is CTA 861.3 "HDR Static Metadata Extension"
// static metadata.
type HdrMetadataCTA8613 struct {
	MaxContentLightLevel      float32
	MaxFrameAverageLightLevel float32
}

// Backend is a native compositor.
//
// Staging calls give no feedback. Apply is asynchronous: the backend
// applies transactions applied from the same goroutine in order and
// invokes registered callbacks from a goroutine of its own.
type Backend interface {
	// Level returns the platform API level.
	Level() int

	CreateFromWindow(parent Window, name string) Node
	Create(parent Node, name string) Node
	Acquire(node Node)
	Release(node Node)

	CreateTransaction() Txn
	DeleteTransaction(txn Txn)
	Stage(txn Txn, req *Request)
	SetCallback(txn Txn, phase Phase, cb Callback, ctx uintptr)
	Apply(txn Txn)

	LatchTime(stats Stats) int64
	PresentFenceFd(stats Stats) int
	Surfaces(stats Stats) []Node
	ReleaseSurfaces(nodes []Node)
	AcquireTime(stats Stats, node Node) int64
	PreviousReleaseFenceFd(stats Stats, node Node) int
}
