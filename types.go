package sc

import (
	"deedles.dev/sc/wire"
)

// Rect is a rectangle in buffer or parent coordinates.
type Rect = wire.Rect

type (
	HdrMetadataSMPTE2086 = wire.HdrMetadataSMPTE2086
	HdrMetadataCTA8613   = wire.HdrMetadataCTA8613
	XY                   = wire.XY
)

// VsyncID identifies a frame timeline obtained from the display's
// vsync source.
type VsyncID int64

// Visibility is the parameter for Transaction.SetVisibility.
type Visibility int8

const (
	VisibilityHide Visibility = iota
	VisibilityShow
)

func (v Visibility) valid() bool {
	return (v == VisibilityHide) || (v == VisibilityShow)
}

func (v Visibility) String() string {
	switch v {
	case VisibilityHide:
		return "hide"
	case VisibilityShow:
		return "show"
	}
	return "unknown"
}

// Transparency is the parameter for
// Transaction.SetBufferTransparency.
type Transparency int8

const (
	TransparencyTransparent Transparency = iota
	TransparencyTranslucent
	TransparencyOpaque
)

func (t Transparency) valid() bool {
	return (t >= TransparencyTransparent) && (t <= TransparencyOpaque)
}

func (t Transparency) String() string {
	switch t {
	case TransparencyTransparent:
		return "transparent"
	case TransparencyTranslucent:
		return "translucent"
	case TransparencyOpaque:
		return "opaque"
	}
	return "unknown"
}

// Transform is a bitmask of buffer transforms, applied after the
// crop.
type Transform int32

const (
	TransformIdentity         Transform = 0
	TransformMirrorHorizontal Transform = 0x01
	TransformMirrorVertical   Transform = 0x02
	TransformRotate90         Transform = 0x04
	TransformRotate180                  = TransformMirrorHorizontal | TransformMirrorVertical
	TransformRotate270                  = TransformRotate180 | TransformRotate90

	transformMask = TransformMirrorHorizontal | TransformMirrorVertical | TransformRotate90
)

func (t Transform) valid() bool {
	return t&^transformMask == 0
}

// DataSpace describes how buffer or color values are to be
// interpreted.
type DataSpace int32

const (
	DataSpaceUnknown     DataSpace = 0
	DataSpaceSRGBLinear  DataSpace = 138477568
	DataSpaceSRGB        DataSpace = 142671872
	DataSpaceDisplayP3   DataSpace = 143261696
	DataSpaceBT2020      DataSpace = 147193856
	DataSpaceAdobeRGB    DataSpace = 151715840
	DataSpaceDCIP3       DataSpace = 155844608
	DataSpaceBT2020PQ    DataSpace = 163971072
	DataSpaceBT709       DataSpace = 281083904
	DataSpaceSCRGBLinear DataSpace = 406913024
	DataSpaceSCRGB       DataSpace = 411107328
)

func (d DataSpace) valid() bool {
	switch d {
	case DataSpaceUnknown,
		DataSpaceSRGBLinear,
		DataSpaceSRGB,
		DataSpaceDisplayP3,
		DataSpaceBT2020,
		DataSpaceAdobeRGB,
		DataSpaceDCIP3,
		DataSpaceBT2020PQ,
		DataSpaceBT709,
		DataSpaceSCRGBLinear,
		DataSpaceSCRGB:
		return true
	}
	return false
}

// FrameRateCompatibility hints how the compositor should treat a
// requested frame rate.
type FrameRateCompatibility int8

const (
	// FrameRateCompatibilityDefault is for content that can tolerate
	// pulldown, such as games or animations.
	FrameRateCompatibilityDefault FrameRateCompatibility = iota

	// FrameRateCompatibilityFixedSource is for content with an exact
	// source rate, such as video.
	FrameRateCompatibilityFixedSource
)

func (c FrameRateCompatibility) valid() bool {
	return (c == FrameRateCompatibilityDefault) || (c == FrameRateCompatibilityFixedSource)
}

// ChangeFrameRateStrategy controls whether refresh rate changes caused
// by a surface must be seamless.
type ChangeFrameRateStrategy int8

const (
	ChangeFrameRateOnlyIfSeamless ChangeFrameRateStrategy = iota
	ChangeFrameRateAlways
)

func (s ChangeFrameRateStrategy) valid() bool {
	return (s == ChangeFrameRateOnlyIfSeamless) || (s == ChangeFrameRateAlways)
}
