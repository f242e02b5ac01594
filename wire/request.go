package wire

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Op is a staging opcode.
type Op uint16

const (
	OpReparent Op = iota
	OpSetVisibility
	OpSetZOrder
	OpSetBuffer
	OpSetColor
	OpSetGeometry
	OpSetCrop
	OpSetPosition
	OpSetBufferTransform
	OpSetScale
	OpSetBufferTransparency
	OpSetDamageRegion
	OpSetDesiredPresentTime
	OpSetBufferAlpha
	OpSetBufferDataSpace
	OpSetHdrMetadataSMPTE2086
	OpSetHdrMetadataCTA8613
	OpSetFrameRate
	OpSetFrameRateWithChangeStrategy
	OpSetEnableBackPressure
	OpSetFrameTimeline
	opCount
)

var opNames = [...]string{
	OpReparent:                       "reparent",
	OpSetVisibility:                  "setVisibility",
	OpSetZOrder:                      "setZOrder",
	OpSetBuffer:                      "setBuffer",
	OpSetColor:                       "setColor",
	OpSetGeometry:                    "setGeometry",
	OpSetCrop:                        "setCrop",
	OpSetPosition:                    "setPosition",
	OpSetBufferTransform:             "setBufferTransform",
	OpSetScale:                       "setScale",
	OpSetBufferTransparency:          "setBufferTransparency",
	OpSetDamageRegion:                "setDamageRegion",
	OpSetDesiredPresentTime:          "setDesiredPresentTime",
	OpSetBufferAlpha:                 "setBufferAlpha",
	OpSetBufferDataSpace:             "setBufferDataSpace",
	OpSetHdrMetadataSMPTE2086:        "setHdrMetadata_smpte2086",
	OpSetHdrMetadataCTA8613:          "setHdrMetadata_cta861_3",
	OpSetFrameRate:                   "setFrameRate",
	OpSetFrameRateWithChangeStrategy: "setFrameRateWithChangeStrategy",
	OpSetEnableBackPressure:          "setEnableBackPressure",
	OpSetFrameTimeline:               "setFrameTimeline",
}

func (op Op) String() string {
	if op < opCount {
		return opNames[op]
	}
	return "op(" + strconv.FormatUint(uint64(op), 10) + ")"
}

// Request is one staged operation. It is built by the safe layer and
// consumed by a Backend, similar to a protocol message.
type Request struct {
	op   Op
	node Node
	args []any
	fd   int
}

// NewRequest starts a request for op targeting node. Requests that
// apply to the whole transaction use node 0.
func NewRequest(op Op, node Node) *Request {
	return &Request{
		op:   op,
		node: node,
		fd:   NoFence,
	}
}

func (r *Request) Op() Op {
	return r.op
}

func (r *Request) Node() Node {
	return r.node
}

// Args returns the request's arguments in call order.
func (r *Request) Args() []any {
	return r.args
}

// Write appends arguments to the request.
func (r *Request) Write(args ...any) *Request {
	r.args = append(r.args, args...)
	return r
}

// WriteFence attaches fd to the request. Ownership of fd moves into
// the request; a request holds at most one fence.
func (r *Request) WriteFence(fd int) *Request {
	if fd < 0 {
		return r
	}

	if r.fd >= 0 {
		unix.Close(r.fd)
	} else {
		runtime.SetFinalizer(r, (*Request).Close)
	}
	r.fd = fd
	return r
}

// TakeFence transfers ownership of the request's fence to the caller.
// It returns NoFence if the request carries none.
func (r *Request) TakeFence() int {
	fd := r.fd
	r.fd = NoFence
	runtime.SetFinalizer(r, nil)
	return fd
}

// Close releases a fence that was never taken.
func (r *Request) Close() error {
	fd := r.TakeFence()
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

// Reader returns a sequential reader over the request's arguments.
func (r *Request) Reader() *ArgReader {
	return &ArgReader{req: r}
}

func (r *Request) String() string {
	args := make([]string, 0, len(r.args)+1)
	for _, arg := range r.args {
		switch arg := arg.(type) {
		case string:
			args = append(args, strconv.Quote(arg))
		case Rect:
			args = append(args, fmt.Sprintf("[%v,%v %v,%v]", arg.Min.X, arg.Min.Y, arg.Max.X, arg.Max.Y))
		case Buffer:
			args = append(args, fmt.Sprintf("buffer%v", arg.Bounds().Size()))
		default:
			args = append(args, fmt.Sprint(arg))
		}
	}
	if r.fd >= 0 {
		args = append(args, fmt.Sprintf("fd %v", r.fd))
	}

	target := "txn"
	if r.node != 0 {
		target = fmt.Sprintf("node@%v", uint32(r.node))
	}
	return fmt.Sprintf("%v.%v(%v)", target, r.op, strings.Join(args, ", "))
}

// ArgReader reads a request's arguments in order. The first mismatch
// is recorded and every subsequent read returns a zero value.
type ArgReader struct {
	req   *Request
	index int
	err   error
}

func (r *ArgReader) Err() error {
	return r.err
}

func (r *ArgReader) next(want string) any {
	if r.err != nil {
		return nil
	}
	if r.index >= len(r.req.args) {
		r.err = ArgError{Op: r.req.op, Index: r.index, Want: want}
		return nil
	}

	v := r.req.args[r.index]
	r.index++
	return v
}

func read[T any](r *ArgReader, want string) (v T) {
	arg := r.next(want)
	if r.err != nil {
		return v
	}

	v, ok := arg.(T)
	if !ok {
		r.err = ArgError{Op: r.req.op, Index: r.index - 1, Want: want, Got: arg}
	}
	return v
}

func (r *ArgReader) Int32() int32     { return read[int32](r, "int32") }
func (r *ArgReader) Int64() int64     { return read[int64](r, "int64") }
func (r *ArgReader) Uint32() uint32   { return read[uint32](r, "uint32") }
func (r *ArgReader) Float32() float32 { return read[float32](r, "float32") }
func (r *ArgReader) Bool() bool       { return read[bool](r, "bool") }
func (r *ArgReader) Node() Node       { return read[Node](r, "node") }
func (r *ArgReader) Rect() Rect       { return read[Rect](r, "rect") }
func (r *ArgReader) Rects() []Rect    { return read[[]Rect](r, "rects") }
func (r *ArgReader) Buffer() Buffer   { return read[Buffer](r, "buffer") }

func (r *ArgReader) SMPTE2086() *HdrMetadataSMPTE2086 {
	return read[*HdrMetadataSMPTE2086](r, "smpte2086")
}

func (r *ArgReader) CTA8613() *HdrMetadataCTA8613 {
	return read[*HdrMetadataCTA8613](r, "cta861_3")
}
