// Package bin contains utilities for dealing with binary representations.
package bin

import (
	"io"
	"unsafe"
)

// Word is the set of fixed-size integers the package can handle.
type Word interface {
	~int32 | ~uint32 | ~int64 | ~uint64
}

func Bytes[T Word](v T) []byte {
	b := make([]byte, unsafe.Sizeof(v))
	copy(b, unsafe.Slice((*byte)(unsafe.Pointer(&v)), len(b)))
	return b
}

func Value[T Word](data []byte) (v T) {
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&v)), unsafe.Sizeof(v)), data)
	return v
}

func Read[T Word](r io.Reader) (T, error) {
	var v T
	data := make([]byte, unsafe.Sizeof(v))
	_, err := io.ReadFull(r, data)
	if err != nil {
		return 0, err
	}

	return Value[T](data), nil
}

func Write[T Word](w io.Writer, v T) error {
	data := Bytes(v)
	n, err := w.Write(data)
	if (err == nil) && (n < len(data)) {
		return io.ErrShortWrite
	}
	return err
}
