// Package buffer allocates shared pixel buffers that can be attached
// to surfaces.
package buffer

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"deedles.dev/sc/shm"
	"deedles.dev/ximage/format"
	"golang.org/x/sys/unix"
)

// ErrClosed is returned when a closed buffer is used.
var ErrClosed = errors.New("buffer: closed")

// Buffer is a shared-memory ARGB8888 pixel buffer.
type Buffer struct {
	m    sync.RWMutex
	w, h int
	file *os.File
	mmap shm.Mmap
}

// New allocates a w by h buffer. All pixels start fully transparent.
func New(w, h int) (buf *Buffer, err error) {
	if (w <= 0) || (h <= 0) {
		return nil, fmt.Errorf("invalid buffer size %vx%v", w, h)
	}

	buf = &Buffer{w: w, h: h}
	defer func() {
		if err != nil {
			buf.Close()
			buf = nil
		}
	}()

	file, err := shm.Create("sc-buffer", int64(buf.Len()))
	if err != nil {
		return buf, fmt.Errorf("create SHM file: %w", err)
	}
	buf.file = file

	mmap, err := shm.Map(file, buf.Len(), unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		return buf, fmt.Errorf("mmap SHM file: %w", err)
	}
	buf.mmap = mmap

	return buf, nil
}

func (buf *Buffer) Stride() int {
	return buf.w * format.ARGB8888.Size()
}

func (buf *Buffer) Len() int {
	return buf.Stride() * buf.h
}

func (buf *Buffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, buf.w, buf.h)
}

// Image returns a view of the buffer's pixels. The view is invalid
// after the buffer is closed.
func (buf *Buffer) Image() (*format.Image, error) {
	buf.m.RLock()
	defer buf.m.RUnlock()

	if buf.mmap == nil {
		return nil, ErrClosed
	}

	return &format.Image{
		Format: format.ARGB8888,
		Rect:   buf.Bounds(),
		Pix:    buf.mmap,
	}, nil
}

// File returns the shared memory file backing the buffer.
func (buf *Buffer) File() *os.File {
	return buf.file
}

// Close unmaps and closes the buffer.
func (buf *Buffer) Close() error {
	buf.m.Lock()
	defer buf.m.Unlock()

	var errs []error
	if buf.mmap != nil {
		errs = append(errs, buf.mmap.Unmap())
		buf.mmap = nil
	}
	if buf.file != nil {
		errs = append(errs, buf.file.Close())
		buf.file = nil
	}
	return errors.Join(errs...)
}
