// Package fence wraps OS synchronization fences in single-owner
// values.
//
// A fence is a file descriptor that becomes readable when the GPU or
// compositor operation it represents has completed. The absent fence,
// which the native layer spells -1, is a nil *Fence. All methods are
// safe to call on a nil *Fence.
package fence

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// None is the raw descriptor value meaning "no fence" or "already
// signaled".
const None = -1

// pollSlice bounds a single poll so that Wait notices cancellation.
const pollSlice = 50 * time.Millisecond

var (
	// ErrClosed is returned when a fence is used after it has been
	// closed or its ownership has been transferred elsewhere.
	ErrClosed = errors.New("fence: closed or transferred")
)

// Fence owns one fence descriptor.
type Fence struct {
	m  sync.Mutex
	fd int
}

// FromRaw takes ownership of fd. A negative fd yields nil.
func FromRaw(fd int) *Fence {
	if fd < 0 {
		return nil
	}

	f := &Fence{fd: fd}
	runtime.SetFinalizer(f, (*Fence).Close)
	return f
}

// Valid reports whether f currently owns a descriptor.
func (f *Fence) Valid() bool {
	if f == nil {
		return false
	}

	f.m.Lock()
	defer f.m.Unlock()
	return f.fd >= 0
}

// Fd returns the descriptor without transferring ownership, or None.
func (f *Fence) Fd() int {
	if f == nil {
		return None
	}

	f.m.Lock()
	defer f.m.Unlock()
	return f.fd
}

func (f *Fence) take() (int, error) {
	f.m.Lock()
	defer f.m.Unlock()

	if f.fd < 0 {
		return None, ErrClosed
	}
	fd := f.fd
	f.fd = None
	runtime.SetFinalizer(f, nil)
	return fd, nil
}

// Take transfers ownership of the descriptor to the caller. A nil
// fence yields None. After Take, f is no longer valid.
func (f *Fence) Take() (int, error) {
	if f == nil {
		return None, nil
	}
	return f.take()
}

// Close releases the descriptor. Closing a fence twice returns
// ErrClosed. Closing a nil fence does nothing.
func (f *Fence) Close() error {
	if f == nil {
		return nil
	}

	fd, err := f.take()
	if err != nil {
		return err
	}
	return unix.Close(fd)
}

// Dup returns a new fence that independently owns a duplicate of the
// descriptor.
func (f *Fence) Dup() (*Fence, error) {
	if f == nil {
		return nil, nil
	}

	f.m.Lock()
	defer f.m.Unlock()

	if f.fd < 0 {
		return nil, ErrClosed
	}
	fd, err := unix.FcntlInt(uintptr(f.fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("dup fence: %w", err)
	}
	return FromRaw(fd), nil
}

func (f *Fence) poll(timeout time.Duration) (bool, error) {
	f.m.Lock()
	defer f.m.Unlock()

	if f.fd < 0 {
		return false, ErrClosed
	}

	fds := []unix.PollFd{{Fd: int32(f.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, int(timeout.Milliseconds()))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("poll fence: %w", err)
		}
		return (n > 0) && (fds[0].Revents&unix.POLLIN != 0), nil
	}
}

// Signaled reports whether the fence has signaled without blocking. A
// nil fence is always signaled.
func (f *Fence) Signaled() (bool, error) {
	if f == nil {
		return true, nil
	}
	return f.poll(0)
}

// Wait blocks until the fence signals or ctx is done.
func (f *Fence) Wait(ctx context.Context) error {
	if f == nil {
		return nil
	}

	for {
		ok, err := f.poll(pollSlice)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (f *Fence) String() string {
	fd := f.Fd()
	if fd < 0 {
		return "fence(none)"
	}
	return fmt.Sprintf("fence(%v)", fd)
}
