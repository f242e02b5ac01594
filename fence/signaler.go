package fence

import (
	"fmt"
	"sync"

	"deedles.dev/sc/internal/bin"
	"golang.org/x/sys/unix"
)

// Signaler is the producing side of a fence created by New.
type Signaler struct {
	m      sync.Mutex
	fd     int
	signal sync.Once
}

// New creates an unsignaled fence backed by an eventfd together with
// the Signaler that signals it. Duplicates of the fence signal along
// with it.
func New() (*Fence, *Signaler, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, nil, fmt.Errorf("create eventfd: %w", err)
	}

	sfd, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		unix.Close(fd)
		return nil, nil, fmt.Errorf("dup eventfd: %w", err)
	}

	return FromRaw(fd), &Signaler{fd: sfd}, nil
}

// Signal marks the fence as signaled. Only the first call has any
// effect.
func (s *Signaler) Signal() (err error) {
	s.signal.Do(func() {
		s.m.Lock()
		defer s.m.Unlock()

		if s.fd < 0 {
			err = ErrClosed
			return
		}
		_, err = unix.Write(s.fd, bin.Bytes(uint64(1)))
		if err != nil {
			err = fmt.Errorf("signal fence: %w", err)
		}
	})
	return err
}

// Close releases the signaler's descriptor. It does not signal the
// fence.
func (s *Signaler) Close() error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.fd < 0 {
		return ErrClosed
	}
	fd := s.fd
	s.fd = None
	return unix.Close(fd)
}
