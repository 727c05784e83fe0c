// Package netpoll is a thin wrapper over the OS scalable I/O
// multiplexer, grounded on the same add/mod/del/wait surface as the
// original C++ epoller and on the epoll_create1/epoll_ctl/epoll_wait
// call sequence shown in the raw-epoll reference server, but expressed
// with golang.org/x/sys/unix instead of bare syscall numbers so the
// event bit constants (EPOLLIN, EPOLLOUT, EPOLLRDHUP, EPOLLONESHOT,
// EPOLLET) are named rather than magic numbers.
package netpoll

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Event is a bitmask of readiness conditions delivered by Wait.
type Event uint32

const (
	Readable Event = 1 << iota
	Writable
	PeerHangup
	Error
)

// ArmMode configures the two optional bits from spec.md §4.4.
type ArmMode uint32

const (
	// LevelTriggered delivers readiness for as long as the condition holds.
	LevelTriggered ArmMode = 0
	// EdgeTriggered delivers readiness once per 0->1 transition; the
	// consumer must drain to EAGAIN.
	EdgeTriggered ArmMode = 1 << iota
	// OneShot disarms the registration after one delivery; it must be
	// re-armed with Modify before further events are delivered.
	OneShot
)

// Readiness is one (fd, events) pair returned by Wait.
type Readiness struct {
	Fd     int
	Events Event
}

// Notifier is the multiplexer surface the reactor depends on. want is
// the set of Readable/Writable directions of interest; mode carries the
// EdgeTriggered/OneShot configuration bits.
type Notifier interface {
	Add(fd int, want Event, mode ArmMode) error
	Modify(fd int, want Event, mode ArmMode) error
	Remove(fd int) error
	Wait(timeoutMs int) ([]Readiness, error)
	Close() error
}

// ErrClosed is returned by Wait after Close.
type ErrClosed struct{}

func (ErrClosed) Error() string { return "netpoll: notifier closed" }

func fmtErr(op string, fd int, err error) error {
	return fmt.Errorf("netpoll: %s(fd=%d): %w", op, fd, err)
}

// IsEAGAIN reports whether err signals "try again later" on a
// non-blocking socket operation such as accept, read, or write,
// rather than a hard failure.
func IsEAGAIN(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
