//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package netpoll

import (
	"sync"

	"golang.org/x/sys/unix"
)

const maxEvents = 1024

// kqueueNotifier gives the non-Linux packages in this module something
// to build and test against. Producing the mmap-backed response body is
// a Linux/POSIX feature this repo targets via epoll in production; this
// backend exists so the rest of the tree is portable enough to run its
// unit tests on a developer's mac, not as a production deployment target.
type kqueueNotifier struct {
	kq int

	mu     sync.Mutex
	closed bool
	armed  map[int]ArmMode
}

// New creates a kqueue-backed Notifier.
func New() (Notifier, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmtErr("kqueue", -1, err)
	}
	return &kqueueNotifier{kq: kq, armed: make(map[int]ArmMode)}, nil
}

func kevFlags(mode ArmMode) uint16 {
	flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
	if mode&OneShot != 0 {
		flags |= unix.EV_ONESHOT
	}
	if mode&EdgeTriggered != 0 {
		flags |= unix.EV_CLEAR
	}
	return flags
}

func (n *kqueueNotifier) changeList(fd int, want Event, mode ArmMode) []unix.Kevent_t {
	flags := kevFlags(mode)
	var changes []unix.Kevent_t
	if want&Readable != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if want&Writable != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return changes
}

func (n *kqueueNotifier) Add(fd int, want Event, mode ArmMode) error {
	n.mu.Lock()
	n.armed[fd] = mode
	n.mu.Unlock()
	changes := n.changeList(fd, want, mode)
	if _, err := unix.Kevent(n.kq, changes, nil, nil); err != nil {
		return fmtErr("kevent_add", fd, err)
	}
	return nil
}

func (n *kqueueNotifier) Modify(fd int, want Event, mode ArmMode) error {
	return n.Add(fd, want, mode)
}

func (n *kqueueNotifier) Remove(fd int) error {
	n.mu.Lock()
	delete(n.armed, fd)
	n.mu.Unlock()
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	// best-effort: either filter may not have been registered
	unix.Kevent(n.kq, changes, nil, nil)
	return nil
}

func (n *kqueueNotifier) Wait(timeoutMs int) ([]Readiness, error) {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return nil, ErrClosed{}
	}

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * int64(1000000))
		ts = &t
	}

	events := make([]unix.Kevent_t, maxEvents)
	count, err := unix.Kevent(n.kq, nil, events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmtErr("kevent_wait", n.kq, err)
	}

	byFd := make(map[int]Event, count)
	for i := 0; i < count; i++ {
		ev := events[i]
		fd := int(ev.Ident)
		e := byFd[fd]
		switch ev.Filter {
		case unix.EVFILT_READ:
			e |= Readable
		case unix.EVFILT_WRITE:
			e |= Writable
		}
		if ev.Flags&unix.EV_EOF != 0 {
			e |= PeerHangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			e |= Error
		}
		byFd[fd] = e
	}

	out := make([]Readiness, 0, len(byFd))
	for fd, e := range byFd {
		out = append(out, Readiness{Fd: fd, Events: e})
	}
	return out, nil
}

func (n *kqueueNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()
	return unix.Close(n.kq)
}
