//go:build linux

package netpoll

import (
	"sync"

	"golang.org/x/sys/unix"
)

const maxEvents = 1024

// epollNotifier implements Notifier over epoll(7).
type epollNotifier struct {
	epfd int

	mu     sync.Mutex
	closed bool

	events [maxEvents]unix.EpollEvent
}

// New creates an epoll-backed Notifier.
func New() (Notifier, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmtErr("epoll_create1", -1, err)
	}
	return &epollNotifier{epfd: epfd}, nil
}

// eventMask translates a (want, mode) pair into epoll's bitmask. We
// always also watch EPOLLRDHUP so peer hangups surface as their own
// event even when the caller only asked for Readable.
func eventMask(want Event, mode ArmMode) uint32 {
	ev := uint32(unix.EPOLLRDHUP)
	if want&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if want&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	if mode&EdgeTriggered != 0 {
		ev |= unix.EPOLLET
	}
	if mode&OneShot != 0 {
		ev |= unix.EPOLLONESHOT
	}
	return ev
}

func (n *epollNotifier) Add(fd int, want Event, mode ArmMode) error {
	ev := &unix.EpollEvent{Fd: int32(fd), Events: eventMask(want, mode)}
	if err := unix.EpollCtl(n.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return fmtErr("epoll_ctl_add", fd, err)
	}
	return nil
}

func (n *epollNotifier) Modify(fd int, want Event, mode ArmMode) error {
	ev := &unix.EpollEvent{Fd: int32(fd), Events: eventMask(want, mode)}
	if err := unix.EpollCtl(n.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return fmtErr("epoll_ctl_mod", fd, err)
	}
	return nil
}

func (n *epollNotifier) Remove(fd int) error {
	if err := unix.EpollCtl(n.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmtErr("epoll_ctl_del", fd, err)
	}
	return nil
}

func (n *epollNotifier) Wait(timeoutMs int) ([]Readiness, error) {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return nil, ErrClosed{}
	}

	count, err := unix.EpollWait(n.epfd, n.events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmtErr("epoll_wait", n.epfd, err)
	}

	out := make([]Readiness, 0, count)
	for i := 0; i < count; i++ {
		ev := n.events[i]
		var e Event
		if ev.Events&unix.EPOLLIN != 0 {
			e |= Readable
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			e |= Writable
		}
		if ev.Events&unix.EPOLLRDHUP != 0 {
			e |= PeerHangup
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			e |= Error
		}
		out = append(out, Readiness{Fd: int(ev.Fd), Events: e})
	}
	return out, nil
}

func (n *epollNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()
	return unix.Close(n.epfd)
}
