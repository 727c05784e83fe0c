// Package buffer implements a grow-on-demand byte region with two
// cursors, used as the per-connection read/write staging area.
//
// The readable region is [readPos, writePos), the writable tail is
// [writePos, len(buf)), and the prependable prefix is [0, readPos).
package buffer

import (
	"errors"

	"golang.org/x/sys/unix"
)

const (
	defaultSize     = 1024
	scratchReadSize = 64 * 1024
)

// ErrShortRetrieve is the value Retrieve/RetrieveUntil panic with when
// the requested advance exceeds the readable region.
var ErrShortRetrieve = errors.New("buffer: retrieve exceeds readable bytes")

// Buffer is a single owned byte region with a read cursor and a write
// cursor. The zero value is not usable; construct with New.
type Buffer struct {
	buf      []byte
	readPos  int
	writePos int
}

// New returns a Buffer with the given initial capacity.
func New(initSize int) *Buffer {
	if initSize <= 0 {
		initSize = defaultSize
	}
	return &Buffer{buf: make([]byte, initSize)}
}

// Readable returns the number of bytes available to read.
func (b *Buffer) Readable() int { return b.writePos - b.readPos }

// Writable returns the number of bytes available to write without growing.
func (b *Buffer) Writable() int { return len(b.buf) - b.writePos }

// Prependable returns the number of bytes before the read cursor.
func (b *Buffer) Prependable() int { return b.readPos }

// Peek returns the readable region without consuming it.
func (b *Buffer) Peek() []byte { return b.buf[b.readPos:b.writePos] }

// Retrieve advances the read cursor by n bytes.
func (b *Buffer) Retrieve(n int) {
	if n > b.Readable() {
		panic(ErrShortRetrieve)
	}
	b.readPos += n
}

// RetrieveUntil advances the read cursor up to (but not past) the given
// index within the readable region, counted from the start of the
// readable slice returned by Peek.
func (b *Buffer) RetrieveUntil(offset int) {
	b.Retrieve(offset)
}

// RetrieveAll resets both cursors, discarding all buffered content.
func (b *Buffer) RetrieveAll() {
	b.readPos = 0
	b.writePos = 0
}

// RetrieveAllString drains the readable region into a string.
func (b *Buffer) RetrieveAllString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// EnsureWritable guarantees Writable() >= n, compacting in place when the
// combined writable tail and prependable prefix suffice, otherwise
// growing the backing array.
func (b *Buffer) EnsureWritable(n int) {
	if b.Writable() >= n {
		return
	}
	if b.Writable()+b.Prependable() >= n {
		readable := b.Readable()
		copy(b.buf, b.buf[b.readPos:b.writePos])
		b.readPos = 0
		b.writePos = readable
		return
	}
	grown := make([]byte, b.writePos+n+1)
	copy(grown, b.buf[:b.writePos])
	b.buf = grown
}

// Append copies data into the writable tail, growing as needed.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	n := copy(b.buf[b.writePos:], data)
	b.writePos += n
}

// AppendString is a convenience wrapper around Append.
func (b *Buffer) AppendString(s string) {
	b.Append([]byte(s))
}

// ReadFd performs a scatter read from fd: the writable tail is the first
// iovec, a 64KiB scratch buffer is the second. This bounds the syscall
// count to one per readiness event even when the caller's buffer is
// nearly full. If the kernel fills no more than the writable tail, only
// the write cursor advances; any overflow into the scratch buffer is
// copied in via Append.
func (b *Buffer) ReadFd(fd int) (int, error) {
	var scratch [scratchReadSize]byte
	tail := b.buf[b.writePos:]
	iovs := [][]byte{tail, scratch[:]}

	n, err := unix.Readv(fd, iovs)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	if n <= len(tail) {
		b.writePos += n
		return n, nil
	}

	b.writePos += len(tail)
	overflow := n - len(tail)
	b.Append(scratch[:overflow])
	return n, nil
}

// WriteFd writes the readable region to fd in a single write(2) call,
// advancing the read cursor by the number of bytes accepted.
func (b *Buffer) WriteFd(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if n > 0 {
		b.readPos += n
	}
	return n, err
}

// IsEAGAIN reports whether err signals "no more data/space right now"
// rather than a hard failure.
func IsEAGAIN(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
