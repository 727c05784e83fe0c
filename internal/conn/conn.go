// Package conn ties together the per-connection byte buffers, HTTP
// parser, and response builder behind an explicit state machine,
// grounded on httpconn.h/.cpp's read/process/write/close sequence.
//
// The original embeds both buffers and the writev iovec pair directly
// on the connection struct regardless of what it is doing at the
// moment; here the writev slice pair is only populated while State is
// Writing, matching the tagged-state-machine redesign called for in
// place of that always-present-dual-buffer layout.
package conn

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/yourusername/ember/internal/buffer"
	"github.com/yourusername/ember/internal/httpparser"
	"github.com/yourusername/ember/internal/httpresponse"
)

// State is the connection's place in its Reading -> Processing ->
// Writing -> Closed lifecycle. The writev slice pair is meaningful
// only while State == Writing.
type State int

const (
	Reading State = iota
	Processing
	Writing
	Closed
)

// bigWriteThreshold is the "keep writing under edge-triggered OR more
// than this many bytes remain" cutoff from the original's write loop.
const bigWriteThreshold = 10240

// Conn is one accepted client connection.
type Conn struct {
	Fd   int
	Peer string

	// TraceID correlates every log line touching this connection across
	// its read/process/write lifecycle, since a bare fd gets reused by
	// the kernel the moment a connection closes and stops identifying
	// anything useful in a log search.
	TraceID string

	ReadBuf  *buffer.Buffer
	WriteBuf *buffer.Buffer

	Request  httpparser.Request
	Response httpresponse.Response

	// FormHook, when set, is consulted once a request parses
	// successfully and carries a decoded form; it returns the landing
	// path the response should redirect to and whether it actually
	// handled the request (a nil or non-matching path leaves the
	// response as the plain static-file resolution of the request
	// path). This is how the reactor wires the login/register flow in
	// without the Connection object reaching back into the database.
	FormHook func(path string, form map[string]string) (redirectPath string, handled bool)

	State     State
	isET      bool
	srcDir    string
	userCount *int64

	slices [2][]byte
}

// Init wires a freshly accepted socket into a Conn, bumping the
// shared live-connection counter. userCount is owned by the Reactor,
// not this package, per the no-singletons redesign: every Connection
// shares a pointer into its owner's state instead of a package-level
// global.
func (c *Conn) Init(fd int, peer, traceID, srcDir string, isET bool, userCount *int64) {
	c.Fd = fd
	c.Peer = peer
	c.TraceID = traceID
	c.srcDir = srcDir
	c.isET = isET
	c.userCount = userCount
	c.State = Reading
	c.slices[0] = nil
	c.slices[1] = nil

	if c.ReadBuf == nil {
		c.ReadBuf = buffer.New(0)
	} else {
		c.ReadBuf.RetrieveAll()
	}
	if c.WriteBuf == nil {
		c.WriteBuf = buffer.New(0)
	} else {
		c.WriteBuf.RetrieveAll()
	}
	c.Response.UnmapFile()

	atomic.AddInt64(userCount, 1)
}

// Read pulls bytes off the socket into ReadBuf. Under edge-triggered
// readiness it loops until EAGAIN, since no further EPOLLIN will fire
// for bytes already sitting in the kernel's receive buffer.
func (c *Conn) Read() (int, error) {
	total := 0
	for {
		n, err := c.ReadBuf.ReadFd(c.Fd)
		total += n
		if err != nil {
			if buffer.IsEAGAIN(err) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, nil
		}
		if !c.isET {
			return total, nil
		}
	}
}

// Process parses as much of a request as ReadBuf currently holds. It
// returns false if no complete request line has arrived yet (the
// caller should wait for more readable bytes); otherwise it builds the
// response -- 200 on a well-formed request, 400 on a malformed request
// line -- and transitions to Writing with the writev slices assembled.
func (c *Conn) Process() bool {
	c.Request.Init()
	if c.ReadBuf.Readable() == 0 {
		return false
	}

	done, err := c.Request.Parse(c.ReadBuf)
	if err != nil {
		return false
	}
	if !done {
		return false
	}

	code := 200
	path := c.Request.Path
	if c.Request.Failed() {
		code = 400
	} else if c.FormHook != nil && c.Request.Form != nil {
		if redirect, handled := c.FormHook(path, c.Request.Form); handled {
			path = redirect
		}
	}
	c.Response.Init(c.srcDir, path, c.Request.KeepAlive(), code)
	c.Response.MakeResponse(c.WriteBuf)

	c.slices[0] = c.WriteBuf.Peek()
	c.slices[1] = nil
	if c.Response.FileLen() > 0 {
		c.slices[1] = c.Response.File()
	}

	c.State = Writing
	return true
}

// ToWrite reports how many bytes remain across both writev slices.
func (c *Conn) ToWrite() int {
	return len(c.slices[0]) + len(c.slices[1])
}

// Write drains the writev slices to the socket, looping under
// edge-triggered readiness or while more than bigWriteThreshold bytes
// remain (a short write under level-triggered readiness with few
// bytes left is cheap to retry on the next readiness event instead).
func (c *Conn) Write() (int, error) {
	total := 0
	for {
		if c.ToWrite() == 0 {
			return total, nil
		}

		iovs := nonEmpty(c.slices[:])
		n, err := unix.Writev(c.Fd, iovs)
		if n > 0 {
			total += n
			c.advance(n)
		}
		if err != nil {
			if buffer.IsEAGAIN(err) {
				return total, nil
			}
			return total, err
		}
		if c.ToWrite() == 0 {
			c.WriteBuf.RetrieveAll()
			return total, nil
		}
		if !c.isET && c.ToWrite() <= bigWriteThreshold {
			return total, nil
		}
	}
}

// advance walks the writev slice pair forward by n bytes, draining
// slot 0 (the header buffer) before slot 1 (the mapped body), and
// retiring WriteBuf's read cursor to match slot 0's progress.
func (c *Conn) advance(n int) {
	if len(c.slices[0]) > 0 {
		consumed := n
		if consumed > len(c.slices[0]) {
			consumed = len(c.slices[0])
		}
		c.WriteBuf.Retrieve(consumed)
		c.slices[0] = c.slices[0][consumed:]
		n -= consumed
	}
	if n > 0 && len(c.slices[1]) > 0 {
		if n > len(c.slices[1]) {
			n = len(c.slices[1])
		}
		c.slices[1] = c.slices[1][n:]
	}
}

func nonEmpty(slices [][]byte) [][]byte {
	out := make([][]byte, 0, len(slices))
	for _, s := range slices {
		if len(s) > 0 {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return [][]byte{{}}
	}
	return out
}

// KeepAliveRequested reports whether the just-completed response
// should be followed by parsing the next pipelined request rather
// than closing.
func (c *Conn) KeepAliveRequested() bool {
	return c.Response.KeepAlive
}

// Close releases the mapped body, decrements the shared connection
// counter, and marks the Conn closed. Idempotent.
func (c *Conn) Close() error {
	if c.State == Closed {
		return nil
	}
	c.Response.UnmapFile()
	c.State = Closed
	atomic.AddInt64(c.userCount, -1)
	return unix.Close(c.Fd)
}
