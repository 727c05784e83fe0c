// Package reactor implements the single-threaded dispatch loop that
// owns the connection table, worker pool, timer heap, and readiness
// notifier, grounded on webserver.h/.cpp's WebServer and the dispatch
// pseudocode it implies once init_event_mode/init_socket/deal_listen/
// deal_read/deal_write are inlined into one loop.
//
// Per the no-singletons redesign note, every dependency the original
// reached through a static instance() accessor -- the log sink, the
// database pool, HttpConn::user_cnt/src_dir/is_ET -- is threaded
// through this struct's construction instead.
package reactor

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/yourusername/ember/internal/auth"
	"github.com/yourusername/ember/internal/conn"
	"github.com/yourusername/ember/internal/config"
	"github.com/yourusername/ember/internal/dbpool"
	"github.com/yourusername/ember/internal/logging"
	"github.com/yourusername/ember/internal/metrics"
	"github.com/yourusername/ember/internal/netpoll"
	"github.com/yourusername/ember/internal/timer"
	"github.com/yourusername/ember/internal/workerpool"
)

// maxConnections is the per-process connection cap (the "server busy"
// threshold) the accept path enforces.
const maxConnections = 65535

const busyResponse = "HTTP/1.1 503 Service Unavailable\r\nConnection: close\r\nContent-length: 0\r\n\r\n"

// Reactor owns every shared structure in the server and runs the
// single dispatch loop described by §4.8. The connection table and
// timer heap are touched only from the goroutine running Run: workers
// that decide a connection must close post the fd to closeRequests and
// nudge the wake pipe rather than mutating either structure directly.
type Reactor struct {
	cfg      config.Config
	listenFd int

	notifier netpoll.Notifier
	timers   *timer.Heap
	pool     *workerpool.Pool
	dbPool   *dbpool.Pool
	log      *logging.Sink
	metrics  *metrics.Metrics

	conns     map[int]*conn.Conn
	userCount int64

	wakeR, wakeW  int
	closeRequests chan int

	shuttingDown atomic.Bool
}

// New constructs a Reactor bound to cfg but does not yet bind or
// listen; call Start for that.
func New(cfg config.Config, dbPool *dbpool.Pool, log *logging.Sink, m *metrics.Metrics) (*Reactor, error) {
	notifier, err := netpoll.New()
	if err != nil {
		return nil, fmt.Errorf("reactor: create notifier: %w", err)
	}

	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		notifier.Close()
		return nil, fmt.Errorf("reactor: create wake pipe: %w", err)
	}
	unix.SetNonblock(pipeFds[0], true)
	unix.SetNonblock(pipeFds[1], true)

	return &Reactor{
		cfg:           cfg,
		notifier:      notifier,
		timers:        timer.New(),
		pool:          workerpool.New(cfg.WorkerThreads),
		dbPool:        dbPool,
		log:           log,
		metrics:       m,
		conns:         make(map[int]*conn.Conn),
		wakeR:         pipeFds[0],
		wakeW:         pipeFds[1],
		closeRequests: make(chan int, maxConnections),
	}, nil
}

// Start binds and listens on cfg.Port, arming the listening socket on
// the notifier per the configured trigger mode.
func (r *Reactor) Start() error {
	fd, err := r.listen()
	if err != nil {
		return err
	}
	r.listenFd = fd

	listenEvents := netpoll.Readable
	listenMode := netpoll.LevelTriggered
	if r.cfg.TriggerMode.ListenEdgeTriggered() {
		listenMode = netpoll.EdgeTriggered
	}
	if err := r.notifier.Add(r.listenFd, listenEvents, listenMode); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: register listen fd: %w", err)
	}
	if err := r.notifier.Add(r.wakeR, netpoll.Readable, netpoll.LevelTriggered); err != nil {
		return fmt.Errorf("reactor: register wake pipe: %w", err)
	}

	r.log.Infof("listening on port %d, trigger_mode=%d, workers=%d", r.cfg.Port, r.cfg.TriggerMode, r.cfg.WorkerThreads)
	return nil
}

// requestClose is the only way a worker goroutine may ask for a
// connection to be torn down; the actual table/timer mutation happens
// back on the Run goroutine once it wakes.
func (r *Reactor) requestClose(fd int) {
	select {
	case r.closeRequests <- fd:
	default:
		// closeRequests is sized to maxConnections, so this only
		// happens under pathological concurrent-close storms; drop
		// rather than block a worker goroutine forever.
	}
	var b [1]byte
	unix.Write(r.wakeW, b[:])
}

// drainWake consumes every pending byte on the wake pipe and then
// applies any queued close requests, run only from the Run goroutine.
func (r *Reactor) drainWake() {
	var scratch [64]byte
	for {
		_, err := unix.Read(r.wakeR, scratch[:])
		if err != nil {
			break
		}
	}
	for {
		select {
		case fd := <-r.closeRequests:
			if c, ok := r.conns[fd]; ok {
				r.closeConn(c)
			}
		default:
			return
		}
	}
}

// listen creates, configures, and binds the listening socket,
// following the original's SO_REUSEADDR + optional SO_LINGER +
// O_NONBLOCK setup.
func (r *Reactor) listen() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("reactor: socket: %w", err)
	}

	if r.cfg.Linger {
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 1}); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("reactor: setsockopt SO_LINGER: %w", err)
		}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: setsockopt SO_REUSEADDR: %w", err)
	}

	addr := unix.SockaddrInet4{Port: r.cfg.Port}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: bind: %w", err)
	}
	if err := unix.Listen(fd, 8); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: set listen fd non-blocking: %w", err)
	}
	return fd, nil
}

// Run executes the dispatch loop until Shutdown is called or the
// notifier reports a fatal error.
func (r *Reactor) Run() error {
	for !r.shuttingDown.Load() {
		timeoutMs := r.timers.NextTickMs()
		events, err := r.notifier.Wait(timeoutMs)
		if err != nil {
			return fmt.Errorf("reactor: wait: %w", err)
		}
		for _, ev := range events {
			r.dispatch(ev)
		}
	}
	return nil
}

func (r *Reactor) dispatch(ev netpoll.Readiness) {
	if ev.Fd == r.listenFd {
		r.acceptBatch()
		return
	}
	if ev.Fd == r.wakeR {
		r.drainWake()
		return
	}

	c, ok := r.conns[ev.Fd]
	if !ok {
		return
	}

	if ev.Events&(netpoll.Error|netpoll.PeerHangup) != 0 {
		r.closeConn(c)
		return
	}
	if ev.Events&netpoll.Readable != 0 {
		r.extendDeadline(c.Fd)
		r.pool.Submit(func() { r.onRead(c) })
		r.sampleQueueDepth()
		return
	}
	if ev.Events&netpoll.Writable != 0 {
		r.extendDeadline(c.Fd)
		r.pool.Submit(func() { r.onWrite(c) })
		r.sampleQueueDepth()
	}
}

func (r *Reactor) sampleQueueDepth() {
	if r.metrics != nil {
		r.metrics.WorkerQueueDepth.Set(float64(r.pool.QueueDepth()))
	}
}

func (r *Reactor) sampleTimerHeapSize() {
	if r.metrics != nil {
		r.metrics.TimerHeapSize.Set(float64(r.timers.Len()))
	}
}

// acceptBatch drains the accept queue; under an edge-triggered listen
// socket, accept must be retried until EAGAIN since only the 0->1
// transition is reported.
func (r *Reactor) acceptBatch() {
	for {
		fd, sa, err := unix.Accept(r.listenFd)
		if err != nil {
			if !netpoll.IsEAGAIN(err) {
				r.log.Warnf("accept: %v", err)
			}
			return
		}

		if len(r.conns) >= maxConnections {
			unix.Write(fd, []byte(busyResponse))
			unix.Close(fd)
			r.log.Warnf("connection table full, rejected new connection")
		} else {
			r.addConn(fd, peerString(sa))
		}

		if !r.cfg.TriggerMode.ListenEdgeTriggered() {
			return
		}
	}
}

func (r *Reactor) addConn(fd int, peer string) {
	unix.SetNonblock(fd, true)

	traceID := uuid.NewString()
	c := &conn.Conn{}
	c.Init(fd, peer, traceID, r.cfg.DocRoot, r.cfg.TriggerMode.ConnEdgeTriggered(), &r.userCount)
	c.FormHook = r.handleForm
	r.conns[fd] = c
	r.log.Debugf("accepted fd=%d trace=%s peer=%s", fd, traceID, peer)

	if r.cfg.IdleTimeoutMs > 0 {
		r.timers.Add(fd, time.Duration(r.cfg.IdleTimeoutMs)*time.Millisecond, func() {
			if cc, ok := r.conns[fd]; ok {
				r.closeConn(cc)
			}
		})
		r.sampleTimerHeapSize()
	}

	if r.metrics != nil {
		r.metrics.ConnectionsOpen.Inc()
		r.metrics.ConnectionsTotal.Inc()
	}

	armMode := netpoll.OneShot
	if r.cfg.TriggerMode.ConnEdgeTriggered() {
		armMode |= netpoll.EdgeTriggered
	}
	if err := r.notifier.Add(fd, netpoll.Readable, armMode); err != nil {
		r.log.Warnf("register conn fd=%d trace=%s: %v", fd, traceID, err)
		r.closeConn(c)
		return
	}
}

func (r *Reactor) extendDeadline(fd int) {
	if r.cfg.IdleTimeoutMs > 0 {
		r.timers.Adjust(fd, time.Duration(r.cfg.IdleTimeoutMs)*time.Millisecond)
	}
}

// onRead runs on a worker: it drains the socket, then attempts to
// parse and build a response, re-arming for more data or for writing.
func (r *Reactor) onRead(c *conn.Conn) {
	_, err := c.Read()
	if err != nil && !netpoll.IsEAGAIN(err) {
		r.requestClose(c.Fd)
		return
	}
	r.onProcess(c)
}

func (r *Reactor) onProcess(c *conn.Conn) {
	if !c.Process() {
		r.rearm(c, netpoll.Readable)
		return
	}
	if r.metrics != nil {
		r.metrics.RequestsTotal.WithLabelValues(fmt.Sprintf("%d", c.Response.Code)).Inc()
	}
	r.rearm(c, netpoll.Writable)
}

// handleForm is installed as every Conn's FormHook: it resolves a
// submitted login/register form against the database pool and returns
// the landing path the response should serve instead of the posted-to
// path, the wiring point between the parser's decoded form and the
// auth package's database-backed decision.
func (r *Reactor) handleForm(path string, form map[string]string) (string, bool) {
	if r.dbPool == nil {
		return "", false
	}
	tag := formTag(path)
	if tag == "" {
		return "", false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := auth.Handle(ctx, r.dbPool, tag, form)
	if r.metrics != nil {
		r.metrics.DBPoolInUse.Set(float64(r.dbPool.InUse()))
	}
	if err != nil {
		r.log.Warnf("auth handle: %v", err)
		return "", false
	}
	return out.RedirectPath, true
}

func formTag(path string) string {
	switch path {
	case "/login.html":
		return "login"
	case "/register.html":
		return "register"
	default:
		return ""
	}
}

func (r *Reactor) onWrite(c *conn.Conn) {
	n, err := c.Write()
	if r.metrics != nil && n > 0 {
		r.metrics.ResponseBytesTotal.Add(float64(n))
	}
	if err != nil && !netpoll.IsEAGAIN(err) {
		r.requestClose(c.Fd)
		return
	}

	if c.ToWrite() > 0 {
		r.rearm(c, netpoll.Writable)
		return
	}

	if c.KeepAliveRequested() {
		c.State = conn.Reading
		r.onProcess(c)
		return
	}
	r.requestClose(c.Fd)
}

func (r *Reactor) rearm(c *conn.Conn, want netpoll.Event) {
	mode := netpoll.OneShot
	if r.cfg.TriggerMode.ConnEdgeTriggered() {
		mode |= netpoll.EdgeTriggered
	}
	if err := r.notifier.Modify(c.Fd, want, mode); err != nil {
		r.requestClose(c.Fd)
	}
}

func (r *Reactor) closeConn(c *conn.Conn) {
	if c.State == conn.Closed {
		return
	}
	r.log.Debugf("closing fd=%d trace=%s", c.Fd, c.TraceID)
	r.notifier.Remove(c.Fd)
	r.timers.Cancel(c.Fd)
	r.sampleTimerHeapSize()
	delete(r.conns, c.Fd)
	c.Close()
	if r.metrics != nil {
		r.metrics.ConnectionsOpen.Dec()
	}
}

// Shutdown stops the dispatch loop after the current Wait returns and
// drains the worker pool, letting in-flight tasks finish.
func (r *Reactor) Shutdown() {
	r.shuttingDown.Store(true)
	var b [1]byte
	unix.Write(r.wakeW, b[:])
	r.pool.Shutdown()
	r.notifier.Close()
	unix.Close(r.listenFd)
	unix.Close(r.wakeR)
	unix.Close(r.wakeW)
}

func peerString(sa unix.Sockaddr) string {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(addr.Addr[:])
		return fmt.Sprintf("%s:%d", ip.String(), addr.Port)
	default:
		return "unknown"
	}
}
