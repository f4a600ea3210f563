// Package reactor implements spec.md §4.8: the epoll event loop, the
// listener accept path, and the generation-tagged connection slab that
// makes handing a connection to a worker pool race-free. Grounded on
// original_source/code/server/webserver.cpp's Start/DealListen_/
// DealRead_/DealWrite_/OnProcess/ExtentTime_/CloseConn_ structure, with
// the source's raw fd->HttpConn map replaced by Slab+Handle per spec.md
// §9's Design Notes.
package reactor

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/yourusername/voltaic/internal/asynclog"
	"github.com/yourusername/voltaic/internal/auth"
	"github.com/yourusername/voltaic/internal/config"
	"github.com/yourusername/voltaic/internal/conn"
	"github.com/yourusername/voltaic/internal/netutil"
	"github.com/yourusername/voltaic/internal/timer"
	"github.com/yourusername/voltaic/internal/workerpool"
)

// busyMessage is sent to a newly accepted connection that arrives once
// the server is already at config.MaxFD live connections.
const busyMessage = "Server busy!"

// stage tags what a workResult reports finishing.
type stage int

const (
	stageClose     stage = iota // Read failed or the peer hung up: close outright.
	stageProcessed              // Read+Process (or a keep-alive reprocess) finished with an Outcome.
	stageWritten                // Write finished with an Outcome.
)

// workResult is how a worker goroutine reports a finished I/O step back
// to the reactor goroutine. Workers never touch the slab, fdToHdl, the
// timer, or epoll directly — they only run Conn methods and post a
// result here, which is the only channel of communication spec.md §5
// allows between a worker and reactor-owned state.
type workResult struct {
	handle  Handle
	stage   stage
	outcome conn.Outcome
	err     error
}

// Reactor owns the epoll fd, the listener, the connection slab, and the
// idle-expiry timer. Only its Run goroutine ever reads or writes the
// slab, the fd->Handle table, or the timer; workers only run Conn I/O
// against the *conn.Conn they were handed and report back through
// results, keeping every table/timer/epoll mutation single-threaded on
// the reactor goroutine.
type Reactor struct {
	cfg     config.Config
	backend auth.Backend
	logger  *asynclog.Logger

	listenFd int
	epollFd  int
	wakeFd   int

	listenEdge bool
	connEdge   bool

	slab    *Slab
	fdToHdl map[int]Handle

	timer   *timer.Wheel
	pool    *workerpool.Pool
	results chan workResult

	users atomic.Int64

	mu       sync.Mutex
	shutdown bool
}

// New builds a Reactor and opens its listening socket on cfg.Port; it
// does not accept connections or dispatch events until Run is called.
func New(cfg config.Config, backend auth.Backend, logger *asynclog.Logger) (*Reactor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	listenFd, err := netutil.Listen(cfg.Port, cfg.OptLinger)
	if err != nil {
		return nil, err
	}

	epollFd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(listenFd)
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(listenFd)
		unix.Close(epollFd)
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}

	r := &Reactor{
		cfg:        cfg,
		backend:    backend,
		logger:     logger,
		listenFd:   listenFd,
		epollFd:    epollFd,
		wakeFd:     wakeFd,
		listenEdge: cfg.TrigMode.ListenET(),
		connEdge:   cfg.TrigMode.ConnET(),
		slab:       NewSlab(),
		fdToHdl:    make(map[int]Handle),
		timer:      timer.New(),
		pool:       workerpool.New(cfg.ThreadNum),
		results:    make(chan workResult, 4096),
	}

	listenEvents := uint32(unix.EPOLLIN | unix.EPOLLRDHUP)
	if r.listenEdge {
		listenEvents |= unix.EPOLLET
	}
	if err := unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, listenFd, &unix.EpollEvent{Fd: int32(listenFd), Events: listenEvents}); err != nil {
		unix.Close(listenFd)
		unix.Close(epollFd)
		unix.Close(wakeFd)
		return nil, fmt.Errorf("reactor: epoll_ctl add listener: %w", err)
	}

	// wakeFd is level-triggered with no EPOLLONESHOT: it stays readable
	// as long as its counter is nonzero, so a burst of worker completions
	// between two loop iterations still wakes epoll_wait exactly once
	// and keeps it woken until drainWake empties both the counter and
	// the results channel.
	if err := unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{Fd: int32(wakeFd), Events: unix.EPOLLIN}); err != nil {
		unix.Close(listenFd)
		unix.Close(epollFd)
		unix.Close(wakeFd)
		return nil, fmt.Errorf("reactor: epoll_ctl add wake fd: %w", err)
	}

	r.logf(asynclog.LevelInfo, "server init: port=%d linger=%v listen_et=%v conn_et=%v threads=%d",
		cfg.Port, cfg.OptLinger, r.listenEdge, r.connEdge, cfg.ThreadNum)

	return r, nil
}

// Run executes the main loop until ctx is cancelled or Shutdown is
// called. It always returns a non-nil error wrapping the reason it
// stopped, except on a clean shutdown where it returns nil.
func (r *Reactor) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-ctx.Done()
		r.requestShutdown()
		r.wake()
		return nil
	})
	group.Go(r.loop)

	err := group.Wait()
	r.pool.Shutdown()
	unix.Close(r.wakeFd)
	unix.Close(r.epollFd)
	unix.Close(r.listenFd)
	return err
}

func (r *Reactor) requestShutdown() {
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()
}

func (r *Reactor) isShuttingDown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shutdown
}

// Shutdown is an alternative to cancelling Run's context: it flips the
// same flag and wakes the loop so it notices promptly.
func (r *Reactor) Shutdown(context.Context) error {
	r.requestShutdown()
	r.wake()
	return nil
}

func (r *Reactor) loop() error {
	events := make([]unix.EpollEvent, 256)
	for !r.isShuttingDown() {
		timeoutMS := -1
		if r.cfg.TimeoutMS > 0 {
			timeoutMS = int(r.timer.NextTickMS())
		}

		n, err := unix.EpollWait(r.epollFd, events, timeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)
			switch {
			case fd == r.wakeFd:
				r.drainWake()
			case fd == r.listenFd:
				r.dealListen()
			case ev.Events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0:
				r.closeByFd(fd)
			case ev.Events&unix.EPOLLIN != 0:
				r.dealRead(fd)
			case ev.Events&unix.EPOLLOUT != 0:
				r.dealWrite(fd)
			default:
				r.logf(asynclog.LevelWarn, "unexpected event on fd %d", fd)
			}
		}
	}
	return nil
}

// dealListen accepts in a loop when the listener is edge-triggered,
// once otherwise, stopping at EAGAIN, matching DealListen_.
func (r *Reactor) dealListen() {
	for {
		fd, sa, err := netutil.Accept4(r.listenFd)
		if err != nil {
			return
		}
		if r.users.Load() >= int64(config.MaxFD) {
			sendBusy(fd)
			r.logf(asynclog.LevelWarn, "clients full, rejected fd %d", fd)
		} else {
			r.addClient(fd, sa)
		}
		if !r.listenEdge {
			return
		}
	}
}

func sendBusy(fd int) {
	_, _ = unix.Write(fd, []byte(busyMessage))
	unix.Close(fd)
}

func (r *Reactor) addClient(fd int, sa unix.Sockaddr) {
	addr := sockaddrToAddrPort(sa)
	c := conn.New(fd, addr, r.cfg.ResourceDir, r.connEdge, r.backend, &r.users)

	h := r.slab.Insert(c)
	r.fdToHdl[fd] = h

	if r.cfg.TimeoutMS > 0 {
		r.timer.Add(fd, msDuration(r.cfg.TimeoutMS), func() { r.closeHandle(h) })
	}

	connEvents := uint32(unix.EPOLLIN | unix.EPOLLONESHOT | unix.EPOLLRDHUP)
	if r.connEdge {
		connEvents |= unix.EPOLLET
	}
	if err := unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: connEvents}); err != nil {
		r.logf(asynclog.LevelError, "epoll_ctl add fd %d: %v", fd, err)
		r.closeHandle(h)
		return
	}
	r.logf(asynclog.LevelInfo, "client %d connected", fd)
}

// dealRead and dealWrite run on the reactor goroutine. They resolve fd
// to a Handle and *conn.Conn here — the only place slab reads happen
// for this connection until the matching workResult comes back — then
// hand the bare *conn.Conn to a worker for I/O only.
func (r *Reactor) dealRead(fd int) {
	h, ok := r.fdToHdl[fd]
	if !ok {
		return
	}
	c, ok := r.slab.Deref(h)
	if !ok {
		return
	}
	r.extendTime(fd)
	r.pool.Submit(func() { r.doRead(h, c) })
}

func (r *Reactor) dealWrite(fd int) {
	h, ok := r.fdToHdl[fd]
	if !ok {
		return
	}
	c, ok := r.slab.Deref(h)
	if !ok {
		return
	}
	r.extendTime(fd)
	r.pool.Submit(func() { r.doWrite(h, c) })
}

func (r *Reactor) extendTime(fd int) {
	if r.cfg.TimeoutMS > 0 {
		r.timer.Adjust(fd, msDuration(r.cfg.TimeoutMS))
	}
}

// doRead runs on a worker goroutine. It only calls Conn methods on the
// *conn.Conn it was handed; it never touches the slab, fdToHdl, the
// timer, or epoll. Its outcome is reported back through results and
// the wake eventfd, where the reactor goroutine re-validates the
// handle before acting on it.
func (r *Reactor) doRead(h Handle, c *conn.Conn) {
	n, err := c.Read()
	if err != nil || n <= 0 {
		r.post(workResult{handle: h, stage: stageClose, err: err})
		return
	}
	outcome := c.Process(context.Background())
	r.post(workResult{handle: h, stage: stageProcessed, outcome: outcome})
}

// doWrite runs on a worker goroutine, same constraints as doRead.
func (r *Reactor) doWrite(h Handle, c *conn.Conn) {
	outcome, err := c.Write()
	r.post(workResult{handle: h, stage: stageWritten, outcome: outcome, err: err})
}

// submitReprocess re-enters the parser on a worker after a keep-alive
// write has completed and the Conn has been reset, covering pipelined
// requests already sitting in the read buffer.
func (r *Reactor) submitReprocess(h Handle, c *conn.Conn) {
	r.pool.Submit(func() {
		outcome := c.Process(context.Background())
		r.post(workResult{handle: h, stage: stageProcessed, outcome: outcome})
	})
}

// post queues res for the reactor goroutine and wakes epoll_wait so it
// is handled without waiting out the remainder of any idle-timer
// timeout.
func (r *Reactor) post(res workResult) {
	r.results <- res
	r.wake()
}

func (r *Reactor) wake() {
	one := [8]byte{1, 0, 0, 0, 0, 0, 0, 0}
	unix.Write(r.wakeFd, one[:])
}

// drainWake runs on the reactor goroutine in response to the wake fd
// becoming readable. It resets the eventfd counter, then drains and
// handles every result currently queued — this is the only place
// workResults are consumed, and the only place (besides the listener
// and timer paths) that mutates the slab, fdToHdl, or epoll state on
// behalf of a finished worker task.
func (r *Reactor) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(r.wakeFd, buf[:]); err != nil {
			break
		}
	}
	for {
		select {
		case res := <-r.results:
			r.handleResult(res)
		default:
			return
		}
	}
}

func (r *Reactor) handleResult(res workResult) {
	switch res.stage {
	case stageClose:
		r.closeHandle(res.handle)
	case stageProcessed:
		c, ok := r.slab.Deref(res.handle)
		if !ok {
			return
		}
		switch res.outcome {
		case conn.OutcomeResponseReady:
			r.rearm(c.Fd(), unix.EPOLLOUT)
		default:
			r.rearm(c.Fd(), unix.EPOLLIN)
		}
	case stageWritten:
		c, ok := r.slab.Deref(res.handle)
		if !ok {
			return
		}
		switch res.outcome {
		case conn.OutcomeWriteComplete:
			if c.IsKeepAlive() {
				c.ResetForNextRequest()
				r.submitReprocess(res.handle, c)
				return
			}
			r.closeHandle(res.handle)
		case conn.OutcomeResponseReady:
			r.rearm(c.Fd(), unix.EPOLLOUT)
		default:
			if res.err != nil {
				r.logf(asynclog.LevelWarn, "write error on fd %d: %v", c.Fd(), res.err)
			}
			r.closeHandle(res.handle)
		}
	}
}

func (r *Reactor) rearm(fd int, extra uint32) {
	events := extra | unix.EPOLLONESHOT | unix.EPOLLRDHUP
	if r.connEdge {
		events |= unix.EPOLLET
	}
	if err := unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events}); err != nil {
		r.logf(asynclog.LevelError, "epoll_ctl mod fd %d: %v", fd, err)
	}
}

func (r *Reactor) closeByFd(fd int) {
	h, ok := r.fdToHdl[fd]
	if !ok {
		return
	}
	r.closeHandle(h)
}

// closeHandle is only ever called from the reactor goroutine (directly
// from the loop, from drainWake's result handling, or as a timer
// callback invoked inline by timer.Wheel.Tick on that same goroutine),
// keeping the slab and fd->Handle table single-writer.
func (r *Reactor) closeHandle(h Handle) {
	c, ok := r.slab.Deref(h)
	if !ok {
		return
	}
	fd := c.Fd()
	unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(r.fdToHdl, fd)
	r.slab.Remove(h)
	c.Close()
	r.logf(asynclog.LevelInfo, "client %d closed", fd)
}

func (r *Reactor) logf(level asynclog.Level, format string, args ...any) {
	if r.logger != nil {
		r.logger.Log(level, format, args...)
	}
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func sockaddrToAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr), uint16(v.Port))
	default:
		return netip.AddrPort{}
	}
}
