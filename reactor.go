package gearman

import (
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Timer is the handle returned by Reactor.AfterFunc; it mirrors the
// *time.Timer contract the standard library already exposes.
type Timer interface {
	Stop() bool
}

// Reactor is the event-loop contract an Endpoint is driven by (§5). The
// endpoint never blocks on I/O itself; it registers interest with the
// Reactor and is invoked back on the Reactor's own serialized loop, which
// is what keeps every Endpoint method run-to-completion. This module ships
// one reference implementation (NewLoop) good enough to exercise and test
// the state machine; a production embedder is expected to supply its own
// epoll/io_uring-backed Reactor over the same interface.
type Reactor interface {
	// WatchWrite arms a one-shot callback for the next moment conn is
	// writable. ready runs on the Reactor's own loop.
	WatchWrite(conn net.Conn, ready func())

	// WatchRead arms a one-shot callback for the next moment conn is
	// readable.
	WatchRead(conn net.Conn, ready func())

	// Unwatch cancels any pending watch registered for conn.
	Unwatch(conn net.Conn)

	// AfterFunc schedules fn to run on the Reactor's loop after d elapses.
	AfterFunc(d time.Duration, fn func()) Timer

	// Post enqueues fn to run on the Reactor's loop, preserving the
	// single-threaded run-to-completion guarantee for callers (such as a
	// worker handler running on its own goroutine) that need to call back
	// into the Endpoint.
	Post(fn func())
}

// Loop is the reference Reactor. It multiplexes readiness watches with a
// goroutine-per-watch poll(2) wait (via golang.org/x/sys/unix, since the
// standard library exposes no portable way to wait for writability without
// reading) and funnels every resulting callback through one channel so they
// execute serially on the Run goroutine, never concurrently with each other
// or with anything else passed to Post. Endpoint methods the embedder calls
// from another goroutine are not serialized with them.
type Loop struct {
	pending chan func()
	mu      sync.Mutex
	cancels map[net.Conn]chan struct{}
	closed  chan struct{}
}

var _ Reactor = (*Loop)(nil)

// NewLoop creates a Reactor. Call Run on a dedicated goroutine to start
// dispatching.
func NewLoop() *Loop {
	return &Loop{
		pending: make(chan func(), 64),
		cancels: make(map[net.Conn]chan struct{}),
		closed:  make(chan struct{}),
	}
}

// Run dispatches queued callbacks until Close is called. It is the single
// thread every Endpoint bound to this Loop executes on.
func (l *Loop) Run() {
	for {
		select {
		case fn := <-l.pending:
			fn()
		case <-l.closed:
			return
		}
	}
}

// Close stops Run and cancels every outstanding watch.
func (l *Loop) Close() {
	l.mu.Lock()
	for _, c := range l.cancels {
		close(c)
	}
	l.cancels = make(map[net.Conn]chan struct{})
	l.mu.Unlock()
	close(l.closed)
}

func (l *Loop) Post(fn func()) {
	select {
	case l.pending <- fn:
	case <-l.closed:
	}
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() { l.Post(fn) })
}

func (l *Loop) WatchWrite(conn net.Conn, ready func()) {
	l.watch(conn, unix.POLLOUT, ready)
}

func (l *Loop) WatchRead(conn net.Conn, ready func()) {
	l.watch(conn, unix.POLLIN, ready)
}

func (l *Loop) Unwatch(conn net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.cancels[conn]; ok {
		close(c)
		delete(l.cancels, conn)
	}
}

func (l *Loop) watch(conn net.Conn, events int16, ready func()) {
	sc, ok := conn.(syscallConn)
	if !ok {
		// Non-socket conn (e.g. an injected in-process channel): there is
		// no fd to poll, so the watch fires on the next loop tick.
		l.Post(ready)
		return
	}

	cancel := make(chan struct{})
	l.mu.Lock()
	l.cancels[conn] = cancel
	l.mu.Unlock()

	go func() {
		rc, err := sc.SyscallConn()
		if err != nil {
			l.Post(ready)
			return
		}

		for {
			select {
			case <-cancel:
				return
			default:
			}

			var pollErr error
			var n int
			err := rc.Control(func(fd uintptr) {
				fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
				n, pollErr = unix.Poll(fds, 200)
			})
			if err != nil {
				l.Post(ready)
				return
			}
			if pollErr != nil {
				continue
			}
			if n > 0 {
				l.mu.Lock()
				delete(l.cancels, conn)
				l.mu.Unlock()
				l.Post(ready)
				return
			}
		}
	}()
}

type syscallConn interface {
	SyscallConn() (syscall.RawConn, error)
}
