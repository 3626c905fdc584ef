package gearman

import (
	"io"
	"net"
	"sync"
	"time"
)

// fakeChannel is a trivial HostSpec.Channel double: writes are recorded for
// assertions, and reads block until Close, so the background channel
// reader goroutine an Endpoint starts on entering Ready never delivers
// anything on its own — tests drive inbound traffic deterministically by
// calling Endpoint.parser.Feed or onChannelData directly instead.
type fakeChannel struct {
	mu      sync.Mutex
	written [][]byte
	done    chan struct{}
	closed  bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{done: make(chan struct{})}
}

func (c *fakeChannel) Read(b []byte) (int, error) {
	<-c.done
	return 0, io.EOF
}

func (c *fakeChannel) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	c.written = append(c.written, append([]byte(nil), b...))
	return len(b), nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *fakeChannel) lastWrite() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.written) == 0 {
		return nil
	}
	return c.written[len(c.written)-1]
}

func (c *fakeChannel) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

// fakeTimer is the Timer fakeReactor.AfterFunc hands back; tests fire it
// explicitly via fakeReactor.fireTimers instead of waiting on a real clock.
type fakeTimer struct {
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// fakeReactor is the test-controlled Reactor double (the role the
// teacher's Factory plays for transports): Post runs synchronously so
// state transitions are observable immediately after the call that
// triggers them, and socket readiness / timeouts are driven explicitly by
// the test via fireWrite/fireRead/fireTimers.
type fakeReactor struct {
	writeWatches map[net.Conn]func()
	readWatches  map[net.Conn]func()
	timers       []*fakeTimer
}

func newFakeReactor() *fakeReactor {
	return &fakeReactor{
		writeWatches: make(map[net.Conn]func()),
		readWatches:  make(map[net.Conn]func()),
	}
}

func (r *fakeReactor) WatchWrite(conn net.Conn, ready func()) { r.writeWatches[conn] = ready }
func (r *fakeReactor) WatchRead(conn net.Conn, ready func())  { r.readWatches[conn] = ready }

func (r *fakeReactor) Unwatch(conn net.Conn) {
	delete(r.writeWatches, conn)
	delete(r.readWatches, conn)
}

func (r *fakeReactor) AfterFunc(d time.Duration, fn func()) Timer {
	t := &fakeTimer{fn: fn}
	r.timers = append(r.timers, t)
	return t
}

func (r *fakeReactor) Post(fn func()) { fn() }

func (r *fakeReactor) fireWrite(conn net.Conn) {
	if fn, ok := r.writeWatches[conn]; ok {
		delete(r.writeWatches, conn)
		fn()
	}
}

func (r *fakeReactor) fireRead(conn net.Conn) {
	if fn, ok := r.readWatches[conn]; ok {
		delete(r.readWatches, conn)
		fn()
	}
}

func (r *fakeReactor) fireTimers() {
	pending := r.timers
	r.timers = nil
	for _, t := range pending {
		if !t.stopped {
			t.fn()
		}
	}
}

var _ Reactor = (*fakeReactor)(nil)

// mockTask is a hand-written Task double that records every call it
// receives rather than scripting return values — Task has none to script.
type mockTask struct {
	submit     []byte
	completed  [][]byte
	failed     int
	statuses   [][2]int
	exceptions [][]byte
}

func newMockTask(submit string) *mockTask {
	return &mockTask{submit: []byte(submit)}
}

func (t *mockTask) SubmitPacketBytes() []byte { return t.submit }
func (t *mockTask) Complete(payload []byte)   { t.completed = append(t.completed, payload) }
func (t *mockTask) Fail()                     { t.failed++ }
func (t *mockTask) Status(num, den int)       { t.statuses = append(t.statuses, [2]int{num, den}) }
func (t *mockTask) Exception(payload []byte)  { t.exceptions = append(t.exceptions, payload) }

var _ Task = (*mockTask)(nil)

// readyEndpoint builds an Endpoint over a fakeChannel and drives it all
// the way to Ready using reactor (a fakeReactor's Post runs synchronously,
// so Connect returns with the endpoint already Ready).
func readyEndpoint(reactor *fakeReactor, opts ...Option) (*Endpoint, *fakeChannel) {
	ch := newFakeChannel()

	opts = append([]Option{WithReactor(reactor)}, opts...)
	e, err := NewEndpoint(ChannelHostSpec(ch), opts...)
	if err != nil {
		panic(err)
	}

	e.Connect()
	return e, ch
}

// feed delivers one server response packet directly through the
// endpoint's real parser and router, the same code path inbound bytes
// take in production.
func feed(e *Endpoint, verb PacketType, payload []byte) error {
	return e.parser.Feed(packRes(verb, payload))
}
