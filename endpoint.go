package gearman

import (
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// State is one of the three positions in the connection state machine (C4).
type State int

const (
	Disconnected State = iota
	Connecting
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	default:
		return "invalid"
	}
}

// Job is handed to a registered worker function on job_assign (C7).
type Job struct {
	Function string
	Payload  []byte
	Handle   string

	endpoint *Endpoint
}

// Complete reports work_complete for the job. Safe to call from any
// goroutine; it is marshaled onto the endpoint's Reactor.
func (j *Job) Complete(payload []byte) {
	j.endpoint.reactor.Post(func() { j.endpoint.sendWorkComplete(j.Handle, payload) })
}

// Fail reports work_fail for the job.
func (j *Job) Fail() {
	j.endpoint.reactor.Post(func() { j.endpoint.sendWorkFail(j.Handle) })
}

// Status reports a work_status update for the job.
func (j *Job) Status(num, den int) {
	j.endpoint.reactor.Post(func() { j.endpoint.sendWorkStatus(j.Handle, num, den) })
}

// WorkerFunc handles one job_assign dispatch for a registered function.
type WorkerFunc func(*Job)

// Endpoint is the asynchronous connection to one Gearman job server (§3).
// It is not safe for concurrent use except through the methods explicitly
// documented as Reactor-marshaled (Job.Complete/Fail/Status); every other
// method must run on the same goroutine that drives the bound Reactor,
// consistent with the single-threaded cooperative model in §5.
type Endpoint struct {
	id       uuid.UUID
	hostspec HostSpec
	cfg      *endpointConfig
	logger   *log.Logger
	reactor  Reactor

	state     State
	deadUntil time.Time
	conn      netConn
	parser    *Parser

	onReady []func()
	onError []func(error)

	options     map[string]bool
	optionOrder []string
	requests    []string

	needHandle  []weakTask
	waiting     map[string][]Task
	task2handle map[Task]string

	workerFuncs map[string]WorkerFunc
	isWorker    bool

	connectTimer Timer
}

// netConn is the subset of io.ReadWriteCloser an Endpoint needs; satisfied
// by both net.Conn and an injected HostSpec.Channel.
type netConn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}

// NewEndpoint constructs a Disconnected Endpoint bound to hostspec. It owns
// no socket until Connect or GetInReadyState is called.
func NewEndpoint(hostspec HostSpec, opts ...Option) (*Endpoint, error) {
	if hostspec.Addr == "" && hostspec.Channel == nil && hostspec.Factory == nil {
		return nil, ErrNoAddress
	}

	cfg := newEndpointConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	reactor := cfg.reactor
	if reactor == nil {
		loop := NewLoop()
		go loop.Run()
		reactor = loop
	}

	e := &Endpoint{
		id:          uuid.New(),
		hostspec:    hostspec,
		cfg:         cfg,
		logger:      cfg.logger,
		reactor:     reactor,
		state:       Disconnected,
		options:     cfg.options,
		optionOrder: cfg.optionOrder,
		waiting:     make(map[string][]Task),
		task2handle: make(map[Task]string),
		workerFuncs: make(map[string]WorkerFunc),
	}
	e.parser = NewParser(e.handlePacket)
	return e, nil
}

// ID returns the random identifier assigned to this Endpoint instance in
// NewEndpoint, which tells it apart from a replacement instance to the same
// hostspec. String and the endpoint's own log lines identify it by hostspec
// only; they do not include the ID.
func (e *Endpoint) ID() uuid.UUID { return e.id }

// HostSpec returns the configured hostspec.
func (e *Endpoint) HostSpec() HostSpec { return e.hostspec }

// String renders "host:port(Nwaiting, Mneed_handle, Krequests)" per §6.4.
func (e *Endpoint) String() string {
	waiting := 0
	for _, tasks := range e.waiting {
		waiting += len(tasks)
	}
	return fmt.Sprintf("%s(%dwaiting, %dneed_handle, %drequests)",
		e.hostspec.String(), waiting, len(e.needHandle), len(e.requests))
}

// Alive reports whether the endpoint is outside its dead interval.
func (e *Endpoint) Alive() bool {
	return time.Now().After(e.deadUntil) || time.Now().Equal(e.deadUntil)
}

// IsWorker reports whether RegisterFunction has ever been called.
func (e *Endpoint) IsWorker() bool { return e.isWorker }

// StuffOutstanding reports whether any task is currently tracked, either
// awaiting a handle or assigned to one.
func (e *Endpoint) StuffOutstanding() bool {
	if len(e.needHandle) > 0 {
		return true
	}
	for _, tasks := range e.waiting {
		if len(tasks) > 0 {
			return true
		}
	}
	return false
}

// TSetOffline is a test hook: when true, Connect arms the connect-deadline
// timer and the on_error path without attempting a real dial.
func (e *Endpoint) TSetOffline(offline bool) {
	withOffline(offline)(e.cfg)
}

// GetInReadyState is the readiness gate (C9). If already Ready, onReady
// runs synchronously. Otherwise both callbacks are queued and, if
// Disconnected, a connect attempt is kicked off.
func (e *Endpoint) GetInReadyState(onReady func(), onError func(error)) {
	if e.state == Ready {
		if onReady != nil {
			onReady()
		}
		return
	}

	if onReady != nil {
		e.onReady = append(e.onReady, onReady)
	}
	if onError != nil {
		e.onError = append(e.onError, onError)
	}

	if e.state == Disconnected {
		e.Connect()
	}
}

// Connect drives Disconnected -> Connecting (C4). It is idempotent while
// already Connecting or Ready.
func (e *Endpoint) Connect() {
	if e.state != Disconnected {
		return
	}
	if !e.Alive() {
		e.refuseDeadConnect()
		return
	}
	e.state = Connecting

	e.connectTimer = e.reactor.AfterFunc(e.cfg.connectDeadline, e.onConnectTimeout)

	if e.cfg.offline {
		return
	}

	conn, err := e.dial()
	if err != nil {
		e.onConnectError(err)
		return
	}
	e.conn = conn

	if c, ok := conn.(net.Conn); ok {
		e.reactor.WatchWrite(c, e.onConnectWritable)
	} else {
		// Injected non-socket channel: already connected, nothing to poll.
		e.reactor.Post(e.onConnectWritable)
	}
}

func (e *Endpoint) dial() (netConn, error) {
	switch {
	case e.hostspec.Channel != nil:
		return e.hostspec.Channel, nil
	case e.hostspec.Factory != nil:
		return e.hostspec.Factory()
	default:
		return dialNonBlocking(e.hostspec.Addr)
	}
}

func (e *Endpoint) onConnectWritable() {
	if e.state != Connecting {
		return
	}

	if c, ok := e.conn.(net.Conn); ok {
		if err := soError(c); err != nil {
			e.onConnectError(err)
			return
		}
	}

	e.stopConnectTimer()
	e.state = Ready
	e.deadUntil = time.Time{}

	if c, ok := e.conn.(net.Conn); ok {
		e.reactor.WatchRead(c, e.onReadable)
	} else {
		e.startChannelReader()
	}

	ready := e.onReady
	e.onReady = nil
	e.onError = nil

	e.resendOptions()
	e.resendWorkerState()

	for _, fn := range ready {
		fn()
	}
}

func (e *Endpoint) onConnectTimeout() {
	if e.state != Connecting {
		return
	}
	e.onConnectError(fmt.Errorf("connect deadline exceeded"))
}

// refuseDeadConnect short-circuits Connect while the endpoint is still
// within its dead interval: no dial is attempted and dead_until is left
// untouched, but any on_error callbacks already queued by GetInReadyState
// are still drained so a caller waiting on this attempt doesn't hang.
func (e *Endpoint) refuseDeadConnect() {
	errs := e.onError
	e.onReady = nil
	e.onError = nil
	for _, fn := range errs {
		fn(ErrDeadEndpoint)
	}
}

// onConnectError handles every path into Connecting -> Disconnected (§4.1).
func (e *Endpoint) onConnectError(err error) {
	e.logger.Printf("gearman: %s: connect failed: %v", e.hostspec, err)
	e.stopConnectTimer()
	e.markDead()
	e.closeConn()
	e.state = Disconnected

	errs := e.onError
	e.onReady = nil
	e.onError = nil
	for _, fn := range errs {
		fn(err)
	}
}

func (e *Endpoint) stopConnectTimer() {
	if e.connectTimer != nil {
		e.connectTimer.Stop()
		e.connectTimer = nil
	}
}

func (e *Endpoint) markDead() {
	e.deadUntil = time.Now().Add(e.cfg.deadInterval)
}

func (e *Endpoint) closeConn() {
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
}

// Close tears the connection down from any state, satisfying invariant 7:
// every in-flight task is failed exactly once (§4.7 requeue-all).
func (e *Endpoint) Close(reason error) {
	hadWork := e.StuffOutstanding()
	prevState := e.state

	e.stopConnectTimer()
	if c, ok := e.conn.(net.Conn); ok {
		e.reactor.Unwatch(c)
	}
	e.closeConn()
	e.state = Disconnected

	if hadWork {
		e.markDead()
	}

	if prevState != Disconnected {
		e.requeueAll()
	}

	errs := e.onError
	e.onReady = nil
	e.onError = nil
	if reason != nil {
		for _, fn := range errs {
			fn(reason)
		}
	}
}

// requeueAll implements §4.7: snapshot-then-clear before notifying, so a
// task's Fail handler may reentrantly call AddTask without corrupting the
// queues it's being drained from.
func (e *Endpoint) requeueAll() {
	needHandle := e.needHandle
	waiting := e.waiting

	e.needHandle = nil
	e.waiting = make(map[string][]Task)
	e.task2handle = make(map[Task]string)

	for _, wt := range needHandle {
		if t := wt.get(); t != nil {
			t.Fail()
		}
	}
	for _, tasks := range waiting {
		for _, t := range tasks {
			t.Fail()
		}
	}
}

func (e *Endpoint) write(b []byte) error {
	if e.conn == nil {
		return ErrNotReady
	}
	_, err := e.conn.Write(b)
	if err != nil {
		e.onSocketError(err)
	}
	return err
}

// onSocketError handles Ready -> Disconnected on any read/write failure.
func (e *Endpoint) onSocketError(err error) {
	if e.state == Disconnected {
		return
	}
	e.logger.Printf("gearman: %s: connection lost: %v", e.hostspec, err)
	e.Close(err)
}

// onReadable fires once per WatchRead re-arm for a real net.Conn: the
// Reactor has already confirmed readability, so the Read below never
// blocks.
func (e *Endpoint) onReadable() {
	if e.state != Ready {
		return
	}

	buf := make([]byte, 64*1024)
	n, err := e.conn.Read(buf)
	if n > 0 {
		if perr := e.parser.Feed(buf[:n]); perr != nil {
			e.logger.Printf("gearman: %s: %v", e.hostspec, perr)
			e.onSocketError(perr)
			return
		}
	}
	if err != nil {
		e.onSocketError(err)
		return
	}

	if c, ok := e.conn.(net.Conn); ok {
		e.reactor.WatchRead(c, e.onReadable)
	}
}

// startChannelReader handles reading for an injected HostSpec.Channel or
// Factory connection, which has no file descriptor for the Reactor to
// poll. It owns one long-lived goroutine that blocks in Read and hands
// each chunk to the Reactor via Post, preserving the single-threaded
// run-to-completion guarantee for everything downstream of onChannelData.
func (e *Endpoint) startChannelReader() {
	conn := e.conn
	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, err := conn.Read(buf)
			var chunk []byte
			if n > 0 {
				chunk = append([]byte(nil), buf[:n]...)
			}
			e.reactor.Post(func() { e.onChannelData(conn, chunk, err) })
			if err != nil {
				return
			}
		}
	}()
}

// onChannelData is onReadable's equivalent for a channel-backed
// connection. conn is compared against the live e.conn to discard data
// delivered by a reader goroutine from a connection that has since been
// superseded by a reconnect.
func (e *Endpoint) onChannelData(conn netConn, chunk []byte, err error) {
	if e.state != Ready || e.conn != conn {
		return
	}

	if len(chunk) > 0 {
		if perr := e.parser.Feed(chunk); perr != nil {
			e.logger.Printf("gearman: %s: %v", e.hostspec, perr)
			e.onSocketError(perr)
			return
		}
	}
	if err != nil {
		e.onSocketError(err)
	}
}

func dialNonBlocking(addr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		portStr = strconv.Itoa(defaultPort)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("gearman: no such host %q", host)
	}
	ip := ips[0]

	domain := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := ip.To4(); ip4 != nil {
		addr4 := unix.SockaddrInet4{Port: port}
		copy(addr4.Addr[:], ip4)
		sa = &addr4
	} else {
		domain = unix.AF_INET6
		addr6 := unix.SockaddrInet6{Port: port}
		copy(addr6.Addr[:], ip.To16())
		sa = &addr6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS && err != unix.EWOULDBLOCK {
		unix.Close(fd)
		return nil, err
	}

	f := os.NewFile(uintptr(fd), "gearman-conn")
	conn, ferr := net.FileConn(f)
	f.Close()
	if ferr != nil {
		return nil, ferr
	}
	return conn, nil
}

