package gearman

import (
	"io"
	"log"
	"time"
)

const (
	defaultPort           = 7003
	defaultConnectTimeout = 250 * time.Millisecond
	defaultDeadInterval   = 10 * time.Second
)

// HostSpec identifies what an Endpoint connects to: either a textual
// host:port (Addr) dialed over TCP, a pre-connected channel handed in by
// the embedder, or a factory invoked fresh on every connect attempt. At
// most one of the three is set; NewEndpoint rejects a HostSpec with none.
type HostSpec struct {
	Addr    string
	Channel io.ReadWriteCloser
	Factory func() (io.ReadWriteCloser, error)
}

func (h HostSpec) String() string {
	switch {
	case h.Addr != "":
		return h.Addr
	case h.Channel != nil, h.Factory != nil:
		return "<channel>"
	default:
		return "<unset>"
	}
}

// TCPHostSpec builds a HostSpec dialed over TCP. addr may omit the port,
// in which case defaultPort (7003) is assumed.
func TCPHostSpec(addr string) HostSpec {
	return HostSpec{Addr: addr}
}

// ChannelHostSpec builds a HostSpec around an already-connected
// byte-stream, bypassing dial. Connect still arms the connect-deadline
// timer and stops it once the channel is marked Ready.
// Intended for tests and for in-process job servers.
func ChannelHostSpec(rw io.ReadWriteCloser) HostSpec {
	return HostSpec{Channel: rw}
}

// FactoryHostSpec builds a HostSpec whose channel is created fresh on each
// connect attempt, for embedders that want a new in-process pipe per
// reconnect rather than a single reused one.
func FactoryHostSpec(f func() (io.ReadWriteCloser, error)) HostSpec {
	return HostSpec{Factory: f}
}

type endpointConfig struct {
	connectDeadline time.Duration
	deadInterval    time.Duration
	reactor         Reactor
	logger          *log.Logger
	options         map[string]bool
	optionOrder     []string
	offline         bool
}

func newEndpointConfig() *endpointConfig {
	return &endpointConfig{
		connectDeadline: defaultConnectTimeout,
		deadInterval:    defaultDeadInterval,
		logger:          log.Default(),
		options:         make(map[string]bool),
	}
}

// Option configures an Endpoint at construction time, mirroring the
// functional-options idiom used throughout this library's transports.
type Option func(*endpointConfig)

// WithOption enables a named Gearman server option (e.g. "exceptions"),
// negotiated via option_req on every successful connect (C6). Options are
// requested in the order their WithOption calls appear.
func WithOption(name string) Option {
	return func(c *endpointConfig) {
		if !c.options[name] {
			c.optionOrder = append(c.optionOrder, name)
		}
		c.options[name] = true
	}
}

// WithConnectDeadline overrides the 250ms connect deadline from §4.1.
// Exposed as a test seam; production embedders should leave it at the
// default.
func WithConnectDeadline(d time.Duration) Option {
	return func(c *endpointConfig) { c.connectDeadline = d }
}

// WithDeadInterval overrides the 10s dead interval from §4.1. Exposed so
// tests don't have to sleep 10 real seconds to observe Alive() flip back
// to true; production embedders should leave it at the default.
func WithDeadInterval(d time.Duration) Option {
	return func(c *endpointConfig) { c.deadInterval = d }
}

// WithReactor supplies the Reactor the Endpoint is driven by. If omitted,
// NewEndpoint constructs and runs its own Loop.
func WithReactor(r Reactor) Option {
	return func(c *endpointConfig) { c.reactor = r }
}

// WithLogger overrides the default *log.Logger used for connect failures,
// protocol violations, and dropped job_created races.
func WithLogger(l *log.Logger) Option {
	return func(c *endpointConfig) { c.logger = l }
}

// withOffline is the package-private seam behind TSetOffline; it is not
// exported as an Option because it is a runtime toggle, not a construction
// parameter.
func withOffline(offline bool) Option {
	return func(c *endpointConfig) { c.offline = offline }
}
