package remote

import (
	"time"

	"github.com/danmuck/enginectl/internal/protocol"
)

// SelectionPolicy controls how discovery picks among candidate instances.
type SelectionPolicy string

const (
	// SelectFirstResponder returns as soon as one valid matching reply
	// arrives. Lowest latency, least observable.
	SelectFirstResponder SelectionPolicy = "first_responder"
	// SelectFullCollection waits out the whole discovery window, logs
	// every distinct candidate, then picks the first in arrival order.
	SelectFullCollection SelectionPolicy = "full_collection"
)

// Config defines one client session's endpoints, filter, and timeouts.
type Config struct {
	// GroupAddress is the rendezvous endpoint, host:port. When the host
	// is a multicast group the socket binds the group port and joins it;
	// a unicast address skips the join, which keeps loopback test peers
	// reachable through the same code path.
	GroupAddress string
	// BindAddress is the local address the rendezvous socket binds to.
	BindAddress string
	// ProjectName filters discovery replies when non-empty.
	ProjectName string
	// NodeName is this client's source id on the wire.
	NodeName string
	Selection SelectionPolicy

	ReadTimeout     time.Duration
	DiscoveryWindow time.Duration
	AcceptTimeout   time.Duration
	CommandTimeout  time.Duration

	ReceiveBuffer int
	MaxAccumulate int
}

const (
	// DefaultGroupAddress is the editor's remote execution rendezvous.
	DefaultGroupAddress = "239.0.0.1:6766"
	// DefaultCommandTimeout bounds one command round trip.
	DefaultCommandTimeout = 5 * time.Second
)

// DefaultConfig returns wire-compatible defaults for the editor peer.
func DefaultConfig() Config {
	return Config{
		GroupAddress:    DefaultGroupAddress,
		BindAddress:     "0.0.0.0",
		NodeName:        "enginectl",
		Selection:       SelectFullCollection,
		ReadTimeout:     500 * time.Millisecond,
		DiscoveryWindow: 5 * time.Second,
		AcceptTimeout:   2 * time.Second,
		CommandTimeout:  DefaultCommandTimeout,
		ReceiveBuffer:   2 * 1024 * 1024,
		MaxAccumulate:   protocol.DefaultMaxAccumulate,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.GroupAddress == "" {
		c.GroupAddress = def.GroupAddress
	}
	if c.BindAddress == "" {
		c.BindAddress = def.BindAddress
	}
	if c.NodeName == "" {
		c.NodeName = def.NodeName
	}
	if c.Selection == "" {
		c.Selection = def.Selection
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.DiscoveryWindow <= 0 {
		c.DiscoveryWindow = def.DiscoveryWindow
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = def.AcceptTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = def.CommandTimeout
	}
	if c.ReceiveBuffer <= 0 {
		c.ReceiveBuffer = def.ReceiveBuffer
	}
	if c.MaxAccumulate <= 0 {
		c.MaxAccumulate = def.MaxAccumulate
	}
	return c
}
