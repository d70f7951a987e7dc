package remote

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"

	"github.com/danmuck/enginectl/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidConfig     = errors.New("remote: invalid config")
	ErrNoInstance        = errors.New("remote: no instance discovered")
	ErrNoCommandChannel  = errors.New("remote: no command channel open")
	ErrNegotiationFailed = errors.New("remote: command channel negotiation failed")
	ErrNoResponse        = errors.New("remote: no response before timeout")
	ErrPeerCrashed       = errors.New("remote: command connection lost, peer likely terminated")
)

// Identity names one discovered instance. Valid only for the discovery
// round that produced it; never persisted across process runs.
type Identity struct {
	NodeID        string
	ProjectName   string
	EngineVersion string
}

// Client holds one session's state: the selected peer node id, the owned
// rendezvous socket, and the owned command listener/connection.
type Client struct {
	cfg      Config
	group    *net.UDPAddr
	nodeID   string
	mcast    *net.UDPConn
	listener *net.TCPListener
	conn     net.Conn

	candMu     sync.Mutex
	candidates []Identity
}

// NewClient validates config and resolves the rendezvous endpoint. No
// sockets are opened until discovery runs.
func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	group, err := net.ResolveUDPAddr("udp4", cfg.GroupAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve group address %q: %v", ErrInvalidConfig, cfg.GroupAddress, err)
	}
	if group.Port == 0 {
		return nil, fmt.Errorf("%w: group address %q has no port", ErrInvalidConfig, cfg.GroupAddress)
	}
	return &Client{cfg: cfg, group: group}, nil
}

// NodeID returns the selected peer node id, empty before discovery.
func (c *Client) NodeID() string {
	return c.nodeID
}

// AdoptInstance selects a candidate the caller obtained from DiscoverAll
// as the session peer.
func (c *Client) AdoptInstance(id Identity) {
	c.nodeID = strings.TrimSpace(id.NodeID)
}

// CloseConnection notifies the peer and closes the command channel,
// keeping the rendezvous socket and selected peer so the session can
// negotiate again. Safe when no channel is open.
func (c *Client) CloseConnection() error {
	if c.nodeID != "" && c.mcast != nil {
		if b, err := protocol.Encode(protocol.CloseConnection(c.cfg.NodeName, c.nodeID)); err == nil {
			_, _ = c.mcast.WriteToUDP(b, c.group)
		}
	}

	var errs []error
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
		c.conn = nil
	}
	if c.listener != nil {
		errs = append(errs, c.listener.Close())
		c.listener = nil
	}
	return errors.Join(errs...)
}

// Close tears the session down on every exit path: a best-effort
// close_connection notification to the peer, then every owned socket.
// Safe to call repeatedly and on sessions that never fully opened.
func (c *Client) Close() error {
	errs := []error{c.CloseConnection()}
	if c.mcast != nil {
		errs = append(errs, c.mcast.Close())
		c.mcast = nil
	}
	c.nodeID = ""

	if err := errors.Join(errs...); err != nil {
		log.Debug().Err(err).Msg("remote: teardown")
		return err
	}
	return nil
}

func (c *Client) matchesFilter(id Identity) bool {
	return c.cfg.ProjectName == "" || id.ProjectName == c.cfg.ProjectName
}

func identityFromReply(m protocol.Message) Identity {
	data := protocol.DecodeIdentity(m)
	return Identity{
		NodeID:        m.Source,
		ProjectName:   data.ProjectName,
		EngineVersion: data.EngineVersion,
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isPeerReset classifies transport errors that indicate the peer process
// terminated or dropped the connection, as opposed to a script failure.
func isPeerReset(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED)
}
