package remote

import (
	"fmt"
	"net"
	"time"

	"github.com/danmuck/enginectl/internal/protocol"
	"github.com/rs/zerolog/log"
)

// OpenConnection negotiates the point-to-point command channel with the
// previously selected instance: bind an ephemeral loopback listener, ask
// the peer to dial it over the rendezvous socket, then accept within the
// configured timeout. Failure here is uniform: "discovered but
// unreachable" and "wrong node id" are indistinguishable, and callers
// must retry from discovery.
func (c *Client) OpenConnection() error {
	if c.nodeID == "" {
		return ErrNoInstance
	}
	if c.conn != nil {
		return nil
	}
	if err := c.ensureRendezvousSocket(); err != nil {
		return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}

	ln, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return fmt.Errorf("%w: bind command listener: %v", ErrNegotiationFailed, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	msg, err := protocol.OpenConnection(c.cfg.NodeName, c.nodeID, "127.0.0.1", port)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}
	b, err := protocol.Encode(msg)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}
	if err := c.sendRendezvous(b); err != nil {
		_ = ln.Close()
		return fmt.Errorf("%w: send open_connection: %v", ErrNegotiationFailed, err)
	}

	_ = ln.SetDeadline(time.Now().Add(c.cfg.AcceptTimeout))
	conn, err := ln.Accept()
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("%w: accept: %v", ErrNegotiationFailed, err)
	}

	c.listener = ln
	c.conn = conn
	log.Info().Int("port", port).Str("node", c.nodeID).Msg("remote: command channel established")
	return nil
}
