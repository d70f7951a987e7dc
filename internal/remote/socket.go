package remote

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/net/ipv4"
)

// ensureRendezvousSocket opens the shared UDP socket used for the probe,
// the open_connection handshake, and the close_connection notification.
// It must stay open across that whole sequence.
func (c *Client) ensureRendezvousSocket() error {
	if c.mcast != nil {
		return nil
	}

	multicast := c.group.IP.IsMulticast()
	bindPort := 0
	if multicast {
		bindPort = c.group.Port
	}

	lc := net.ListenConfig{Control: reuseAddr}
	pc, err := lc.ListenPacket(context.Background(), "udp4",
		net.JoinHostPort(c.cfg.BindAddress, strconv.Itoa(bindPort)))
	if err != nil {
		return fmt.Errorf("remote: bind rendezvous socket: %w", err)
	}
	udp := pc.(*net.UDPConn)

	if multicast {
		p := ipv4.NewPacketConn(udp)
		if err := p.JoinGroup(nil, &net.UDPAddr{IP: c.group.IP}); err != nil {
			_ = udp.Close()
			return fmt.Errorf("remote: join group %s: %w", c.group.IP, err)
		}
		// Loopback delivery keeps same-host discovery working; TTL 0
		// keeps probes from leaving the host, matching the peer default.
		_ = p.SetMulticastLoopback(true)
		_ = p.SetMulticastTTL(0)
	}

	c.mcast = udp
	return nil
}

func (c *Client) sendRendezvous(b []byte) error {
	_, err := c.mcast.WriteToUDP(b, c.group)
	return err
}
