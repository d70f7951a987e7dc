package remote

import (
	"context"
	"time"

	"github.com/danmuck/enginectl/internal/observability"
	"github.com/danmuck/enginectl/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Discover broadcasts one probe and returns the selected instance per the
// configured selection policy. "Not found" is a normal negative result;
// socket-level failures are logged and reported the same way so callers
// have one failure channel.
func (c *Client) Discover(ctx context.Context) (Identity, bool) {
	var (
		id    Identity
		found bool
		seen  int
	)
	switch c.cfg.Selection {
	case SelectFirstResponder:
		id, found = c.discoverFirst(ctx)
		if found {
			seen = 1
			c.candMu.Lock()
			c.candidates = []Identity{id}
			c.candMu.Unlock()
		}
	default:
		candidates := c.DiscoverAll(ctx)
		seen = len(candidates)
		if seen > 0 {
			id = candidates[0]
			found = true
			if seen > 1 {
				log.Warn().Int("candidates", seen).Msg("remote: multiple instances discovered, selected first")
			}
		}
	}
	observability.RecordDiscovery(found, seen)

	if !found {
		log.Info().Str("filter", c.cfg.ProjectName).Msg("remote: no instance found")
		return Identity{}, false
	}
	c.nodeID = id.NodeID
	log.Info().
		Str("project", id.ProjectName).
		Str("engine", id.EngineVersion).
		Str("node", id.NodeID).
		Msg("remote: instance selected")
	return id, true
}

// DiscoverAll waits out the full discovery window and returns every
// distinct matching candidate in arrival order. The session peer is not
// selected; use AdoptInstance to pick one.
func (c *Client) DiscoverAll(ctx context.Context) []Identity {
	if err := c.probe(); err != nil {
		log.Warn().Err(err).Msg("remote: discovery probe failed")
		return nil
	}

	var candidates []Identity
	seen := make(map[string]struct{})
	c.receiveLoop(ctx, c.cfg.DiscoveryWindow, c.cfg.ReadTimeout, protocol.TypePing, false,
		func(m protocol.Message) bool {
			id := identityFromReply(m)
			if !c.matchesFilter(id) {
				return false
			}
			if _, dup := seen[id.NodeID]; dup {
				return false
			}
			seen[id.NodeID] = struct{}{}
			candidates = append(candidates, id)
			log.Info().
				Int("n", len(candidates)).
				Str("project", id.ProjectName).
				Str("engine", id.EngineVersion).
				Str("node", id.NodeID).
				Msg("remote: candidate instance")
			return false
		})
	c.candMu.Lock()
	c.candidates = candidates
	c.candMu.Unlock()
	return candidates
}

// Candidates returns the instances seen by the most recent DiscoverAll
// round. Safe for concurrent readers; the status surface polls this
// while discovery runs.
func (c *Client) Candidates() []Identity {
	c.candMu.Lock()
	defer c.candMu.Unlock()
	out := make([]Identity, len(c.candidates))
	copy(out, c.candidates)
	return out
}

func (c *Client) discoverFirst(ctx context.Context) (Identity, bool) {
	if err := c.probe(); err != nil {
		log.Warn().Err(err).Msg("remote: discovery probe failed")
		return Identity{}, false
	}

	var (
		id    Identity
		found bool
	)
	c.receiveLoop(ctx, c.cfg.DiscoveryWindow, c.cfg.ReadTimeout, protocol.TypePing, true,
		func(m protocol.Message) bool {
			candidate := identityFromReply(m)
			if !c.matchesFilter(candidate) {
				return false
			}
			id, found = candidate, true
			return true
		})
	return id, found
}

func (c *Client) probe() error {
	if err := c.ensureRendezvousSocket(); err != nil {
		return err
	}
	b, err := protocol.Encode(protocol.Ping(c.cfg.NodeName))
	if err != nil {
		return err
	}
	log.Debug().Str("group", c.cfg.GroupAddress).Str("filter", c.cfg.ProjectName).Msg("remote: probing for instances")
	return c.sendRendezvous(b)
}

// receiveLoop reads rendezvous datagrams until the window closes, pushing
// every read through the framing accumulator and invoking handle for each
// decoded envelope whose type differs from echo (suppressing our own
// outbound echoes). handle returns true to stop early. When stopOnIdle is
// set, a single idle read timeout ends the loop, implementing the
// first-responder policy's short bounded wait.
func (c *Client) receiveLoop(
	ctx context.Context,
	window, perRead time.Duration,
	echo protocol.MessageType,
	stopOnIdle bool,
	handle func(protocol.Message) bool,
) {
	deadline := time.Now().Add(window)
	acc := protocol.NewAccumulator(c.cfg.MaxAccumulate)
	buf := make([]byte, c.cfg.ReceiveBuffer)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		readDeadline := time.Now().Add(perRead)
		if readDeadline.After(deadline) {
			readDeadline = deadline
		}
		_ = c.mcast.SetReadDeadline(readDeadline)

		n, _, err := c.mcast.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				if stopOnIdle {
					return
				}
				continue
			}
			log.Debug().Err(err).Msg("remote: rendezvous read failed")
			return
		}

		m, done, perr := acc.Push(buf[:n])
		if perr != nil || !done {
			continue
		}
		if m.Type == echo {
			continue
		}
		if handle(m) {
			return
		}
	}
}
