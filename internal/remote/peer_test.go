package remote

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/danmuck/enginectl/internal/protocol"
)

type peerBehavior int

const (
	peerReply peerBehavior = iota
	peerSilent
	peerReset
	peerIgnoreOpen
)

type pongSpec struct {
	nodeID   string
	identity protocol.IdentityData
}

// fakePeer speaks the editor side of the rendezvous and command protocol
// on loopback so sessions can be driven end to end in-process.
type fakePeer struct {
	t           *testing.T
	udp         *net.UDPConn
	pongs       []pongSpec
	behavior    peerBehavior
	echoPing    bool
	echoCommand bool
	wg          sync.WaitGroup
}

func newFakePeer(t *testing.T, pongs ...pongSpec) *fakePeer {
	t.Helper()
	udp, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("peer listen: %v", err)
	}
	p := &fakePeer{t: t, udp: udp, pongs: pongs}
	p.wg.Add(1)
	go p.serveRendezvous()
	t.Cleanup(p.close)
	return p
}

// groupAddr is handed to the client as its rendezvous endpoint; a unicast
// address exercises the same send/receive paths as the multicast group.
func (p *fakePeer) groupAddr() string {
	return p.udp.LocalAddr().String()
}

func (p *fakePeer) close() {
	_ = p.udp.Close()
	p.wg.Wait()
}

func (p *fakePeer) serveRendezvous() {
	defer p.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, src, err := p.udp.ReadFromUDP(buf)
		if err != nil {
			return
		}
		var m protocol.Message
		if err := json.Unmarshal(buf[:n], &m); err != nil {
			continue
		}
		switch m.Type {
		case protocol.TypePing:
			if p.echoPing {
				b, _ := protocol.Encode(protocol.Ping(m.Source))
				_, _ = p.udp.WriteToUDP(b, src)
			}
			for _, spec := range p.pongs {
				data, _ := json.Marshal(spec.identity)
				b, _ := json.Marshal(protocol.Message{
					Version: protocol.Version,
					Magic:   protocol.Magic,
					Source:  spec.nodeID,
					Dest:    m.Source,
					Type:    protocol.TypePong,
					Data:    data,
				})
				_, _ = p.udp.WriteToUDP(b, src)
			}
		case protocol.TypeOpenConnection:
			if p.behavior == peerIgnoreOpen {
				continue
			}
			var oc protocol.OpenConnectionData
			if err := json.Unmarshal(m.Data, &oc); err != nil {
				continue
			}
			conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", oc.CommandIP, oc.CommandPort))
			if err != nil {
				continue
			}
			p.wg.Add(1)
			go p.serveCommands(conn)
		case protocol.TypeCloseConnection:
			// Best-effort, unacknowledged.
		}
	}
}

func (p *fakePeer) serveCommands(conn net.Conn) {
	defer p.wg.Done()
	defer conn.Close()

	acc := protocol.NewAccumulator(0)
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		m, done, perr := acc.Push(buf[:n])
		if perr != nil || !done || m.Type != protocol.TypeCommand {
			continue
		}

		switch p.behavior {
		case peerSilent:
			continue
		case peerReset:
			if tc, ok := conn.(*net.TCPConn); ok {
				_ = tc.SetLinger(0)
			}
			return
		default:
		}

		if p.echoCommand {
			b, _ := protocol.Encode(m)
			_, _ = conn.Write(b)
		}

		var cd protocol.CommandData
		_ = json.Unmarshal(m.Data, &cd)
		data, _ := json.Marshal(evalCommand(cd))
		b, _ := json.Marshal(protocol.Message{
			Version: protocol.Version,
			Magic:   protocol.Magic,
			Source:  p.pongs[0].nodeID,
			Dest:    m.Source,
			Type:    protocol.MessageType("command_result"),
			Data:    data,
		})
		_, _ = conn.Write(b)
	}
}

func evalCommand(cd protocol.CommandData) protocol.CommandResultData {
	if cd.ExecMode == protocol.ModeEvaluateStatement && cd.Command == "1+1" {
		return protocol.CommandResultData{
			Success: true,
			Result:  "2",
			Output:  []protocol.OutputLine{{Type: "Info", Output: "2"}},
		}
	}
	return protocol.CommandResultData{Success: true}
}
