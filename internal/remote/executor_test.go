package remote

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/enginectl/internal/protocol"
	"github.com/danmuck/enginectl/internal/testutil/testlog"
)

func openSession(t *testing.T, peer *fakePeer) *Client {
	t.Helper()
	client, err := NewClient(testConfig(peer.groupAddr()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if _, found := client.Discover(context.Background()); !found {
		t.Fatalf("discovery failed")
	}
	if err := client.OpenConnection(); err != nil {
		t.Fatalf("open connection: %v", err)
	}
	return client
}

func TestExecuteEvaluateStatement(t *testing.T) {
	testlog.Start(t)
	peer := newFakePeer(t, pongSpec{nodeID: "node-demo", identity: demoIdentity()})
	peer.echoCommand = true

	client := openSession(t, peer)
	res, err := client.Execute(context.Background(), Request{
		Command:    "1+1",
		Mode:       protocol.ModeEvaluateStatement,
		Unattended: true,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || !strings.Contains(res.Result, "2") {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Crashed {
		t.Fatalf("successful execution flagged as crashed")
	}
	if res.Raw == nil || res.Raw.Source != "node-demo" {
		t.Fatalf("raw reply missing or wrong source: %+v", res.Raw)
	}
}

func TestExecuteTimeoutReturnsWithinBound(t *testing.T) {
	testlog.Start(t)
	peer := newFakePeer(t, pongSpec{nodeID: "node-demo", identity: demoIdentity()})
	peer.behavior = peerSilent

	client := openSession(t, peer)
	timeout := 300 * time.Millisecond
	start := time.Now()
	res, err := client.Execute(context.Background(), Request{
		Command:    "1+1",
		Mode:       protocol.ModeEvaluateStatement,
		Unattended: true,
		Timeout:    timeout,
	})
	elapsed := time.Since(start)

	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", err)
	}
	if res.Success || res.Crashed {
		t.Fatalf("timeout must be a plain failure: %+v", res)
	}
	if elapsed > timeout+700*time.Millisecond {
		t.Fatalf("timeout took %v, bound is %v", elapsed, timeout)
	}
}

func TestExecuteClassifiesPeerReset(t *testing.T) {
	testlog.Start(t)
	peer := newFakePeer(t, pongSpec{nodeID: "node-demo", identity: demoIdentity()})
	peer.behavior = peerReset

	client := openSession(t, peer)
	res, err := client.Execute(context.Background(), Request{
		Command:    "1+1",
		Mode:       protocol.ModeEvaluateStatement,
		Unattended: true,
		Timeout:    2 * time.Second,
	})
	if !errors.Is(err, ErrPeerCrashed) {
		t.Fatalf("expected ErrPeerCrashed, got %v", err)
	}
	if !res.Crashed || res.Success {
		t.Fatalf("reset must set the crashed flag: %+v", res)
	}
}

func TestExecuteWithoutChannelIsFailureNotPanic(t *testing.T) {
	testlog.Start(t)

	client, err := NewClient(testConfig("127.0.0.1:6766"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	res, err := client.Execute(context.Background(), Request{
		Command: "1+1",
		Mode:    protocol.ModeEvaluateStatement,
	})
	if !errors.Is(err, ErrNoCommandChannel) {
		t.Fatalf("expected ErrNoCommandChannel, got %v", err)
	}
	if res.Crashed {
		t.Fatalf("programming error must not be classified as crash")
	}
}

func TestExecuteRejectsInvalidMode(t *testing.T) {
	testlog.Start(t)
	peer := newFakePeer(t, pongSpec{nodeID: "node-demo", identity: demoIdentity()})

	client := openSession(t, peer)
	if _, err := client.Execute(context.Background(), Request{Command: "x", Mode: "RunFast"}); !errors.Is(err, protocol.ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}
