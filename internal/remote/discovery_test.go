package remote

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/enginectl/internal/protocol"
	"github.com/danmuck/enginectl/internal/testutil/testlog"
)

func testConfig(groupAddr string) Config {
	cfg := DefaultConfig()
	cfg.GroupAddress = groupAddr
	cfg.BindAddress = "127.0.0.1"
	cfg.ReadTimeout = 200 * time.Millisecond
	cfg.DiscoveryWindow = time.Second
	cfg.AcceptTimeout = 500 * time.Millisecond
	cfg.CommandTimeout = time.Second
	return cfg
}

func demoIdentity() protocol.IdentityData {
	return protocol.IdentityData{ProjectName: "Demo", EngineVersion: "5.4.0"}
}

func TestDiscoverFullCollection(t *testing.T) {
	testlog.Start(t)
	peer := newFakePeer(t, pongSpec{nodeID: "node-demo", identity: demoIdentity()})

	client, err := NewClient(testConfig(peer.groupAddr()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	id, found := client.Discover(context.Background())
	if !found {
		t.Fatalf("expected instance")
	}
	if id.NodeID != "node-demo" || id.ProjectName != "Demo" || id.EngineVersion != "5.4.0" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if client.NodeID() != "node-demo" {
		t.Fatalf("session node id not selected: %q", client.NodeID())
	}
}

func TestDiscoverFirstResponder(t *testing.T) {
	testlog.Start(t)
	peer := newFakePeer(t, pongSpec{nodeID: "node-demo", identity: demoIdentity()})

	cfg := testConfig(peer.groupAddr())
	cfg.Selection = SelectFirstResponder
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	start := time.Now()
	id, found := client.Discover(context.Background())
	if !found || id.NodeID != "node-demo" {
		t.Fatalf("expected node-demo, got found=%v id=%+v", found, id)
	}
	// First responder must not wait out the whole collection window.
	if elapsed := time.Since(start); elapsed > cfg.DiscoveryWindow {
		t.Fatalf("first responder took %v, window is %v", elapsed, cfg.DiscoveryWindow)
	}
}

func TestDiscoverSuppressesProbeEcho(t *testing.T) {
	testlog.Start(t)

	// A peer that only echoes the probe back must never surface as a
	// discovery result.
	echoOnly := newFakePeer(t)
	echoOnly.echoPing = true

	cfg := testConfig(echoOnly.groupAddr())
	cfg.DiscoveryWindow = 500 * time.Millisecond
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	if _, found := client.Discover(context.Background()); found {
		t.Fatalf("echoed probe surfaced as discovery result")
	}

	// With an echo in front of a real reply the identity still comes
	// from the reply.
	peer := newFakePeer(t, pongSpec{nodeID: "node-demo", identity: demoIdentity()})
	peer.echoPing = true

	client2, err := NewClient(testConfig(peer.groupAddr()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client2.Close()

	id, found := client2.Discover(context.Background())
	if !found || id.NodeID != "node-demo" {
		t.Fatalf("expected node-demo past echo, got found=%v id=%+v", found, id)
	}
}

func TestDiscoverProjectFilter(t *testing.T) {
	testlog.Start(t)
	peer := newFakePeer(t,
		pongSpec{nodeID: "node-other", identity: protocol.IdentityData{ProjectName: "Other", EngineVersion: "5.4.0"}},
		pongSpec{nodeID: "node-target", identity: protocol.IdentityData{ProjectName: "Target", EngineVersion: "5.4.0"}},
	)

	cfg := testConfig(peer.groupAddr())
	cfg.ProjectName = "Target"
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	candidates := client.DiscoverAll(context.Background())
	if len(candidates) != 1 || candidates[0].NodeID != "node-target" {
		t.Fatalf("filter must keep only the matching identity, got %+v", candidates)
	}
}

func TestDiscoverFilteredMissWithinWindow(t *testing.T) {
	testlog.Start(t)
	peer := newFakePeer(t, pongSpec{nodeID: "node-other", identity: protocol.IdentityData{ProjectName: "Other"}})

	cfg := testConfig(peer.groupAddr())
	cfg.ProjectName = "Target"
	cfg.DiscoveryWindow = time.Second
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	start := time.Now()
	_, found := client.Discover(context.Background())
	elapsed := time.Since(start)
	if found {
		t.Fatalf("non-matching project must not be found")
	}
	if elapsed > 3*time.Second {
		t.Fatalf("discovery miss took %v, window is %v", elapsed, cfg.DiscoveryWindow)
	}
}

func TestDiscoverAllDeduplicatesByNodeID(t *testing.T) {
	testlog.Start(t)
	peer := newFakePeer(t,
		pongSpec{nodeID: "node-demo", identity: demoIdentity()},
		pongSpec{nodeID: "node-demo", identity: demoIdentity()},
	)

	client, err := NewClient(testConfig(peer.groupAddr()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	candidates := client.DiscoverAll(context.Background())
	if len(candidates) != 1 {
		t.Fatalf("expected 1 distinct candidate, got %d", len(candidates))
	}
}

func TestDiscoverBadBindAddressReportsNotFound(t *testing.T) {
	testlog.Start(t)

	cfg := testConfig("239.0.0.1:6766")
	cfg.BindAddress = "999.999.0.1"
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	if _, found := client.Discover(context.Background()); found {
		t.Fatalf("socket failure must report not found, never propagate")
	}
}
