package node

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/processwarp/core/internal/addr"
	"github.com/processwarp/core/internal/page"
	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/transport"
	"github.com/processwarp/core/internal/warp"
)

// TestNodeWarpAcrossCluster is the composition-root counterpart to
// internal/warp's TestWarpSingleThread: two Nodes sharing a Hub, one
// thread warped from A to B through the public API instead of the
// Coordinator directly.
func TestNodeWarpAcrossCluster(t *testing.T) {
	hub := transport.NewHub()
	nidA, nidB := addr.NewNID(), addr.NewNID()
	nodeA := New(Config{NID: nidA, Transport: hub.Endpoint(nidA)})
	nodeB := New(Config{NID: nidB, Transport: hub.Endpoint(nidB)})

	vpid := addr.NewVPID()
	pA := nodeA.Activate(vpid, nidA, 0)
	nodeB.Activate(vpid, nidA, 0)

	stackPage := pA.Mem.Alloc(addr.AllocStack, page.Size)
	entry := addr.NewVAddr(addr.AllocMeta, 1)
	th := process.NewThread(pA.NewVTID(), entry, stackPage)
	pA.AddThread(th, true)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := nodeA.Warp(ctx, vpid, th.VTID, nidB); err != nil {
		t.Fatalf("Warp: %v", err)
	}

	if _, ok := pA.Thread(th.VTID); ok {
		t.Fatal("source still has a record of the warped thread")
	}
	pB, ok := nodeB.Process(vpid)
	if !ok {
		t.Fatal("destination node lost the process")
	}
	gotB, ok := pB.Thread(th.VTID)
	if !ok {
		t.Fatal("destination has no record of the warped thread")
	}
	if gotB.Status != process.Normal {
		t.Fatalf("destination thread status = %v, want Normal", gotB.Status)
	}
}

// TestNodeHandleCommandActivate exercises the JSON control-plane path:
// an "activate" command decoded and dispatched should result in a
// locally hosted process.
func TestNodeHandleCommandActivate(t *testing.T) {
	hub := transport.NewHub()
	nid := addr.NewNID()
	n := New(Config{NID: nid, Transport: hub.Endpoint(nid)})
	vpid := addr.NewVPID()

	cmd := warp.Command{Command: warp.CmdActivate, PID: vpid, MasterNID: nid}
	raw, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := n.HandleCommand(context.Background(), raw); err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}
	if _, ok := n.Process(vpid); !ok {
		t.Fatal("activate command did not result in a hosted process")
	}

	termCmd := warp.Command{Command: warp.CmdTerminate, PID: vpid}
	raw, _ = json.Marshal(termCmd)
	if err := n.HandleCommand(context.Background(), raw); err != nil {
		t.Fatalf("HandleCommand terminate: %v", err)
	}
	if _, ok := n.Process(vpid); ok {
		t.Fatal("terminate command left the process hosted")
	}
}

// TestNodeHandleCommandUnrecognized ensures an unknown command name is
// rejected rather than silently ignored.
func TestNodeHandleCommandUnrecognized(t *testing.T) {
	hub := transport.NewHub()
	nid := addr.NewNID()
	n := New(Config{NID: nid, Transport: hub.Endpoint(nid)})
	raw, _ := json.Marshal(warp.Command{Command: "not_a_real_command"})
	if err := n.HandleCommand(context.Background(), raw); err == nil {
		t.Fatal("expected an error for an unrecognized command")
	}
}
