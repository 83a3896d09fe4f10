package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/processwarp/core/internal/addr"
	"github.com/processwarp/core/internal/page"
	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/transport"
	"github.com/processwarp/core/node"
)

// newClusterCmd activates one process across two in-process nodes
// sharing a transport.Hub, warps its only thread from A to B, and
// reports the outcome — the CLI-reachable counterpart to
// internal/warp's TestWarpSingleThread, minus the test harness.
func newClusterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cluster",
		Short: "Demonstrate a two-node cluster warping one thread from A to B",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCluster(cmd.Context())
		},
	}
}

func runCluster(ctx context.Context) error {
	hub := transport.NewHub()
	nidA, nidB := addr.NewNID(), addr.NewNID()
	nodeA := node.New(node.Config{NID: nidA, Transport: hub.Endpoint(nidA)})
	nodeB := node.New(node.Config{NID: nidB, Transport: hub.Endpoint(nidB)})

	vpid := addr.NewVPID()
	pA := nodeA.Activate(vpid, nidA, 0)
	nodeB.Activate(vpid, nidA, 0)

	stackPage := pA.Mem.Alloc(addr.AllocStack, page.Size)
	entry := addr.NewVAddr(addr.AllocMeta, 1)
	th := process.NewThread(pA.NewVTID(), entry, stackPage)
	pA.AddThread(th, true)

	fmt.Printf("node %s: thread %d activated\n", nidA, th.VTID)

	if err := nodeA.Warp(ctx, vpid, th.VTID, nidB); err != nil {
		return fmt.Errorf("pwnode: warp: %w", err)
	}

	pB, _ := nodeB.Process(vpid)
	gotB, ok := pB.Thread(th.VTID)
	if !ok {
		return fmt.Errorf("pwnode: thread %d missing on destination after warp", th.VTID)
	}
	fmt.Printf("node %s: thread %d resident, status %s\n", nidB, gotB.VTID, gotB.Status)
	return nil
}
