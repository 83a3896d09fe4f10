package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/processwarp/core/internal/addr"
	"github.com/processwarp/core/internal/code"
	"github.com/processwarp/core/internal/memory"
	"github.com/processwarp/core/internal/page"
	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/transport"
	"github.com/processwarp/core/node"
)

// newRunCmd hosts a single process on a single node and runs a small
// built-in add(a, b) program to FINISH, printing its exit code. A real
// deployment loads its function/type tables from a compiled bytecode
// file (out of scope, "no bytecode format design"); this
// demo program exists so the CLI has something concrete to exercise end
// to end without that loader.
func newRunCmd() *cobra.Command {
	var a, b int64

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single node hosting one demo add(a, b) process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), a, b)
		},
	}
	cmd.Flags().Int64Var(&a, "a", 5, "first addend")
	cmd.Flags().Int64Var(&b, "b", 7, "second addend")
	return cmd
}

func runDemo(ctx context.Context, a, b int64) error {
	self := addr.NewNID()
	hub := transport.NewHub()
	n := node.New(node.Config{NID: self, Transport: hub.Endpoint(self)})

	vpid := addr.NewVPID()
	p := n.Activate(vpid, self, 0)

	writeU32 := func(mem *memory.Accessor, v addr.VAddr, value uint32) error {
		pg, err := mem.EnsureWritable(ctx, uintptr(v.Index()), self)
		if err != nil {
			return err
		}
		buf := []byte{byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24)}
		return mem.Write(pg, 0, buf)
	}

	lhs := p.Mem.Alloc(addr.AllocHeap, 4)
	rhs := p.Mem.Alloc(addr.AllocHeap, 4)
	sum := p.Mem.Alloc(addr.AllocHeap, 4)
	if err := writeU32(p.Mem, lhs, uint32(a)); err != nil {
		return fmt.Errorf("pwnode: write lhs: %w", err)
	}
	if err := writeU32(p.Mem, rhs, uint32(b)); err != nil {
		return fmt.Errorf("pwnode: write rhs: %w", err)
	}

	entry := addr.NewVAddr(addr.AllocMeta, 1)
	p.LoadFunction(&code.Function{
		Addr: entry,
		Name: "add_entry",
		BasicBlocks: []code.BasicBlock{{
			Instructions: []code.Instruction{
				{Op: code.OpAddI32, Width: code.Width32, Value: lhs, Addr: rhs, Output: sum},
				{Op: code.OpRet, Width: code.Width32, Value: sum},
			},
		}},
	})

	stackPage := p.Mem.Alloc(addr.AllocStack, page.Size)
	th := process.NewThread(p.NewVTID(), entry, stackPage)
	th.Status = process.Normal
	p.AddThread(th, true)

	for {
		outcome, err := p.Tick(ctx, n.Interpret)
		if err != nil {
			return fmt.Errorf("pwnode: tick: %w", err)
		}
		if outcome == process.FinishOutcome {
			break
		}
		if outcome == process.ErrorOutcome {
			return fmt.Errorf("pwnode: thread faulted: %w", th.Fault)
		}
	}

	fmt.Printf("add(%d, %d) exited with code %d\n", a, b, th.ExitCode)
	return nil
}
