// Package node is the public composition root: wiring addr/page/memory/
// process/interp/builtin/warp/transport into a single runnable node,
// the way race/api.go is a thin wrapper over internal/race/api in
// racedetector. A Node hosts zero or more Processes, runs
// their interpreters on its own goroutine, and answers the scheduler's
// JSON control-plane commands.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/processwarp/core/internal/addr"
	"github.com/processwarp/core/internal/builtin"
	"github.com/processwarp/core/internal/diag"
	"github.com/processwarp/core/internal/interp"
	"github.com/processwarp/core/internal/memory"
	"github.com/processwarp/core/internal/page"
	"github.com/processwarp/core/internal/process"
	"github.com/processwarp/core/internal/transport"
	"github.com/processwarp/core/internal/warp"
)

// Config configures one Node at creation time.
type Config struct {
	NID       addr.NID
	Transport transport.Transport
	GUI       builtin.GUIDelegate // nil if this node never hosts a GUI-bearing process
	FFI       *builtin.FFIFilter  // nil disables the ffi_call builtin entirely
	TickEvery time.Duration       // how often Run drives one round-robin tick per hosted process
}

// Node owns every Process this node currently hosts, plus the shared
// Interpreter/Registry/Scheduler/Coordinator instances they run against.
type Node struct {
	cfg   Config
	sched *warp.Scheduler
	coord *warp.Coordinator
	step  process.StepFunc
	Diag  *diag.Sink

	mu        sync.Mutex
	processes map[addr.VPID]*process.Process
}

// New creates a Node and wires its warp Coordinator to install inbound
// warped threads onto the right local Process.
func New(cfg Config) *Node {
	if cfg.TickEvery == 0 {
		cfg.TickEvery = time.Millisecond
	}
	n := &Node{cfg: cfg, processes: make(map[addr.VPID]*process.Process), Diag: diag.NewSink()}

	n.sched = warp.NewScheduler()
	n.coord = warp.NewCoordinator(cfg.NID, cfg.Transport, n.sched)
	n.coord.Diag = n.Diag
	n.coord.Resolve = func(vpid addr.VPID) (*process.Process, bool) {
		n.mu.Lock()
		defer n.mu.Unlock()
		p, ok := n.processes[vpid]
		return p, ok
	}
	n.coord.Install = func(vpid addr.VPID, ts warp.ThreadSet) {
		n.mu.Lock()
		p, ok := n.processes[vpid]
		n.mu.Unlock()
		if !ok {
			return
		}
		p.AddThread(&process.Thread{VTID: ts.VTID, Status: ts.Status, Stack: ts.Stack, TLS: ts.TLS}, false)
	}
	return n
}

// interpreter lazily builds the shared Interpreter/Registry once an FFI
// filter and GUI delegate (if any) are known.
func (n *Node) interpreter() process.StepFunc {
	if n.step != nil {
		return n.step
	}
	reg := builtin.NewRegistry(n.cfg.GUI)
	if n.cfg.FFI != nil {
		builtin.RegisterFFI(reg, n.cfg.FFI, func(hostName string, c *builtin.Call) (builtin.ReturnCode, error) {
			return builtin.ErrorCode, fmt.Errorf("node: FFI dispatch for %q not implemented by this embedder", hostName)
		})
	}
	n.step = interp.New(reg).Step
	return n.step
}

// Interpret runs one thread for up to one quantum; it implements
// process.StepFunc and is exported so embedders can drive Process.Tick
// themselves instead of going through Run's ticker loop.
func (n *Node) Interpret(ctx context.Context, p *process.Process, t *process.Thread) (process.Outcome, error) {
	return n.interpreter()(ctx, p, t)
}

// Activate begins hosting a process on this node (the `activate`
// control-plane command).
func (n *Node) Activate(vpid addr.VPID, master addr.NID, rootTID addr.VTID) *process.Process {
	pages := page.NewStore()
	mem := memory.New(n.cfg.NID, pages, n.cfg.Transport)
	mem.Diag = n.Diag
	p := process.New(vpid, master, mem)

	n.mu.Lock()
	n.processes[vpid] = p
	n.mu.Unlock()

	n.sched.Learn(vpid, n.cfg.NID, master == n.cfg.NID)
	return p
}

// Terminate stops hosting a process locally (the `terminate` command).
func (n *Node) Terminate(vpid addr.VPID) {
	n.mu.Lock()
	delete(n.processes, vpid)
	n.mu.Unlock()
	n.sched.Forget(vpid)
}

// Process returns a hosted process by vpid.
func (n *Node) Process(vpid addr.VPID) (*process.Process, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.processes[vpid]
	return p, ok
}

// Warp requests migration of thread tid (owned by vpid) to dst (the
// `warp` control-plane command).
func (n *Node) Warp(ctx context.Context, vpid addr.VPID, tid addr.VTID, dst addr.NID) error {
	p, ok := n.Process(vpid)
	if !ok {
		return fmt.Errorf("node: %w: %s", process.ErrGone, vpid)
	}
	th, ok := p.Thread(tid)
	if !ok {
		return fmt.Errorf("node: %w: thread %d", process.ErrGone, tid)
	}
	if err := n.coord.Send(ctx, vpid, th, p.Mem, dst); err != nil {
		return err
	}
	p.RemoveThread(tid) // source deletes its local record once the destination acks
	return nil
}

// HandleCommand dispatches one decoded scheduler control-plane command
// (activate/warp/warp_request/terminate/create_gui).
func (n *Node) HandleCommand(ctx context.Context, raw json.RawMessage) error {
	cmd, err := warp.DecodeCommand(raw)
	if err != nil {
		return err
	}
	switch cmd.Command {
	case warp.CmdActivate:
		n.Activate(cmd.PID, cmd.MasterNID, cmd.RootTID)
		return nil
	case warp.CmdWarp:
		return n.Warp(ctx, cmd.PID, cmd.TID, cmd.DstNID)
	case warp.CmdTerminate:
		n.Terminate(cmd.PID)
		return nil
	case warp.CmdCreateGUI:
		if n.cfg.GUI == nil {
			return fmt.Errorf("node: no GUI delegate configured for create_gui")
		}
		return n.cfg.GUI.CreateSurface(string(cmd.PID))
	case warp.CmdWarpRequest:
		return nil // inbound migrations are driven by the Coordinator's own wire messages, not this command
	default:
		return fmt.Errorf("node: unrecognized command %q", cmd.Command)
	}
}

// Run drives every hosted process's round-robin tick on its own
// goroutine until ctx is cancelled, racedetector's habit (cmd/racedetector
// run.go) of a single polling loop bounded by a ticker rather than one
// goroutine per unit of work.
func (n *Node) Run(ctx context.Context) error {
	step := n.interpreter()
	ticker := time.NewTicker(n.cfg.TickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.mu.Lock()
			procs := make([]*process.Process, 0, len(n.processes))
			for _, p := range n.processes {
				procs = append(procs, p)
			}
			n.mu.Unlock()
			for _, p := range procs {
				if _, err := p.Tick(ctx, step); err != nil {
					return err
				}
			}
		}
	}
}
