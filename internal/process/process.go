// Package process implements the Process & Thread component: per-process function/type tables and thread map, and the
// round-robin tick() that drives one quantum of interpretation.
//
// Grounded on racedetector's internal/race/detector.Detector for its
// top-level struct-of-maps shape (one struct owning the shadow map plus
// bookkeeping counters) and on internal/race/goroutine.RaceContext for
// the idea of a small, cheaply snapshotted per-thread state record.
package process

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/processwarp/core/internal/addr"
	"github.com/processwarp/core/internal/code"
	"github.com/processwarp/core/internal/memory"
)

// ErrGone is PROCESS-GONE from a command referenced a pid
// this node no longer hosts.
var ErrGone = fmt.Errorf("process: unknown or terminated process")

// Outcome is tick()'s result.
type Outcome uint8

const (
	Idle Outcome = iota
	Running
	FinishOutcome
	ErrorOutcome
)

func (o Outcome) String() string {
	switch o {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case FinishOutcome:
		return "FINISH"
	case ErrorOutcome:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// StepFunc runs the interpreter for one quantum against a single thread.
// Process depends on this as an injected capability rather than
// importing internal/interp directly — it breaks what would otherwise
// be an import cycle (interp needs process.Thread; process must not
// need interp).
type StepFunc func(ctx context.Context, p *Process, t *Thread) (Outcome, error)

// Process is one hosted vpid's runtime state.
type Process struct {
	VPID   addr.VPID
	Master addr.NID
	Mem    *memory.Accessor

	mu        sync.Mutex
	functions map[addr.VAddr]*code.Function
	types     map[addr.VAddr]*code.TypeDesc
	threads   map[addr.VTID]*Thread
	runQueue  []addr.VTID
	rrCursor  int
	rootTID   addr.VTID
	nextVTID  uint64

	// inflight bounds concurrently outstanding coherence requests this
	// process may have in flight at once, using golang.org/x/sync/semaphore.
	// Only callers of AcquireCoherenceSlot are bounded; the interpreter and
	// Accessor in this module do not call it.
	inflight *semaphore.Weighted
}

// New creates an empty process hosted on this node.
func New(vpid addr.VPID, master addr.NID, mem *memory.Accessor) *Process {
	return &Process{
		VPID:      vpid,
		Master:    master,
		Mem:       mem,
		functions: make(map[addr.VAddr]*code.Function),
		types:     make(map[addr.VAddr]*code.TypeDesc),
		threads:   make(map[addr.VTID]*Thread),
		inflight:  semaphore.NewWeighted(32),
	}
}

// LoadFunction installs a function-table entry, populated by an external
// Loader that is out of scope for this core; the Process just holds
// what it's given.
func (p *Process) LoadFunction(f *code.Function) {
	p.mu.Lock()
	p.functions[f.Addr] = f
	p.mu.Unlock()
}

func (p *Process) Function(a addr.VAddr) (*code.Function, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.functions[a]
	return f, ok
}

func (p *Process) LoadType(t *code.TypeDesc) {
	p.mu.Lock()
	p.types[t.Addr] = t
	p.mu.Unlock()
}

func (p *Process) Type(a addr.VAddr) (*code.TypeDesc, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.types[a]
	return t, ok
}

// NewVTID allocates the next monotonic virtual thread id for this
// process.
func (p *Process) NewVTID() addr.VTID {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextVTID++
	return addr.VTID(p.nextVTID)
}

// AddThread installs a thread (created by process startup or a completed
// inbound warp) and enqueues it for round-robin scheduling; Tick skips it
// until it is runnable.
func (p *Process) AddThread(t *Thread, isRoot bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.threads[t.VTID] = t
	if isRoot {
		p.rootTID = t.VTID
	}
	p.runQueue = append(p.runQueue, t.VTID)
}

func (p *Process) Thread(vtid addr.VTID) (*Thread, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.threads[vtid]
	return t, ok
}

// RemoveThread drops a thread record, e.g. after WARP-DONE on the source
// node.
func (p *Process) RemoveThread(vtid addr.VTID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.threads, vtid)
	for i, v := range p.runQueue {
		if v == vtid {
			p.runQueue = append(p.runQueue[:i], p.runQueue[i+1:]...)
			break
		}
	}
}

// AcquireCoherenceSlot bounds concurrently in-flight Accessor faults this
// process may issue; release with ReleaseCoherenceSlot once the fault
// resolves.
func (p *Process) AcquireCoherenceSlot(ctx context.Context) error {
	return p.inflight.Acquire(ctx, 1)
}

func (p *Process) ReleaseCoherenceSlot() { p.inflight.Release(1) }

// Tick selects the next runnable thread round-robin and runs it for one
// quantum via step. Returns Idle if the run queue is empty. If threads
// are queued but none is runnable (e.g. all WAIT-WARP), nothing is stepped
// and the process's overall outcome is returned: Running while any thread
// has not reached Finish or Error. Returns FinishOutcome once every thread
// has reached Finish, and ErrorOutcome if the stepped thread transitioned
// to Error this quantum.
func (p *Process) Tick(ctx context.Context, step StepFunc) (Outcome, error) {
	p.mu.Lock()
	if len(p.runQueue) == 0 {
		p.mu.Unlock()
		return Idle, nil
	}
	var t *Thread
	var ok bool
	for i := 0; i < len(p.runQueue); i++ {
		idx := (p.rrCursor + i) % len(p.runQueue)
		cand := p.threads[p.runQueue[idx]]
		if cand != nil && cand.Status.Runnable() {
			t = cand
			ok = true
			p.rrCursor = (idx + 1) % len(p.runQueue)
			break
		}
	}
	p.mu.Unlock()
	if !ok {
		return p.overallOutcome(), nil
	}

	outcome, err := step(ctx, p, t)

	switch t.Status {
	case Finish:
		p.RemoveThread(t.VTID)
	case Error:
		// left in place for the caller to inspect t.Fault; the scheduler
		// decides whether process-wide teardown is warranted.
	}

	if outcome == FinishOutcome || outcome == ErrorOutcome {
		return outcome, err
	}
	return p.overallOutcome(), err
}

func (p *Process) overallOutcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.threads) == 0 {
		return FinishOutcome
	}
	for _, t := range p.threads {
		if t.Status != Finish && t.Status != Error {
			return Running
		}
	}
	for _, t := range p.threads {
		if t.Status == Error {
			return ErrorOutcome
		}
	}
	return FinishOutcome
}
