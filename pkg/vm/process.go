package vm

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"flock/pkg/fault"
	"flock/pkg/memory"
	"flock/pkg/program"
	"flock/pkg/snapshot"
	"flock/pkg/types"
)

// ThreadRunState is the scheduling state of a thread within its process.
type ThreadRunState int

const (
	// ThreadCreated means the thread exists but has not been launched.
	ThreadCreated ThreadRunState = iota
	// ThreadRunnable means the thread can execute its next instruction.
	ThreadRunnable
	// ThreadBlocked means the thread is waiting on a JOIN target.
	ThreadBlocked
	// ThreadFinished means the thread ran THREAD_FINISH and its result
	// awaits exactly one JOIN.
	ThreadFinished
)

type threadEntry struct {
	thread     *Thread
	state      ThreadRunState
	joinTarget types.ThreadID
	result     types.Word
	done       chan struct{}
}

// Process owns a program, an address space and the threads executing
// in it. Threads run concurrently under Run, or are driven one
// instruction at a time through ExecuteStep.
type Process struct {
	id      uuid.UUID
	program *program.Program
	mem     *memory.Manager

	mu      sync.Mutex
	nextID  types.ThreadID
	rootID  types.ThreadID
	threads map[types.ThreadID]*threadEntry

	group  *errgroup.Group
	runCtx context.Context

	debugMu sync.Mutex
}

// processExit carries an EXIT status out of the errgroup.
type processExit struct {
	status types.Word
}

func (e *processExit) Error() string {
	return fmt.Sprintf("process exit with status %d", e.status)
}

func NewProcess(prog *program.Program, cfg memory.Config) (*Process, error) {
	mem, err := memory.NewManager(cfg)
	if err != nil {
		return nil, err
	}

	return &Process{
		id:      uuid.New(),
		program: prog,
		mem:     mem,
		nextID:  1,
		threads: make(map[types.ThreadID]*threadEntry),
	}, nil
}

func (p *Process) ID() uuid.UUID {
	return p.id
}

// Memory exposes the process address space, mainly so hosts can
// inspect global cells after a run.
func (p *Process) Memory() *memory.Manager {
	return p.mem
}

// SpawnRoot creates the initial thread at instruction 0 with an empty
// stack. Run calls it implicitly when no threads exist yet.
func (p *Process) SpawnRoot() (types.ThreadID, error) {
	id, err := p.spawn(nil, 0, nil)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	p.rootID = id
	p.mu.Unlock()
	return id, nil
}

// spawn registers a new thread starting at ip with the given stack.
// When parent is non-nil the child receives a copy of the parent's
// local memory; identifiers are assigned monotonically from 1.
func (p *Process) spawn(parent *Thread, ip types.Word, stack Stack) (types.ThreadID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++

	if parent == nil {
		if err := p.mem.CreateLocal(id); err != nil {
			return 0, err
		}
	} else {
		if err := p.mem.CloneLocal(parent.id, id); err != nil {
			return 0, err
		}
	}

	entry := &threadEntry{
		thread: &Thread{id: id, ip: ip, stack: stack, proc: p},
		state:  ThreadCreated,
		done:   make(chan struct{}),
	}
	p.threads[id] = entry

	// Forks that happen mid-run join the running group directly.
	if p.group != nil {
		entry.state = ThreadRunnable
		p.group.Go(func() error {
			return p.runThread(entry)
		})
	}
	return id, nil
}

// Run executes all threads to completion and returns the process exit
// status: the EXIT operand if any thread ran EXIT, otherwise the root
// thread's THREAD_FINISH result, or 0 when the root fell off the end
// of the program. Any fault aborts the whole process.
func (p *Process) Run(ctx context.Context) (types.Word, error) {
	p.mu.Lock()
	if len(p.threads) == 0 {
		p.mu.Unlock()
		if _, err := p.SpawnRoot(); err != nil {
			return 0, err
		}
		p.mu.Lock()
	}

	group, runCtx := errgroup.WithContext(ctx)
	p.group = group
	p.runCtx = runCtx

	for _, entry := range p.threads {
		if entry.state != ThreadCreated {
			continue
		}
		entry.state = ThreadRunnable
		e := entry
		group.Go(func() error {
			return p.runThread(e)
		})
	}
	rootID := p.rootID
	p.mu.Unlock()

	err := group.Wait()

	p.mu.Lock()
	p.group = nil
	p.runCtx = nil
	p.mu.Unlock()

	if err != nil {
		if exit, ok := err.(*processExit); ok {
			return exit.status, nil
		}
		return 0, err
	}

	// No EXIT anywhere: the process result is the root's result.
	res, err := p.claimResult(rootID)
	if err != nil {
		return 0, nil
	}
	return res, nil
}

func (p *Process) runThread(entry *threadEntry) error {
	t := entry.thread
	for steps := 0; ; steps++ {
		if steps%1024 == 0 {
			select {
			case <-p.runCtx.Done():
				return p.runCtx.Err()
			default:
			}
		}

		out := t.Step()
		switch out.Kind {
		case OutcomeContinue:

		case OutcomeBlocked:
			p.setState(entry, ThreadBlocked, out.Target)
			res, err := p.awaitJoin(out.Target)
			if err != nil {
				return err
			}
			t.stack.Push(res)
			p.setState(entry, ThreadRunnable, 0)

		case OutcomeFinished:
			p.finishThread(entry, out.Value)
			return nil

		case OutcomeExited:
			p.finishThread(entry, out.Value)
			return &processExit{status: out.Value}

		case OutcomeFaulted:
			return out.Fault
		}
	}
}

func (p *Process) setState(entry *threadEntry, state ThreadRunState, target types.ThreadID) {
	p.mu.Lock()
	entry.state = state
	entry.joinTarget = target
	p.mu.Unlock()
}

// awaitJoin blocks until the target finishes, then claims its result.
// Joining an id that was never spawned, or whose result was already
// claimed, is an UnknownThread fault.
func (p *Process) awaitJoin(target types.ThreadID) (types.Word, error) {
	p.mu.Lock()
	entry, ok := p.threads[target]
	p.mu.Unlock()
	if !ok {
		return 0, fault.Errorf(fault.UnknownThread, "join of unknown thread %d", target)
	}

	select {
	case <-entry.done:
	case <-p.runCtx.Done():
		return 0, p.runCtx.Err()
	}
	return p.claimResult(target)
}

// claimResult hands out a finished thread's result exactly once; the
// entry is removed so a second claim faults.
func (p *Process) claimResult(target types.ThreadID) (types.Word, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.threads[target]
	if !ok || entry.state != ThreadFinished {
		return 0, fault.Errorf(fault.UnknownThread, "no claimable result for thread %d", target)
	}
	delete(p.threads, target)
	return entry.result, nil
}

func (p *Process) finishThread(entry *threadEntry, result types.Word) {
	p.mu.Lock()
	entry.state = ThreadFinished
	entry.result = result
	p.mu.Unlock()

	p.mem.ReleaseLocal(entry.thread.id)
	close(entry.done)
}

// ExecuteStep advances the given thread by one instruction without the
// concurrent runner; hosts use it to interleave threads deterministically.
// A blocked thread makes progress only once its JOIN target has
// finished, at which point the result is claimed and pushed.
func (p *Process) ExecuteStep(id types.ThreadID) (StepOutcome, error) {
	p.mu.Lock()
	entry, ok := p.threads[id]
	if !ok {
		p.mu.Unlock()
		return StepOutcome{}, fault.Errorf(fault.UnknownThread, "step of unknown thread %d", id)
	}

	if entry.state == ThreadFinished {
		p.mu.Unlock()
		return finished(entry.result), nil
	}

	if entry.state == ThreadBlocked {
		target, tok := p.threads[entry.joinTarget]
		if !tok {
			p.mu.Unlock()
			return StepOutcome{}, fault.Errorf(fault.UnknownThread, "join of unknown thread %d", entry.joinTarget)
		}
		if target.state != ThreadFinished {
			out := blockedOn(entry.joinTarget)
			p.mu.Unlock()
			return out, nil
		}
		delete(p.threads, entry.joinTarget)
		entry.thread.stack.Push(target.result)
		entry.state = ThreadRunnable
		entry.joinTarget = 0
	}
	p.mu.Unlock()

	out := entry.thread.Step()
	switch out.Kind {
	case OutcomeBlocked:
		p.setState(entry, ThreadBlocked, out.Target)
	case OutcomeFinished:
		p.finishThread(entry, out.Value)
	case OutcomeExited:
		p.finishThread(entry, out.Value)
	}
	return out, nil
}

// State reports a thread's scheduling state.
func (p *Process) State(id types.ThreadID) (ThreadRunState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.threads[id]
	if !ok {
		return 0, fault.Errorf(fault.UnknownThread, "unknown thread %d", id)
	}
	return entry.state, nil
}

// SnapshotThread captures a thread's execution state and local memory
// so it can be resumed later, possibly in another process. It refuses
// while the concurrent runner is active, since the thread's stack and
// local arena are then owned by its goroutine; hosts that migrate
// mid-execution drive the process with ExecuteStep instead.
func (p *Process) SnapshotThread(id types.ThreadID) (snapshot.ThreadImage, error) {
	p.mu.Lock()
	if p.group != nil {
		p.mu.Unlock()
		return snapshot.ThreadImage{}, fmt.Errorf("cannot snapshot thread %d while the process is running", id)
	}
	entry, ok := p.threads[id]
	p.mu.Unlock()
	if !ok {
		return snapshot.ThreadImage{}, fault.Errorf(fault.UnknownThread, "snapshot of unknown thread %d", id)
	}

	local, err := p.mem.Local(id)
	if err != nil {
		return snapshot.ThreadImage{}, err
	}

	t := entry.thread
	return snapshot.ThreadImage{
		ThreadID: t.id,
		IP:       t.ip,
		Stack:    append([]types.Word(nil), t.stack...),
		Local:    local.Image(),
	}, nil
}

// RestoreThread installs a snapshotted thread into this process. The
// image's id is kept; the id allocator is bumped past it so future
// forks cannot collide.
func (p *Process) RestoreThread(img snapshot.ThreadImage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.threads[img.ThreadID]; exists {
		return fault.Errorf(fault.UnknownThread, "thread %d already exists", img.ThreadID)
	}

	if err := p.mem.AdoptLocal(img.ThreadID, memory.FromImage(img.Local)); err != nil {
		return err
	}

	entry := &threadEntry{
		thread: &Thread{
			id:    img.ThreadID,
			ip:    img.IP,
			stack: append(Stack(nil), img.Stack...),
			proc:  p,
		},
		state: ThreadCreated,
		done:  make(chan struct{}),
	}
	p.threads[img.ThreadID] = entry

	if img.ThreadID >= p.nextID {
		p.nextID = img.ThreadID + 1
	}

	if p.group != nil {
		entry.state = ThreadRunnable
		p.group.Go(func() error {
			return p.runThread(entry)
		})
	}
	return nil
}
