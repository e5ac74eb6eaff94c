package memory

import (
	"sync"

	"flock/pkg/fault"
	"flock/pkg/types"
)

// Default capacities, overridable through Config.
const (
	DefaultGlobalCapacity = types.Word(1) << 23 // 8 MiB allocatable global space
	DefaultGlobalRegion   = types.Word(1) << 20 // base global region mapped at offset 0
	DefaultLocalCapacity  = types.Word(1) << 18 // 256 KiB allocatable per thread
	DefaultLocalRegion    = types.Word(1) << 14 // base local region mapped at offset 0
)

// Config sizes the address space. All values are in bytes; zero means
// the default. The base regions are mapped at offset 0 of each space
// when the space is created, so programs can address them directly
// with STORE/LOAD without an explicit allocation step.
type Config struct {
	GlobalCapacity types.Word
	GlobalRegion   types.Word
	LocalCapacity  types.Word
	LocalRegion    types.Word
}

func (c Config) withDefaults() Config {
	if c.GlobalCapacity == 0 {
		c.GlobalCapacity = DefaultGlobalCapacity
	}
	if c.GlobalRegion == 0 {
		c.GlobalRegion = DefaultGlobalRegion
	}
	if c.LocalCapacity == 0 {
		c.LocalCapacity = DefaultLocalCapacity
	}
	if c.LocalRegion == 0 {
		c.LocalRegion = DefaultLocalRegion
	}
	return c
}

// Manager partitions the single linear address space of a process into
// the shared global space and per-thread local spaces, selected by the
// address tag bit. It owns every local arena so that fork, finish and
// migration keep every allocated address inside exactly one region,
// global or local, never both spaces at once.
type Manager struct {
	cfg    Config
	global *GlobalStore

	mu     sync.RWMutex
	locals map[types.ThreadID]*Arena
}

func NewManager(cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:    cfg,
		global: NewGlobalStore(cfg.GlobalCapacity),
		locals: make(map[types.ThreadID]*Arena),
	}
	// Base global region at offset 0.
	if _, err := m.global.Allocate(cfg.GlobalRegion); err != nil {
		return nil, err
	}
	return m, nil
}

// Global exposes the synchronization unit over the global space.
func (m *Manager) Global() *GlobalStore {
	return m.global
}

// CreateLocal sets up a fresh local space for a new thread, with the
// configured base region mapped at offset 0.
func (m *Manager) CreateLocal(tid types.ThreadID) error {
	arena := NewArena(m.cfg.LocalCapacity)
	if _, err := arena.Allocate(m.cfg.LocalRegion); err != nil {
		return err
	}
	return m.AdoptLocal(tid, arena)
}

// CloneLocal gives the child a deep copy of the parent's local space.
// The caller must be the parent thread itself, so the source arena is
// quiescent for the duration of the copy.
func (m *Manager) CloneLocal(parent, child types.ThreadID) error {
	m.mu.RLock()
	src, ok := m.locals[parent]
	m.mu.RUnlock()
	if !ok {
		return fault.Errorf(fault.AccessViolation, "thread %d has no local space", parent)
	}
	return m.AdoptLocal(child, src.Clone())
}

// AdoptLocal registers an existing arena as a thread's local space.
// Used by CreateLocal, CloneLocal and snapshot restoration.
func (m *Manager) AdoptLocal(tid types.ThreadID, arena *Arena) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locals[tid]; ok {
		return fault.Errorf(fault.AccessViolation, "thread %d already has a local space", tid)
	}
	m.locals[tid] = arena
	return nil
}

// ReleaseLocal drops a thread's local space once the thread finished.
func (m *Manager) ReleaseLocal(tid types.ThreadID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locals, tid)
}

// Local returns a thread's local arena, for snapshotting.
func (m *Manager) Local(tid types.ThreadID) (*Arena, error) {
	return m.localArena(tid)
}

func (m *Manager) localArena(tid types.ThreadID) (*Arena, error) {
	m.mu.RLock()
	arena, ok := m.locals[tid]
	m.mu.RUnlock()
	if !ok {
		return nil, fault.Errorf(fault.AccessViolation, "thread %d has no local space", tid)
	}
	return arena, nil
}

// AllocateGlobal reserves a fresh region in the global space.
func (m *Manager) AllocateGlobal(size types.Word) (Address, error) {
	return m.global.Allocate(size)
}

// AllocateLocal reserves a fresh region in a thread's local space.
func (m *Manager) AllocateLocal(tid types.ThreadID, size types.Word) (Address, error) {
	arena, err := m.localArena(tid)
	if err != nil {
		return 0, err
	}
	base, err := arena.Allocate(size)
	if err != nil {
		return 0, err
	}
	return LocalAddress(base), nil
}

// Free releases the region at addr, acting as the given thread for
// local addresses.
func (m *Manager) Free(tid types.ThreadID, addr Address) error {
	if addr.IsGlobal() {
		return m.global.Free(addr)
	}
	arena, err := m.localArena(tid)
	if err != nil {
		return err
	}
	return arena.Free(addr.Offset())
}

// ReadWord reads the word at addr, acting as the given thread. Local
// addresses always resolve against the acting thread's own space, so
// one thread's local memory is unreachable from another.
func (m *Manager) ReadWord(tid types.ThreadID, addr Address) (types.Word, error) {
	if addr.IsGlobal() {
		return m.global.ReadWord(addr.Offset())
	}
	arena, err := m.localArena(tid)
	if err != nil {
		return 0, err
	}
	return arena.ReadWord(addr.Offset())
}

// WriteWord writes the word at addr, acting as the given thread.
func (m *Manager) WriteWord(tid types.ThreadID, addr Address, v types.Word) error {
	if addr.IsGlobal() {
		return m.global.WriteWord(addr.Offset(), v)
	}
	arena, err := m.localArena(tid)
	if err != nil {
		return err
	}
	return arena.WriteWord(addr.Offset(), v)
}

// Read copies n bytes at addr, acting as the given thread.
func (m *Manager) Read(tid types.ThreadID, addr Address, n types.Word) ([]byte, error) {
	if addr.IsGlobal() {
		return m.global.Read(addr.Offset(), n)
	}
	arena, err := m.localArena(tid)
	if err != nil {
		return nil, err
	}
	return arena.Read(addr.Offset(), n)
}

// Write copies bytes to addr, acting as the given thread.
func (m *Manager) Write(tid types.ThreadID, addr Address, b []byte) error {
	if addr.IsGlobal() {
		return m.global.Write(addr.Offset(), b)
	}
	arena, err := m.localArena(tid)
	if err != nil {
		return err
	}
	return arena.Write(addr.Offset(), b)
}

// CompareAndSwap performs the atomic conditional replace at addr. On a
// local address the owning thread is the only writer, so the plain
// read-compare-write is already indivisible.
func (m *Manager) CompareAndSwap(tid types.ThreadID, addr Address, expected, next types.Word) (bool, error) {
	if addr.IsGlobal() {
		return m.global.CompareAndSwap(addr.Offset(), expected, next)
	}
	arena, err := m.localArena(tid)
	if err != nil {
		return false, err
	}
	cur, err := arena.ReadWord(addr.Offset())
	if err != nil {
		return false, err
	}
	if cur != expected {
		return false, nil
	}
	return true, arena.WriteWord(addr.Offset(), next)
}

// Fence issues the global store's memory barrier.
func (m *Manager) Fence() {
	m.global.Fence()
}
