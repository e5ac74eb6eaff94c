package memory

import (
	"sync"

	"flock/pkg/types"
)

// GlobalStore is the process-wide word store shared by every thread.
// Every access goes through one writer lock, which makes word reads
// and writes linearizable: no global write is ever observed torn, and
// concurrent writes to the same word resolve to a total order.
// CompareAndSwap and Fence are the only ordering primitives exposed to
// programs; anything stronger (locks, condition flags) is built from
// them in program code.
type GlobalStore struct {
	mu    sync.RWMutex
	arena *Arena
}

// NewGlobalStore creates an empty global store with the given
// allocation capacity in bytes.
func NewGlobalStore(capacity types.Word) *GlobalStore {
	return &GlobalStore{arena: NewArena(capacity)}
}

// Allocate reserves a fresh global region and returns its address.
func (g *GlobalStore) Allocate(size types.Word) (Address, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	base, err := g.arena.Allocate(size)
	if err != nil {
		return 0, err
	}
	return GlobalAddress(base), nil
}

// Free releases the global region starting at the given address.
func (g *GlobalStore) Free(addr Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.arena.Free(addr.Offset())
}

func (g *GlobalStore) ReadWord(offset types.Word) (types.Word, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.arena.ReadWord(offset)
}

func (g *GlobalStore) WriteWord(offset, v types.Word) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.arena.WriteWord(offset, v)
}

func (g *GlobalStore) Read(offset, n types.Word) ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.arena.Read(offset, n)
}

func (g *GlobalStore) Write(offset types.Word, b []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.arena.Write(offset, b)
}

// CompareAndSwap reads the word at offset and, if and only if it
// equals expected, replaces it with next. The read-compare-write
// sequence is indivisible with respect to any other CompareAndSwap or
// plain write on the same word.
func (g *GlobalStore) CompareAndSwap(offset, expected, next types.Word) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cur, err := g.arena.ReadWord(offset)
	if err != nil {
		return false, err
	}
	if cur != expected {
		return false, nil
	}
	return true, g.arena.WriteWord(offset, next)
}

// Fence establishes a program-order barrier: operations issued by the
// caller before the fence are visible to any thread whose own fenced
// operations are ordered after it. The store serializes every access
// through the writer lock, so taking and releasing it is a full
// barrier.
func (g *GlobalStore) Fence() {
	g.mu.Lock()
	//lint:ignore SA2001 the empty critical section is the barrier
	g.mu.Unlock()
}
