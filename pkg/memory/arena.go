package memory

import (
	"sort"

	"flock/pkg/fault"
	"flock/pkg/types"
)

// region is a contiguous allocated extent of words.
type region struct {
	base  types.Word // byte offset of the first word
	words []types.Word
}

func (r *region) end() types.Word {
	return r.base + types.Word(len(r.words))*types.WordSize
}

func (r *region) contains(offset, n types.Word) bool {
	return offset >= r.base && offset+n <= r.end() && offset+n >= offset
}

// Arena is one side of the address space: a bounded set of allocated
// word regions within a 63-bit offset range. Cells are zero until
// written. An Arena is not safe for concurrent use; the global arena
// is serialized by GlobalStore, local arenas are owned by one thread.
type Arena struct {
	capacity types.Word // total allocatable bytes
	used     types.Word
	regions  []region // sorted by base, non-overlapping
}

// NewArena creates an arena able to hold capacity bytes of allocated
// regions. The capacity is rounded up to a whole number of words.
func NewArena(capacity types.Word) *Arena {
	return &Arena{capacity: roundUp(capacity)}
}

func roundUp(size types.Word) types.Word {
	return (size + types.WordSize - 1) &^ (types.WordSize - 1)
}

// Allocate reserves a fresh region of at least size bytes, rounded up
// to a multiple of the word size, and returns its base byte offset.
// Placement is first-fit over the existing regions.
func (a *Arena) Allocate(size types.Word) (types.Word, error) {
	size = roundUp(size)
	if size == 0 {
		size = types.WordSize
	}
	if a.used+size > a.capacity {
		return 0, fault.Errorf(fault.OutOfMemory, "allocation of %d bytes exceeds arena capacity %d (%d in use)", size, a.capacity, a.used)
	}

	base := types.Word(0)
	idx := 0
	for i := range a.regions {
		if a.regions[i].base-base >= size {
			break
		}
		base = a.regions[i].end()
		idx = i + 1
	}
	if base+size < base || base+size > (types.Word(1)<<63) {
		return 0, fault.Errorf(fault.OutOfMemory, "no extent of %d bytes available", size)
	}

	a.regions = append(a.regions, region{})
	copy(a.regions[idx+1:], a.regions[idx:])
	a.regions[idx] = region{base: base, words: make([]types.Word, size/types.WordSize)}
	a.used += size
	return base, nil
}

// Free releases the region starting at the given base offset.
func (a *Arena) Free(base types.Word) error {
	for i := range a.regions {
		if a.regions[i].base == base {
			a.used -= types.Word(len(a.regions[i].words)) * types.WordSize
			a.regions = append(a.regions[:i], a.regions[i+1:]...)
			return nil
		}
	}
	return fault.Errorf(fault.InvalidAddress, "free of unallocated base 0x%x", base)
}

// find returns the region containing the n-byte span at offset.
func (a *Arena) find(offset, n types.Word) (*region, error) {
	i := sort.Search(len(a.regions), func(i int) bool {
		return a.regions[i].end() > offset
	})
	if i < len(a.regions) && a.regions[i].contains(offset, n) {
		return &a.regions[i], nil
	}
	return nil, fault.Errorf(fault.InvalidAddress, "access of %d bytes at unallocated offset 0x%x", n, offset)
}

// ReadWord returns the word at the given byte offset, which must be
// word-aligned and inside an allocated region.
func (a *Arena) ReadWord(offset types.Word) (types.Word, error) {
	if offset%types.WordSize != 0 {
		return 0, fault.Errorf(fault.InvalidAddress, "misaligned address: 0x%x", offset)
	}
	r, err := a.find(offset, types.WordSize)
	if err != nil {
		return 0, err
	}
	return r.words[(offset-r.base)/types.WordSize], nil
}

// WriteWord stores a word at the given byte offset.
func (a *Arena) WriteWord(offset, v types.Word) error {
	if offset%types.WordSize != 0 {
		return fault.Errorf(fault.InvalidAddress, "misaligned address: 0x%x", offset)
	}
	r, err := a.find(offset, types.WordSize)
	if err != nil {
		return err
	}
	r.words[(offset-r.base)/types.WordSize] = v
	return nil
}

// Read copies n bytes starting at offset. The span must lie inside a
// single allocated region. Bytes within a word are little-endian.
func (a *Arena) Read(offset, n types.Word) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	r, err := a.find(offset, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	for i := types.Word(0); i < n; i++ {
		rel := offset + i - r.base
		out[i] = byte(r.words[rel/types.WordSize] >> (8 * (rel % types.WordSize)))
	}
	return out, nil
}

// Write copies bytes into the arena starting at offset, within a
// single allocated region.
func (a *Arena) Write(offset types.Word, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	r, err := a.find(offset, types.Word(len(b)))
	if err != nil {
		return err
	}
	for i, v := range b {
		rel := offset + types.Word(i) - r.base
		shift := 8 * (rel % types.WordSize)
		w := &r.words[rel/types.WordSize]
		*w = *w&^(types.Word(0xff)<<shift) | types.Word(v)<<shift
	}
	return nil
}

// Clone returns a deep copy of the arena. Used at fork so the child's
// local memory is a snapshot, never a shared reference.
func (a *Arena) Clone() *Arena {
	dup := &Arena{capacity: a.capacity, used: a.used, regions: make([]region, len(a.regions))}
	for i := range a.regions {
		words := make([]types.Word, len(a.regions[i].words))
		copy(words, a.regions[i].words)
		dup.regions[i] = region{base: a.regions[i].base, words: words}
	}
	return dup
}

// RegionImage is the serializable form of one allocated extent.
type RegionImage struct {
	Base  types.Word
	Words []types.Word
}

// ArenaImage is the serializable form of an arena, used by the
// snapshot/migration hook.
type ArenaImage struct {
	Capacity types.Word
	Regions  []RegionImage
}

// Image captures the arena's allocated state. The returned image
// shares no storage with the arena.
func (a *Arena) Image() ArenaImage {
	img := ArenaImage{Capacity: a.capacity, Regions: make([]RegionImage, len(a.regions))}
	for i := range a.regions {
		words := make([]types.Word, len(a.regions[i].words))
		copy(words, a.regions[i].words)
		img.Regions[i] = RegionImage{Base: a.regions[i].base, Words: words}
	}
	return img
}

// FromImage rebuilds an arena from a captured image.
func FromImage(img ArenaImage) *Arena {
	a := &Arena{capacity: img.Capacity, regions: make([]region, len(img.Regions))}
	for i, ri := range img.Regions {
		words := make([]types.Word, len(ri.Words))
		copy(words, ri.Words)
		a.regions[i] = region{base: ri.Base, words: words}
		a.used += types.Word(len(words)) * types.WordSize
	}
	return a
}
