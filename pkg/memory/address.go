package memory

import (
	"fmt"

	"flock/pkg/types"
)

// The most-significant bit of an address selects the space: set means
// the process-wide global space, clear means thread-local space. The
// remaining 63 bits are the byte offset within that space.
const globalTag = types.Word(1) << 63

// Address is a tagged location in the unified address space. Raw stack
// words are lifted into Address only at the instruction boundary, so
// global and local pointers cannot be confused inside the engine.
type Address types.Word

// GlobalAddress builds a global-space address from a byte offset.
func GlobalAddress(offset types.Word) Address {
	return Address(offset | globalTag)
}

// LocalAddress builds a local-space address from a byte offset.
func LocalAddress(offset types.Word) Address {
	return Address(offset &^ globalTag)
}

// AddressFromWord interprets a raw word as an address, honoring its tag.
func AddressFromWord(w types.Word) Address {
	return Address(w)
}

func (a Address) IsGlobal() bool {
	return types.Word(a)&globalTag != 0
}

// Offset returns the byte offset of the address within its space.
func (a Address) Offset() types.Word {
	return types.Word(a) &^ globalTag
}

func (a Address) String() string {
	if a.IsGlobal() {
		return fmt.Sprintf("global:0x%x", a.Offset())
	}
	return fmt.Sprintf("local:0x%x", a.Offset())
}
