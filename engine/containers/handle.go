package containers

import "fmt"

const (
	generationBits = 12
	indexBits      = 32 - generationBits
	indexMask      = (1 << indexBits) - 1

	// MaxIndex is the number of slots a pool can hand out. The last index is
	// reserved so that no live handle can collide with the invalid pattern.
	MaxIndex = (1 << indexBits) - 1
	// MaxGeneration is the modulus applied when a slot generation advances.
	MaxGeneration = 1 << generationBits

	invalidHandle = ^uint32(0)
)

// Handle is a generation checked reference to a slot of a Pool[H, C]. The type
// parameters only tag the handle so that handles of different pools do not mix.
type Handle[H, C any] struct {
	data uint32
}

func NewHandle[H, C any](index, generation uint32) Handle[H, C] {
	if index >= MaxIndex {
		panic(fmt.Sprintf("handle index %d out of range", index))
	}
	if generation >= MaxGeneration {
		panic(fmt.Sprintf("handle generation %d out of range", generation))
	}
	return Handle[H, C]{data: generation<<indexBits | index}
}

// Invalid returns the sentinel handle. It never resolves in any pool.
func Invalid[H, C any]() Handle[H, C] {
	return Handle[H, C]{data: invalidHandle}
}

// HandleFromRaw rebuilds a handle from Raw. Validity is still checked by the pool.
func HandleFromRaw[H, C any](raw uint32) Handle[H, C] {
	return Handle[H, C]{data: raw}
}

func (h Handle[H, C]) IsValid() bool {
	return h.data != invalidHandle
}

func (h Handle[H, C]) Index() uint32 {
	return h.data & indexMask
}

func (h Handle[H, C]) Generation() uint32 {
	return h.data >> indexBits
}

func (h Handle[H, C]) Raw() uint32 {
	return h.data
}

func (h Handle[H, C]) String() string {
	if !h.IsValid() {
		return "Handle(invalid)"
	}
	return fmt.Sprintf("Handle(%d:%d)", h.Index(), h.Generation())
}
