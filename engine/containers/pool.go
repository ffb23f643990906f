package containers

import (
	"iter"
)

const defaultPoolSpace = 4096

// Pool is a dense table of hot and cold payloads addressed by generational
// handles. Hot payloads are the ones read every frame, cold ones are touched
// on creation and destruction. A Pool is not safe for concurrent use.
type Pool[H, C any] struct {
	hot         []H
	cold        []C
	occupied    []bool
	generations []uint32
	empty       []uint32
}

func NewPool[H, C any]() *Pool[H, C] {
	return NewPoolWithCapacity[H, C](defaultPoolSpace)
}

func NewPoolWithCapacity[H, C any](capacity int) *Pool[H, C] {
	return &Pool[H, C]{
		hot:         make([]H, 0, capacity),
		cold:        make([]C, 0, capacity),
		occupied:    make([]bool, 0, capacity),
		generations: make([]uint32, 0, capacity),
		empty:       make([]uint32, 0, capacity),
	}
}

// Push stores the payloads and returns their handle. Running out of index
// space is a configuration error and panics; use TryPush to handle it.
func (p *Pool[H, C]) Push(hot H, cold C) Handle[H, C] {
	handle, ok := p.TryPush(hot, cold)
	if !ok {
		panic("too many items in pool")
	}
	return handle
}

// TryPush is Push that reports exhaustion of the index space instead of
// panicking. The most recently freed slot is reused first.
func (p *Pool[H, C]) TryPush(hot H, cold C) (Handle[H, C], bool) {
	if n := len(p.empty); n > 0 {
		slot := p.empty[n-1]
		p.empty = p.empty[:n-1]
		p.hot[slot] = hot
		p.cold[slot] = cold
		p.occupied[slot] = true
		return NewHandle[H, C](slot, p.generations[slot]), true
	}

	index := len(p.generations)
	if index >= MaxIndex {
		return Invalid[H, C](), false
	}
	p.generations = append(p.generations, 0)
	p.hot = append(p.hot, hot)
	p.cold = append(p.cold, cold)
	p.occupied = append(p.occupied, true)
	return NewHandle[H, C](uint32(index), 0), true
}

// IsHandleValid reports whether handle refers to the current occupant of its slot.
func (p *Pool[H, C]) IsHandleValid(handle Handle[H, C]) bool {
	index := int(handle.Index())
	return index < len(p.generations) &&
		p.occupied[index] &&
		p.generations[index] == handle.Generation()
}

func (p *Pool[H, C]) Get(handle Handle[H, C]) (H, C, bool) {
	if !p.IsHandleValid(handle) {
		var hot H
		var cold C
		return hot, cold, false
	}
	index := handle.Index()
	return p.hot[index], p.cold[index], true
}

func (p *Pool[H, C]) GetHot(handle Handle[H, C]) (H, bool) {
	if !p.IsHandleValid(handle) {
		var hot H
		return hot, false
	}
	return p.hot[handle.Index()], true
}

func (p *Pool[H, C]) GetCold(handle Handle[H, C]) (C, bool) {
	if !p.IsHandleValid(handle) {
		var cold C
		return cold, false
	}
	return p.cold[handle.Index()], true
}

// GetHotPtr returns a pointer into the table. It is invalidated by the next Push.
func (p *Pool[H, C]) GetHotPtr(handle Handle[H, C]) *H {
	if !p.IsHandleValid(handle) {
		return nil
	}
	return &p.hot[handle.Index()]
}

// GetColdPtr returns a pointer into the table. It is invalidated by the next Push.
func (p *Pool[H, C]) GetColdPtr(handle Handle[H, C]) *C {
	if !p.IsHandleValid(handle) {
		return nil
	}
	return &p.cold[handle.Index()]
}

// Replace swaps both payloads in place and returns the previous ones. The
// handle stays valid.
func (p *Pool[H, C]) Replace(handle Handle[H, C], hot H, cold C) (H, C, bool) {
	if !p.IsHandleValid(handle) {
		var h H
		var c C
		return h, c, false
	}
	index := handle.Index()
	oldHot, oldCold := p.hot[index], p.cold[index]
	p.hot[index], p.cold[index] = hot, cold
	return oldHot, oldCold, true
}

func (p *Pool[H, C]) ReplaceHot(handle Handle[H, C], hot H) (H, bool) {
	if !p.IsHandleValid(handle) {
		var h H
		return h, false
	}
	index := handle.Index()
	old := p.hot[index]
	p.hot[index] = hot
	return old, true
}

func (p *Pool[H, C]) ReplaceCold(handle Handle[H, C], cold C) (C, bool) {
	if !p.IsHandleValid(handle) {
		var c C
		return c, false
	}
	index := handle.Index()
	old := p.cold[index]
	p.cold[index] = cold
	return old, true
}

// Remove vacates the slot and returns its payloads. Removing a stale handle
// is a no-op that reports false.
func (p *Pool[H, C]) Remove(handle Handle[H, C]) (H, C, bool) {
	if !p.IsHandleValid(handle) {
		var h H
		var c C
		return h, c, false
	}
	index := handle.Index()
	hot, cold := p.hot[index], p.cold[index]
	var zeroHot H
	var zeroCold C
	p.hot[index], p.cold[index] = zeroHot, zeroCold
	p.occupied[index] = false
	p.generations[index] = (p.generations[index] + 1) % MaxGeneration
	p.empty = append(p.empty, index)
	return hot, cold, true
}

// Len is the number of occupied slots.
func (p *Pool[H, C]) Len() int {
	return len(p.generations) - len(p.empty)
}

// All yields the occupied slots in index order.
func (p *Pool[H, C]) All() iter.Seq2[H, C] {
	return func(yield func(H, C) bool) {
		for i := range p.generations {
			if !p.occupied[i] {
				continue
			}
			if !yield(p.hot[i], p.cold[i]) {
				return
			}
		}
	}
}

// Handles yields the handle of every occupied slot in index order.
func (p *Pool[H, C]) Handles() iter.Seq[Handle[H, C]] {
	return func(yield func(Handle[H, C]) bool) {
		for i := range p.generations {
			if !p.occupied[i] {
				continue
			}
			if !yield(NewHandle[H, C](uint32(i), p.generations[i])) {
				return
			}
		}
	}
}

// Drain empties the pool and yields the removed payloads in index order.
// The pool is empty as soon as Drain returns, whether or not the sequence
// is consumed. Handles issued before Drain never resolve again.
func (p *Pool[H, C]) Drain() iter.Seq2[H, C] {
	hot, cold, occupied := p.hot, p.cold, p.occupied

	// Generations survive so stale handles keep failing after repopulation.
	for i := range p.generations {
		if occupied[i] {
			p.generations[i] = (p.generations[i] + 1) % MaxGeneration
		}
	}
	p.hot = make([]H, len(hot))
	p.cold = make([]C, len(cold))
	p.occupied = make([]bool, len(occupied))
	p.empty = p.empty[:0]
	for i := len(p.generations) - 1; i >= 0; i-- {
		p.empty = append(p.empty, uint32(i))
	}

	return func(yield func(H, C) bool) {
		for i := range occupied {
			if !occupied[i] {
				continue
			}
			if !yield(hot[i], cold[i]) {
				return
			}
		}
	}
}
