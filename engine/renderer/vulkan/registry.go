package vulkan

import (
	"iter"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-gpu/engine/containers"
	"github.com/spaghettifunk/anima-gpu/engine/core"
)

// registry maps the raw ids handed to the renderer to native Vulkan
// handles. Ids are generational pool handles shifted by one so that zero
// never names a live object. Callers hold the lock group of the registry.
type registry[H, C any] struct {
	pool *containers.Pool[H, C]
}

func newRegistry[H, C any]() registry[H, C] {
	return registry[H, C]{pool: containers.NewPool[H, C]()}
}

func (r registry[H, C]) handle(raw uint64) containers.Handle[H, C] {
	if raw == 0 || raw > 1<<32 {
		return containers.Invalid[H, C]()
	}
	return containers.HandleFromRaw[H, C](uint32(raw - 1))
}

func (r registry[H, C]) add(native H, info C) (uint64, error) {
	h, ok := r.pool.TryPush(native, info)
	if !ok {
		return 0, errors.Wrapf(core.ErrTooManyObjects, "%d objects registered", r.pool.Len())
	}
	return uint64(h.Raw()) + 1, nil
}

func (r registry[H, C]) get(raw uint64) (H, C, bool) {
	return r.pool.Get(r.handle(raw))
}

func (r registry[H, C]) info(raw uint64) *C {
	return r.pool.GetColdPtr(r.handle(raw))
}

func (r registry[H, C]) remove(raw uint64) (H, C, bool) {
	return r.pool.Remove(r.handle(raw))
}

func (r registry[H, C]) len() int {
	return r.pool.Len()
}

func (r registry[H, C]) drain() iter.Seq2[H, C] {
	return r.pool.Drain()
}
