//go:build unix

package soft

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// mapArena reserves size bytes of anonymous memory. Pages are only committed
// when first touched, so large arenas are cheap.
func mapArena(size uint64) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot map %d bytes", size)
	}
	return data, nil
}

func unmapArena(data []byte) error {
	if data == nil {
		return nil
	}
	return unix.Munmap(data)
}
