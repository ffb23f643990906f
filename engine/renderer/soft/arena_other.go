//go:build !unix

package soft

func mapArena(size uint64) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapArena(data []byte) error {
	return nil
}
