package renderer

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-gpu/engine/core"
)

const testBucketSize = 64 * KiB

func newTestUniforms(buckets uint64) *UniformStorage {
	return NewUniformStorage(NewMappedRange(make([]byte, buckets*testBucketSize)), testBucketSize)
}

func TestUniformSizeClasses(t *testing.T) {
	for _, tc := range []struct {
		size   uint64
		stride uint64
	}{
		{1, 256},
		{256, 256},
		{257, 512},
		{300, 512},
		{1000, 1024},
		{4097, 8192},
		{16384, 16384},
	} {
		_, to, ok := uniformSizeRange(tc.size)
		require.True(t, ok, tc.size)
		assert.Equal(t, tc.stride, to, tc.size)
	}
	_, _, ok := uniformSizeRange(MaxUniformSize + 1)
	assert.False(t, ok)
}

func TestUniformPush(t *testing.T) {
	s := newTestUniforms(4)

	data := bytes.Repeat([]byte{0xAB}, 300)
	first, err := s.Push(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first)
	assert.Equal(t, uint64(512), s.Stride(first))
	assert.Equal(t, data, s.Mapping().Read(first, 300))

	second, err := s.Push(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(512), second)

	small, err := s.Push([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, uint64(testBucketSize), small, "a new size class commits a new bucket")
	assert.Equal(t, uint64(256), s.Stride(small))
	assert.Equal(t, uint64(3), s.Live())
}

func TestUniformPushErrors(t *testing.T) {
	s := newTestUniforms(1)

	_, err := s.Push(nil)
	assert.True(t, errors.Is(err, core.ErrNotSupported))
	_, err = s.Push(make([]byte, MaxUniformSize+1))
	assert.True(t, errors.Is(err, core.ErrNotSupported))

	for i := 0; i < testBucketSize/MaxUniformSize; i++ {
		_, err := s.Push(make([]byte, MaxUniformSize))
		require.NoError(t, err)
	}
	_, err = s.Push(make([]byte, MaxUniformSize))
	assert.True(t, errors.Is(err, core.ErrOutOfAllocatedSpace))
	_, err = s.Push(make([]byte, 16))
	assert.True(t, errors.Is(err, core.ErrOutOfAllocatedSpace), "the only bucket serves another class")
}

func TestUniformBucketRecycling(t *testing.T) {
	s := newTestUniforms(2)

	a, err := s.Push(make([]byte, 2000))
	require.NoError(t, err)
	b, err := s.Push(make([]byte, 100))
	require.NoError(t, err)
	assert.Equal(t, uint64(testBucketSize), b)

	s.Dealloc(a)
	assert.Equal(t, uint64(1), s.Live())
	assert.Equal(t, []uint64{0}, s.freeBuckets)

	c, err := s.Push(make([]byte, 5000))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c, "the released bucket is reused")
	assert.Equal(t, uint64(8192), s.Stride(c))
	assert.Empty(t, s.freeBuckets)

	assert.Panics(t, func() { s.Dealloc(3 * testBucketSize) })
	s.Dealloc(c)
	assert.Panics(t, func() { s.Dealloc(c) }, "double free")
}

func TestNewUniformStorageRejectsLayout(t *testing.T) {
	assert.Panics(t, func() { NewUniformStorage(NewMappedRange(make([]byte, 100)), testBucketSize) })
	assert.Panics(t, func() { NewUniformStorage(NewMappedRange(make([]byte, 4096)), 1024) })
}
