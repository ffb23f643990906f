package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type vertex struct {
	Position [3]float32
	Color    uint32
}

func TestMappedRangeBounds(t *testing.T) {
	m := NewMappedRange(make([]byte, 16))
	assert.True(t, m.IsMapped())
	assert.False(t, MappedRange{}.IsMapped())

	m.Write(12, []byte{1, 2, 3, 4})
	assert.Equal(t, []byte{1, 2, 3, 4}, m.Read(12, 4))
	assert.Panics(t, func() { m.Write(13, []byte{1, 2, 3, 4}) })
	assert.Panics(t, func() { m.Read(^uint64(0), 2) })
}

func TestAsBytes(t *testing.T) {
	v := vertex{Color: 0x11223344}
	assert.Len(t, AsBytes(&v), 16)

	vs := []vertex{{}, {}, {}}
	assert.Len(t, SliceAsBytes(vs), 48)
	assert.Nil(t, SliceAsBytes([]vertex{}))
}
