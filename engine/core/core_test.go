package core

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlign(t *testing.T) {
	assert.Equal(t, uint32(0), Align[uint32](0, 64))
	assert.Equal(t, uint32(64), Align[uint32](50, 64))
	assert.Equal(t, uint32(64), Align[uint32](64, 64))
	assert.Equal(t, uint32(128), Align[uint32](100, 64))
	assert.Equal(t, uint64(128), Align[uint64](128, 64))
	assert.Equal(t, uint(256), Align[uint](129, 128))
}

func TestIsPowerOfTwo(t *testing.T) {
	assert.True(t, IsPowerOfTwo[uint32](1))
	assert.True(t, IsPowerOfTwo[uint32](256))
	assert.False(t, IsPowerOfTwo[uint32](0))
	assert.False(t, IsPowerOfTwo[uint32](0xFFFF))
}

func TestParseLogLevel(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{" warning ", WarnLevel},
		{"error", ErrorLevel},
		{"fatal", FatalLevel},
	} {
		got, err := ParseLogLevel(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseLogLevel("verbose")
	require.Error(t, err)
}

func TestLogLevelText(t *testing.T) {
	var level LogLevel
	require.NoError(t, level.UnmarshalText([]byte("warn")))
	assert.Equal(t, WarnLevel, level)
	text, err := level.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "warn", string(text))
}

func TestSetLogLevel(t *testing.T) {
	defer SetLogLevel(GetLogLevel())
	SetLogLevel(ErrorLevel)
	assert.Equal(t, ErrorLevel, GetLogLevel())
}

func TestLogPanic(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.HasAssertionFailure(err))
		assert.Contains(t, err.Error(), "frame 3")
	}()
	LogPanic("frame %d is still held", 3)
}

func TestIsCapacityError(t *testing.T) {
	assert.True(t, IsCapacityError(errors.Wrap(ErrOutOfTempMemory, "push")))
	assert.True(t, IsCapacityError(ErrTooManyObjects))
	assert.False(t, IsCapacityError(ErrInvalidHandle))
	assert.False(t, IsCapacityError(nil))
}

func TestTimeFilter(t *testing.T) {
	tf := NewTimeFilter()

	first := tf.Sample(defaultDT)
	assert.InDelta(t, defaultDT, first.DeltaTime, 1e-6)
	assert.Equal(t, uint32(0), first.FrameNumber)

	// A single spike lands among the discarded samples.
	spike := tf.Sample(1.0)
	assert.InDelta(t, defaultDT, spike.DeltaTime, 1e-6)
	assert.InDelta(t, 1.0, spike.RawDeltaTime, 1e-6)
	assert.Equal(t, uint32(1), spike.FrameNumber)
	assert.InDelta(t, 1.0+defaultDT, spike.TotalTime, 1e-5)
}

func TestClock(t *testing.T) {
	base := time.Unix(100, 0)
	now := base
	c := &Clock{now: func() time.Time { return now }}

	c.Update()
	assert.Zero(t, c.Elapsed())

	c.Start()
	now = base.Add(16 * time.Millisecond)
	c.Update()
	assert.Equal(t, 16*time.Millisecond, c.Elapsed())

	c.Stop()
	now = base.Add(time.Second)
	c.Update()
	assert.Equal(t, 16*time.Millisecond, c.Elapsed())
}
