package systems

import (
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobSystem(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)

	js, err := NewJobSystem(4, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, js.Workers())
	js.Shutdown()
	js.Shutdown()
}

func TestRunAll(t *testing.T) {
	js, err := NewJobSystem(4, 8)
	require.NoError(t, err)
	defer js.Shutdown()

	var sum atomic.Int64
	fns := make([]func() error, 100)
	for i := range fns {
		fns[i] = func() error {
			sum.Add(int64(i))
			return nil
		}
	}
	require.NoError(t, js.RunAll(fns...))
	assert.Equal(t, int64(4950), sum.Load())

	first, second := errors.New("first"), errors.New("second")
	err = js.RunAll(
		func() error { return first },
		func() error { return nil },
		func() error { return second },
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, first) || errors.Is(err, second))

	require.NoError(t, js.RunAll())
}

func TestSubmitCallbacks(t *testing.T) {
	js, err := NewJobSystem(2, 0)
	require.NoError(t, err)

	var failed, completed atomic.Int32
	boom := errors.New("boom")
	for i := 0; i < 10; i++ {
		js.Submit(JobTask{
			Run: func() error {
				if i%2 == 0 {
					return boom
				}
				return nil
			},
			OnFailure: func(err error) {
				if errors.Is(err, boom) {
					failed.Add(1)
				}
			},
			OnCompletionCallback: func() { completed.Add(1) },
		})
	}
	js.Shutdown()
	assert.Equal(t, int32(5), failed.Load())
	assert.Equal(t, int32(10), completed.Load())
}
