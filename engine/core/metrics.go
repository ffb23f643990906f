package core

import (
	"fmt"
	"sort"
)

// TargetFPS seeds the delta time filter before real samples arrive.
const TargetFPS uint64 = 60

const (
	timeSamples = 15
	timeIgnore  = 2
	timeCount   = timeSamples - timeIgnore*2
	defaultDT   = 1.0 / float64(TargetFPS)
)

// GameTime is the timing information handed to the workload every frame.
type GameTime struct {
	DeltaTime    float32
	RawDeltaTime float32
	FrameNumber  uint32
	TotalTime    float32
}

func (t GameTime) String() string {
	return fmt.Sprintf("(dt: %g raw: %g frame: %d total: %g)", t.DeltaTime, t.RawDeltaTime, t.FrameNumber, t.TotalTime)
}

// TimeFilter smooths frame delta times. Spikes (shader compiles, page faults,
// the first frames after a resize) would otherwise jerk every animation, so the
// largest samples of the window are dropped and the rest averaged.
type TimeFilter struct {
	raw    [timeSamples]float64
	cursor int
	count  uint32
	total  float64
}

func NewTimeFilter() *TimeFilter {
	tf := &TimeFilter{}
	for i := range tf.raw {
		tf.raw[i] = defaultDT
	}
	return tf
}

// Sample records dt (in seconds) and returns the filtered timing.
func (tf *TimeFilter) Sample(dt float64) GameTime {
	tf.raw[tf.cursor] = dt
	tf.cursor = (tf.cursor + 1) % timeSamples
	tf.total += dt

	sorted := tf.raw
	sort.Float64s(sorted[:])
	var average float64
	for i := 0; i < timeCount; i++ {
		average += sorted[i]
	}
	average /= timeCount

	t := GameTime{
		DeltaTime:    float32(average),
		RawDeltaTime: float32(dt),
		FrameNumber:  tf.count,
		TotalTime:    float32(tf.total),
	}
	tf.count++
	return t
}
