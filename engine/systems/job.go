package systems

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-gpu/engine/core"
)

// JobTask is one unit of work. OnFailure runs on the worker when Run fails.
type JobTask struct {
	Run       func() error
	OnFailure func(error)
	// OnCompletionCallback runs after Run whatever its outcome.
	OnCompletionCallback func()
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

var ErrNoWorkers = errors.New("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = errors.New("attempting to create worker pool with a negative channel size")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
	}
	js.start()
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				if err := job.Run(); err != nil {
					core.LogDebug("job failed: %v", err)
					if job.OnFailure != nil {
						job.OnFailure(err)
					}
				}
				if job.OnCompletionCallback != nil {
					job.OnCompletionCallback()
				}
			}
		}()
	}
}

func (js *JobSystem) Workers() int {
	return js.numWorkers
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while
 * the queue is full. Submitting after Shutdown panics.
 */
func (js *JobSystem) Submit(jt JobTask) {
	js.jobQueue <- jt
}

// RunAll executes fns on the workers and waits for all of them. The errors
// are combined.
func (js *JobSystem) RunAll(fns ...func() error) error {
	var (
		mu  sync.Mutex
		err error
		wg  sync.WaitGroup
	)
	wg.Add(len(fns))
	for _, fn := range fns {
		js.Submit(JobTask{
			Run: fn,
			OnFailure: func(jobErr error) {
				mu.Lock()
				err = errors.CombineErrors(err, jobErr)
				mu.Unlock()
			},
			OnCompletionCallback: wg.Done,
		})
	}
	wg.Wait()
	return err
}

/**
 * @brief Shuts the job system down once the queued jobs ran.
 */
func (js *JobSystem) Shutdown() {
	js.closeOnce.Do(func() {
		close(js.jobQueue)
	})
	js.wg.Wait()
}
