package systems

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-import/engine/core"
)

/** @brief Describes a type of job */
type JobType int

const (
	/**
	 * @brief A general job that does not have any specific requirements.
	 */
	JOB_TYPE_GENERAL JobType = 0x02
	/**
	 * @brief A resource loading job: one blocking file read plus an encode
	 * into the job's transfer buffer.
	 */
	JOB_TYPE_RESOURCE_LOAD JobType = 0x04
)

func (t JobType) String() string {
	switch t {
	case JOB_TYPE_GENERAL:
		return "general"
	case JOB_TYPE_RESOURCE_LOAD:
		return "resource-load"
	}
	return fmt.Sprintf("job-type(%d)", int(t))
}

// ErrJobSystemStopped is reported to tasks that could not be queued because
// the job system was shut down.
var ErrJobSystemStopped = errors.New("job system is shut down")

/**
 * @brief Describes a job to be run on a worker goroutine.
 */
type JobTask struct {
	/** @brief Used in log lines. */
	Name string
	/** @brief The type of job. */
	JobType JobType
	/** @brief Data passed to OnStart. */
	InputParams interface{}
	/** @brief Invoked on the worker when the job starts. Required. */
	OnStart func(params interface{}) (interface{}, error)
	/** @brief Invoked with the result of OnStart when it succeeded. Optional. */
	OnComplete func(result interface{})
	/** @brief Invoked when OnStart failed or panicked. Optional. */
	OnFailure func(params interface{}, err error)
	/** @brief Always invoked last, whatever the outcome. Optional. */
	OnCompletionCallback func()
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	quit       chan struct{}
	wg         sync.WaitGroup
	submitters sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, core.ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, core.ErrNegativeQueueSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
		quit:       make(chan struct{}),
	}

	js.start()
	core.LogDebug("job system started with %d workers (queue %d)", numWorkers, channelSize)

	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job JobTask) {
	result, err := execute(job)
	if err != nil {
		core.LogDebug("job '%s' (%s) failed: %s", job.Name, job.JobType, err)
		if job.OnFailure != nil {
			job.OnFailure(job.InputParams, err)
		}
	} else if job.OnComplete != nil {
		job.OnComplete(result)
	}

	// Call the completion callback if set
	if job.OnCompletionCallback != nil {
		job.OnCompletionCallback()
	}
}

// execute runs OnStart and turns a panic into an error so one broken job
// cannot take a worker down.
func execute(job JobTask) (result interface{}, err error) {
	if job.OnStart == nil {
		return nil, errors.Errorf("job '%s' has no entry point", job.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("job '%s' panicked: %v", job.Name, r)
		}
	}()
	return job.OnStart(job.InputParams)
}

// abandon reports a task that will never run.
func (js *JobSystem) abandon(job JobTask) {
	if job.OnFailure != nil {
		job.OnFailure(job.InputParams, ErrJobSystemStopped)
	}
	if job.OnCompletionCallback != nil {
		job.OnCompletionCallback()
	}
}

/**
 * @brief Shuts the job system down. Queued jobs still run; jobs waiting for
 * room in the queue are abandoned with ErrJobSystemStopped.
 */
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.stopped {
		js.mu.Unlock()
		return nil
	}
	js.stopped = true
	close(js.quit)
	js.mu.Unlock()

	js.submitters.Wait()
	close(js.jobQueue)
	js.wg.Wait()
	core.LogDebug("job system shut down")
	return nil
}

/**
 * @brief Submits the provided job to be queued for execution. Never blocks:
 * when the queue is full a goroutine waits for room instead of the caller.
 * @param jt The description of the job to be executed.
 */
func (js *JobSystem) Submit(jt JobTask) {
	js.mu.RLock()
	if js.stopped {
		js.mu.RUnlock()
		js.abandon(jt)
		return
	}
	select {
	case js.jobQueue <- jt:
		js.mu.RUnlock()
		return
	default:
	}
	js.submitters.Add(1)
	js.mu.RUnlock()

	go js.addWorkBlocking(jt)
}

func (js *JobSystem) addWorkBlocking(jt JobTask) {
	defer js.submitters.Done()
	select {
	case js.jobQueue <- jt:
	case <-js.quit:
		js.abandon(jt)
	}
}

// Workers is the number of worker goroutines.
func (js *JobSystem) Workers() int {
	return js.numWorkers
}
