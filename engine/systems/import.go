package systems

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-import/engine/assets/loaders"
	"github.com/spaghettifunk/anima-import/engine/containers"
	"github.com/spaghettifunk/anima-import/engine/core"
	"github.com/spaghettifunk/anima-import/engine/resources"
	"github.com/spaghettifunk/anima-import/engine/transfer"
)

type ImportSystemConfig struct {
	/** @brief Number of worker goroutines. */
	Workers int
	/** @brief Capacity of the job queue. */
	QueueSize int
	/** @brief Requests that may hold a transfer buffer at the same time. */
	MaxInFlight int
	/** @brief Dispatched requests waiting for a free slot. */
	BacklogSize int
}

// importJob is everything a worker may touch: its own buffer and a private
// copy of the path.
type importJob struct {
	path   []byte
	loader loaders.Loader
	buffer *transfer.Buffer
}

/**
 * @brief Turns import requests into background jobs and completes them on
 * the goroutine calling Update.
 */
type ImportSystem struct {
	config   ImportSystemConfig
	registry *loaders.Registry
	jobs     *JobSystem
	pools    map[resources.Kind]*transfer.Pool
	backlog  *containers.RingQueue[*ImportRequest]
	inFlight []*ImportRequest
	metrics  *core.ImportMetrics
	events   *core.EventBus
	stopped  bool
}

/**
 * @brief Creates the import system and starts its workers.
 * @param events Optional bus receiving completion and failure events.
 */
func NewImportSystem(config ImportSystemConfig, registry *loaders.Registry, events *core.EventBus) (*ImportSystem, error) {
	if config.MaxInFlight < 1 {
		return nil, errors.Wrap(core.ErrNoWorkers, "import system needs at least one in-flight slot")
	}
	if config.BacklogSize < 0 {
		return nil, errors.Wrap(core.ErrNegativeQueueSize, "import backlog")
	}

	js, err := NewJobSystem(config.Workers, config.QueueSize)
	if err != nil {
		return nil, err
	}

	is := &ImportSystem{
		config:   config,
		registry: registry,
		jobs:     js,
		pools:    make(map[resources.Kind]*transfer.Pool),
		backlog:  containers.NewRingQueue[*ImportRequest](config.BacklogSize),
		metrics:  core.NewImportMetrics(),
		events:   events,
	}

	for _, kind := range resources.Kinds() {
		l, err := registry.ForKind(kind)
		if err != nil {
			js.Shutdown()
			return nil, err
		}
		pool, err := transfer.NewPool(l.Capacity(registry.Options().Limits), l.FieldCount(), config.MaxInFlight)
		if err != nil {
			js.Shutdown()
			return nil, errors.WithMessagef(err, "%s transfer pool", kind)
		}
		is.pools[kind] = pool
	}

	return is, nil
}

/**
 * @brief Creates a request in the Created state. KindNone picks the kind from
 * the file extension.
 */
func (is *ImportSystem) NewRequest(path string, kind resources.Kind) (*ImportRequest, error) {
	if kind == resources.KindNone {
		kind = resources.KindFromPath(path)
	}
	l, err := is.registry.ForKind(kind)
	if err != nil {
		return nil, errors.WithMessagef(err, "import %s", path)
	}
	return &ImportRequest{
		id:     core.NewIdentifier(),
		path:   path,
		kind:   kind,
		loader: l,
		system: is,
		state:  RequestCreated,
	}, nil
}

// Submit creates and dispatches a request.
func (is *ImportSystem) Submit(path string, kind resources.Kind) (*ImportRequest, error) {
	r, err := is.NewRequest(path, kind)
	if err != nil {
		return nil, err
	}
	if err := r.Dispatch(); err != nil {
		return r, err
	}
	return r, nil
}

func (is *ImportSystem) schedule(r *ImportRequest) error {
	if is.stopped {
		return core.ErrImporterStopped
	}
	if len(is.inFlight) < is.config.MaxInFlight {
		is.start(r)
	} else if err := is.backlog.Enqueue(r); err != nil {
		core.LogWarn("import of '%s' rejected: backlog of %d is full", r.path, is.backlog.Cap())
		return core.ErrBacklogFull
	}
	is.metrics.RecordSubmitted()
	return nil
}

func (is *ImportSystem) start(r *ImportRequest) {
	r.buffer = is.pools[r.kind].Acquire()
	r.done = make(chan struct{})
	r.clock.Start()
	is.inFlight = append(is.inFlight, r)

	done := r.done
	core.LogDebug("importing %s '%s' (%s)", r.kind, r.path, r.id)
	is.jobs.Submit(JobTask{
		Name:    r.path,
		JobType: JOB_TYPE_RESOURCE_LOAD,
		InputParams: &importJob{
			path:   []byte(r.path),
			loader: r.loader,
			buffer: r.buffer,
		},
		OnStart: runImportJob,
		OnFailure: func(params interface{}, err error) {
			// OnStart records its own errors; this covers panics and
			// jobs abandoned at shutdown.
			job := params.(*importJob)
			if !job.buffer.Failed() {
				job.buffer.WriteError(core.AsImportError(err))
			}
		},
		// closing done is the last touch of the buffer by the worker
		OnCompletionCallback: func() { close(done) },
	})
}

// runImportJob runs on a worker: one blocking read, then the encode.
func runImportJob(params interface{}) (interface{}, error) {
	job := params.(*importJob)
	path := string(job.path)

	data, err := os.ReadFile(path)
	if err != nil {
		ie := core.NewImportError(core.ErrIO, "%s: cannot read file: %v", path, unwrapPathError(err))
		job.buffer.WriteError(ie)
		return nil, ie
	}

	if err := job.loader.Encode(path, data, job.buffer); err != nil {
		if !job.buffer.Failed() {
			job.buffer.WriteError(core.AsImportError(err))
		}
		return nil, err
	}
	return nil, nil
}

func unwrapPathError(err error) error {
	var pe *os.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}

/**
 * @brief Joins finished workers, completes their requests and starts
 * backlogged requests in the freed slots. Call once per update cycle.
 * @return The number of requests that reached a terminal state.
 */
func (is *ImportSystem) Update() int {
	finished := 0
	running := is.inFlight[:0]
	for _, r := range is.inFlight {
		if r.finished() {
			is.finish(r)
			finished++
			continue
		}
		running = append(running, r)
	}
	for i := len(running); i < len(is.inFlight); i++ {
		is.inFlight[i] = nil
	}
	is.inFlight = running

	for len(is.inFlight) < is.config.MaxInFlight && !is.backlog.IsEmpty() {
		r, _ := is.backlog.Dequeue()
		if r.discarded {
			r.fail(core.ErrRequestDiscarded)
			is.report(r)
			finished++
			continue
		}
		is.start(r)
	}
	return finished
}

func (is *ImportSystem) finish(r *ImportRequest) {
	buf := r.buffer
	if err := r.onWorkerFinished(buf); err != nil {
		return
	}
	r.buffer = nil
	r.done = nil
	is.pools[r.kind].Release(buf)
	is.report(r)
}

func (is *ImportSystem) report(r *ImportRequest) {
	failed := r.state == RequestFailed
	is.metrics.RecordFinished(r.Elapsed(), failed)

	ctx := core.EventContext{Path: r.path, Data: r}
	if failed {
		if !errors.Is(r.err, core.ErrRequestDiscarded) {
			core.LogWarn("import of %s '%s' failed: %s", r.kind, r.path, r.ErrorMessage())
		}
		ctx.Message = r.ErrorMessage()
		if is.events != nil {
			is.events.Fire(core.EVENT_CODE_IMPORT_FAILED, is, ctx)
		}
		return
	}
	core.LogInfo("imported %s '%s' in %s", r.kind, r.path, r.Elapsed())
	if is.events != nil {
		is.events.Fire(core.EVENT_CODE_IMPORT_COMPLETED, is, ctx)
	}
}

// Pending is the number of dispatched requests that are not finished yet.
func (is *ImportSystem) Pending() int {
	return len(is.inFlight) + is.backlog.Len()
}

func (is *ImportSystem) Idle() bool {
	return is.Pending() == 0
}

/**
 * @brief Drives Update until every dispatched request finished or ctx is done.
 * For tools without an update loop of their own.
 */
func (is *ImportSystem) Wait(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		is.Update()
		if is.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (is *ImportSystem) Metrics() core.MetricsSnapshot {
	return is.metrics.Snapshot()
}

/**
 * @brief Stops the workers. Running requests are joined and completed,
 * backlogged ones fail with ErrImporterStopped.
 */
func (is *ImportSystem) Shutdown() error {
	if is.stopped {
		return nil
	}
	is.stopped = true
	if err := is.jobs.Shutdown(); err != nil {
		return err
	}

	for _, r := range is.inFlight {
		is.finish(r)
	}
	is.inFlight = nil

	for !is.backlog.IsEmpty() {
		r, _ := is.backlog.Dequeue()
		r.fail(core.ErrImporterStopped)
		is.report(r)
	}
	return nil
}
