package systems

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/anima-import/engine/assets/loaders"
	"github.com/spaghettifunk/anima-import/engine/core"
	"github.com/spaghettifunk/anima-import/engine/resources"
	"github.com/spaghettifunk/anima-import/engine/transfer"
)

// RequestState is the lifecycle position of an ImportRequest. Transitions
// only move forward: Created, Running, then Completed or Failed.
type RequestState int

const (
	RequestCreated RequestState = iota
	RequestRunning
	RequestCompleted
	RequestFailed
)

func (s RequestState) String() string {
	switch s {
	case RequestCreated:
		return "created"
	case RequestRunning:
		return "running"
	case RequestCompleted:
		return "completed"
	case RequestFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition can happen.
func (s RequestState) Terminal() bool {
	return s == RequestCompleted || s == RequestFailed
}

/**
 * @brief One conversion of a file into a resource.
 *
 * Requests belong to the goroutine that drives their ImportSystem; none of
 * the methods are safe for concurrent use. The produced resource is owned by
 * the request until TakeResource hands it off.
 */
type ImportRequest struct {
	id     core.Identifier
	path   string
	kind   resources.Kind
	loader loaders.Loader
	system *ImportSystem

	state     RequestState
	err       error
	resource  resources.Resource
	observers []func(*ImportRequest)
	discarded bool
	clock     core.Clock

	// valid while a worker task exists for this request
	buffer *transfer.Buffer
	done   chan struct{}
}

func (r *ImportRequest) ID() core.Identifier  { return r.id }
func (r *ImportRequest) Path() string         { return r.path }
func (r *ImportRequest) Kind() resources.Kind { return r.kind }
func (r *ImportRequest) State() RequestState  { return r.state }

// Elapsed is the time spent since the request started running, frozen once
// the worker finished.
func (r *ImportRequest) Elapsed() time.Duration {
	r.clock.Update()
	return r.clock.Elapsed()
}

// Err is the failure of a Failed request, nil otherwise. Import failures are
// *core.ImportError values classed as I/O, capacity or format errors.
func (r *ImportRequest) Err() error {
	return r.err
}

// ErrorMessage is the human readable failure, empty unless Failed.
func (r *ImportRequest) ErrorMessage() string {
	if r.err == nil {
		return ""
	}
	return r.err.Error()
}

// Result returns the resource of a Completed request that was not handed
// off yet, nil otherwise.
func (r *ImportRequest) Result() resources.Resource {
	if r.state != RequestCompleted {
		return nil
	}
	return r.resource
}

// TakeResource hands the resource off to the caller; the request no longer
// releases it on Discard.
func (r *ImportRequest) TakeResource() resources.Resource {
	res := r.Result()
	r.resource = nil
	return res
}

/**
 * @brief Registers fn to run once the request is Completed or Failed.
 * Registering on a finished request runs fn immediately.
 */
func (r *ImportRequest) OnComplete(fn func(*ImportRequest)) {
	if fn == nil {
		return
	}
	if r.state.Terminal() {
		fn(r)
		return
	}
	r.observers = append(r.observers, fn)
}

/**
 * @brief Schedules the request on its import system.
 *
 * No-op while Running. Dispatching a finished request is a logic error: a new
 * request must be created to retry. When the backlog is full the request
 * stays Created and ErrBacklogFull is returned.
 */
func (r *ImportRequest) Dispatch() error {
	switch {
	case r.state == RequestRunning:
		return nil
	case r.state.Terminal():
		return core.Assert(false, core.ErrRequestClosed)
	}
	if err := r.system.schedule(r); err != nil {
		return err
	}
	r.state = RequestRunning
	return nil
}

/**
 * @brief Drops the request. A running worker still finishes writing its
 * buffer; the result is then thrown away instead of decoded. A resource
 * still owned by the request is released.
 */
func (r *ImportRequest) Discard() {
	r.discarded = true
	switch r.state {
	case RequestCreated:
		r.fail(core.ErrRequestDiscarded)
	case RequestCompleted:
		if r.resource != nil {
			r.resource.Release()
			r.resource = nil
		}
	}
}

func (r *ImportRequest) Discarded() bool {
	return r.discarded
}

// finished reports whether the worker has closed the join channel.
func (r *ImportRequest) finished() bool {
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

/**
 * @brief Decodes the transfer buffer after the worker finished.
 *
 * An error record fails the request with its message; otherwise the kind
 * loader builds the resource and the request completes. Must only be called
 * after the join channel closed.
 */
func (r *ImportRequest) onWorkerFinished(buf *transfer.Buffer) error {
	if !r.finished() {
		return core.Assert(false, core.ErrDecodeBeforeCompletion)
	}
	r.clock.Stop()

	if r.discarded {
		r.fail(core.ErrRequestDiscarded)
		return nil
	}

	header, payload, err := buf.Decode()
	if err != nil {
		r.fail(err)
		return nil
	}
	res, err := r.loader.Decode(r.path, header, payload)
	if err != nil {
		r.fail(core.AsImportError(err))
		return nil
	}
	r.complete(res)
	return nil
}

func (r *ImportRequest) complete(res resources.Resource) {
	r.resource = res
	r.setTerminal(RequestCompleted)
}

func (r *ImportRequest) fail(err error) {
	r.err = err
	r.setTerminal(RequestFailed)
}

func (r *ImportRequest) setTerminal(state RequestState) {
	if r.state.Terminal() {
		return
	}
	r.state = state
	observers := r.observers
	r.observers = nil
	for _, fn := range observers {
		fn(r)
	}
}
