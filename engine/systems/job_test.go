package systems

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-import/engine/core"
)

func TestNewJobSystemValidation(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, core.ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, core.ErrNegativeQueueSize)
}

func TestJobSystemRunsCallbacks(t *testing.T) {
	js, err := NewJobSystem(2, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var completed, failed, finished int32
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		js.Submit(JobTask{
			Name:        "square",
			JobType:     JOB_TYPE_GENERAL,
			InputParams: i,
			OnStart: func(params interface{}) (interface{}, error) {
				n := params.(int)
				if n%5 == 0 {
					return nil, errors.New("multiple of five")
				}
				return n * n, nil
			},
			OnComplete: func(result interface{}) {
				atomic.AddInt32(&completed, 1)
			},
			OnFailure: func(params interface{}, err error) {
				atomic.AddInt32(&failed, 1)
			},
			OnCompletionCallback: func() {
				atomic.AddInt32(&finished, 1)
				wg.Done()
			},
		})
	}
	wg.Wait()
	require.NoError(t, js.Shutdown())

	assert.Equal(t, int32(16), completed)
	assert.Equal(t, int32(4), failed)
	assert.Equal(t, int32(20), finished)
}

func TestJobSystemRecoversPanics(t *testing.T) {
	js, err := NewJobSystem(1, 1)
	require.NoError(t, err)
	defer js.Shutdown()

	failures := make(chan error, 1)
	js.Submit(JobTask{
		Name: "boom",
		OnStart: func(interface{}) (interface{}, error) {
			panic("boom")
		},
		OnFailure: func(_ interface{}, err error) { failures <- err },
	})

	select {
	case err := <-failures:
		assert.Contains(t, err.Error(), "panicked")
	case <-time.After(5 * time.Second):
		t.Fatal("panicking job never reported a failure")
	}

	// the worker survived the panic
	done := make(chan struct{})
	js.Submit(JobTask{
		Name:                 "after",
		OnStart:              func(interface{}) (interface{}, error) { return nil, nil },
		OnCompletionCallback: func() { close(done) },
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestSubmitNeverBlocksCaller(t *testing.T) {
	js, err := NewJobSystem(1, 0)
	require.NoError(t, err)

	release := make(chan struct{})
	var ran int32
	var wg sync.WaitGroup
	submitted := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			js.Submit(JobTask{
				Name: "held",
				OnStart: func(interface{}) (interface{}, error) {
					<-release
					atomic.AddInt32(&ran, 1)
					return nil, nil
				},
				OnCompletionCallback: wg.Done,
			})
		}
		close(submitted)
	}()

	select {
	case <-submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("Submit blocked while the worker was busy")
	}
	close(release)
	wg.Wait()
	assert.Equal(t, int32(5), ran)
	require.NoError(t, js.Shutdown())
}

func TestSubmitAfterShutdownIsAbandoned(t *testing.T) {
	js, err := NewJobSystem(1, 1)
	require.NoError(t, err)
	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown())

	var gotErr error
	calledBack := false
	js.Submit(JobTask{
		Name:                 "late",
		OnStart:              func(interface{}) (interface{}, error) { return nil, nil },
		OnFailure:            func(_ interface{}, err error) { gotErr = err },
		OnCompletionCallback: func() { calledBack = true },
	})
	assert.ErrorIs(t, gotErr, ErrJobSystemStopped)
	assert.True(t, calledBack)
}
