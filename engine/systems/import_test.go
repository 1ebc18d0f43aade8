package systems

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-import/engine/assets/loaders"
	"github.com/spaghettifunk/anima-import/engine/core"
	"github.com/spaghettifunk/anima-import/engine/resources"
)

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, png.Encode(&out, image.NewRGBA(image.Rect(0, 0, w, h))))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
	return path
}

func newImportSystem(t *testing.T, config ImportSystemConfig, events *core.EventBus) *ImportSystem {
	t.Helper()
	is, err := NewImportSystem(config, loaders.NewRegistry(loaders.DefaultOptions()), events)
	require.NoError(t, err)
	t.Cleanup(func() { _ = is.Shutdown() })
	return is
}

func defaultImportConfig() ImportSystemConfig {
	return ImportSystemConfig{Workers: 2, QueueSize: 4, MaxInFlight: 4, BacklogSize: 8}
}

func waitIdle(t *testing.T, is *ImportSystem) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, is.Wait(ctx, time.Millisecond))
}

func TestNewImportSystemValidation(t *testing.T) {
	registry := loaders.NewRegistry(loaders.DefaultOptions())

	_, err := NewImportSystem(ImportSystemConfig{Workers: 1, MaxInFlight: 0}, registry, nil)
	assert.ErrorIs(t, err, core.ErrNoWorkers)
	_, err = NewImportSystem(ImportSystemConfig{Workers: 1, MaxInFlight: 1, BacklogSize: -1}, registry, nil)
	assert.ErrorIs(t, err, core.ErrNegativeQueueSize)
	_, err = NewImportSystem(ImportSystemConfig{Workers: 0, MaxInFlight: 1}, registry, nil)
	assert.ErrorIs(t, err, core.ErrNoWorkers)
}

func TestImportSquareTexture(t *testing.T) {
	path := writePNG(t, t.TempDir(), "grass.png", 64, 64)
	is := newImportSystem(t, defaultImportConfig(), nil)

	r, err := is.Submit(path, resources.KindNone)
	require.NoError(t, err)
	assert.Equal(t, RequestRunning, r.State())
	assert.Equal(t, resources.KindTexture, r.Kind())

	waitIdle(t, is)
	require.Equal(t, RequestCompleted, r.State(), r.ErrorMessage())
	assert.Empty(t, r.ErrorMessage())

	tex, ok := r.Result().(*resources.Texture)
	require.True(t, ok)
	assert.Equal(t, uint32(64), tex.Width)
	assert.Equal(t, uint32(64), tex.Height)
	assert.Equal(t, uint8(4), tex.ChannelCount)
	assert.Len(t, tex.Pixels, 64*64*4)
}

func TestImportNonSquareTextureFails(t *testing.T) {
	path := writePNG(t, t.TempDir(), "banner.png", 64, 48)
	is := newImportSystem(t, defaultImportConfig(), nil)

	r, err := is.Submit(path, resources.KindTexture)
	require.NoError(t, err)
	waitIdle(t, is)

	require.Equal(t, RequestFailed, r.State())
	assert.Contains(t, r.ErrorMessage(), "must be square")
	assert.ErrorIs(t, r.Err(), core.ErrFormat)
	assert.Nil(t, r.Result())
}

func TestImportMissingFileIsIOError(t *testing.T) {
	is := newImportSystem(t, defaultImportConfig(), nil)

	r, err := is.Submit(filepath.Join(t.TempDir(), "gone.png"), resources.KindTexture)
	require.NoError(t, err)
	waitIdle(t, is)

	require.Equal(t, RequestFailed, r.State())
	assert.ErrorIs(t, r.Err(), core.ErrIO)
	assert.NotEmpty(t, r.ErrorMessage())
}

func TestImportScriptKeepsText(t *testing.T) {
	text := "-- héros\nfunction update(dt)\n  return dt * 2\nend\n"
	path := filepath.Join(t.TempDir(), "hero.lua")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	is := newImportSystem(t, defaultImportConfig(), nil)

	r, err := is.Submit(path, resources.KindNone)
	require.NoError(t, err)
	waitIdle(t, is)

	require.Equal(t, RequestCompleted, r.State(), r.ErrorMessage())
	script := r.TakeResource().(*resources.Script)
	assert.Equal(t, text, script.Text)
	assert.Nil(t, r.Result())
}

func TestNewRequestUnknownKind(t *testing.T) {
	is := newImportSystem(t, defaultImportConfig(), nil)
	_, err := is.NewRequest("readme.md", resources.KindNone)
	assert.ErrorIs(t, err, core.ErrUnknownKind)
}

func TestDispatchWhileRunningIsNoop(t *testing.T) {
	path := writePNG(t, t.TempDir(), "a.png", 4, 4)
	is := newImportSystem(t, defaultImportConfig(), nil)

	r, err := is.NewRequest(path, resources.KindNone)
	require.NoError(t, err)
	assert.Equal(t, RequestCreated, r.State())
	require.NoError(t, r.Dispatch())
	require.NoError(t, r.Dispatch())
	assert.Equal(t, uint64(1), is.Metrics().Submitted)

	waitIdle(t, is)
	assert.Equal(t, RequestCompleted, r.State())
}

func TestObserversFireOnce(t *testing.T) {
	path := writePNG(t, t.TempDir(), "a.png", 4, 4)
	is := newImportSystem(t, defaultImportConfig(), nil)

	r, err := is.NewRequest(path, resources.KindNone)
	require.NoError(t, err)
	calls := 0
	r.OnComplete(func(got *ImportRequest) {
		assert.Same(t, r, got)
		assert.True(t, got.State().Terminal())
		calls++
	})
	require.NoError(t, r.Dispatch())
	waitIdle(t, is)
	is.Update()
	assert.Equal(t, 1, calls)

	late := 0
	r.OnComplete(func(*ImportRequest) { late++ })
	assert.Equal(t, 1, late)
}

func TestBacklogFull(t *testing.T) {
	dir := t.TempDir()
	is := newImportSystem(t, ImportSystemConfig{Workers: 1, QueueSize: 1, MaxInFlight: 1, BacklogSize: 1}, nil)

	first, err := is.Submit(writePNG(t, dir, "1.png", 4, 4), resources.KindNone)
	require.NoError(t, err)
	second, err := is.Submit(writePNG(t, dir, "2.png", 4, 4), resources.KindNone)
	require.NoError(t, err)
	assert.Equal(t, 2, is.Pending())

	third, err := is.Submit(writePNG(t, dir, "3.png", 4, 4), resources.KindNone)
	assert.ErrorIs(t, err, core.ErrBacklogFull)
	assert.Equal(t, RequestCreated, third.State())

	waitIdle(t, is)
	assert.Equal(t, RequestCompleted, first.State())
	assert.Equal(t, RequestCompleted, second.State())

	// room again: the rejected request can be dispatched as is
	require.NoError(t, third.Dispatch())
	waitIdle(t, is)
	assert.Equal(t, RequestCompleted, third.State())
}

func TestDiscard(t *testing.T) {
	dir := t.TempDir()
	is := newImportSystem(t, ImportSystemConfig{Workers: 1, QueueSize: 1, MaxInFlight: 1, BacklogSize: 4}, nil)

	created, err := is.NewRequest(writePNG(t, dir, "c.png", 4, 4), resources.KindNone)
	require.NoError(t, err)
	created.Discard()
	assert.Equal(t, RequestFailed, created.State())
	assert.ErrorIs(t, created.Err(), core.ErrRequestDiscarded)

	running, err := is.Submit(writePNG(t, dir, "r.png", 4, 4), resources.KindNone)
	require.NoError(t, err)
	queued, err := is.Submit(writePNG(t, dir, "q.png", 4, 4), resources.KindNone)
	require.NoError(t, err)
	running.Discard()
	queued.Discard()

	waitIdle(t, is)
	assert.Equal(t, RequestFailed, running.State())
	assert.Equal(t, RequestFailed, queued.State())
	assert.ErrorIs(t, queued.Err(), core.ErrRequestDiscarded)
	assert.True(t, queued.Discarded())

	kept, err := is.Submit(writePNG(t, dir, "k.png", 4, 4), resources.KindNone)
	require.NoError(t, err)
	waitIdle(t, is)
	tex := kept.Result().(*resources.Texture)
	kept.Discard()
	assert.True(t, tex.Released())
	assert.Nil(t, kept.Result())
}

func TestImportEventsAndMetrics(t *testing.T) {
	dir := t.TempDir()
	events := core.NewEventBus()
	var completed, failed []string
	events.Register(core.EVENT_CODE_IMPORT_COMPLETED, nil, func(_ core.SystemEventCode, _, _ interface{}, ctx core.EventContext) bool {
		completed = append(completed, ctx.Path)
		return false
	})
	events.Register(core.EVENT_CODE_IMPORT_FAILED, nil, func(_ core.SystemEventCode, _, _ interface{}, ctx core.EventContext) bool {
		failed = append(failed, ctx.Path)
		assert.NotEmpty(t, ctx.Message)
		return false
	})

	is := newImportSystem(t, defaultImportConfig(), events)
	good := writePNG(t, dir, "good.png", 8, 8)
	bad := writePNG(t, dir, "bad.png", 8, 4)
	_, err := is.Submit(good, resources.KindNone)
	require.NoError(t, err)
	_, err = is.Submit(bad, resources.KindNone)
	require.NoError(t, err)
	waitIdle(t, is)

	assert.Equal(t, []string{good}, completed)
	assert.Equal(t, []string{bad}, failed)

	m := is.Metrics()
	assert.Equal(t, uint64(2), m.Submitted)
	assert.Equal(t, uint64(1), m.Completed)
	assert.Equal(t, uint64(1), m.Failed)
}

func TestManyImportsReuseBuffers(t *testing.T) {
	dir := t.TempDir()
	is := newImportSystem(t, ImportSystemConfig{Workers: 3, QueueSize: 2, MaxInFlight: 2, BacklogSize: 32}, nil)

	var requests []*ImportRequest
	for i := 0; i < 20; i++ {
		r, err := is.Submit(writePNG(t, dir, string(rune('a'+i))+".png", 16, 16), resources.KindNone)
		require.NoError(t, err)
		requests = append(requests, r)
	}
	waitIdle(t, is)
	for _, r := range requests {
		assert.Equal(t, RequestCompleted, r.State(), r.ErrorMessage())
	}
	assert.LessOrEqual(t, is.pools[resources.KindTexture].Allocated(), 2)
}

func TestShutdownFailsBacklog(t *testing.T) {
	dir := t.TempDir()
	registry := loaders.NewRegistry(loaders.DefaultOptions())
	is, err := NewImportSystem(ImportSystemConfig{Workers: 1, QueueSize: 1, MaxInFlight: 1, BacklogSize: 2}, registry, nil)
	require.NoError(t, err)

	running, err := is.Submit(writePNG(t, dir, "r.png", 4, 4), resources.KindNone)
	require.NoError(t, err)
	queued, err := is.Submit(writePNG(t, dir, "q.png", 4, 4), resources.KindNone)
	require.NoError(t, err)

	require.NoError(t, is.Shutdown())
	assert.Equal(t, RequestCompleted, running.State())
	assert.Equal(t, RequestFailed, queued.State())
	assert.ErrorIs(t, queued.Err(), core.ErrImporterStopped)
	assert.Equal(t, 0, is.Pending())

	late, err := is.NewRequest(writePNG(t, dir, "l.png", 4, 4), resources.KindNone)
	require.NoError(t, err)
	assert.ErrorIs(t, late.Dispatch(), core.ErrImporterStopped)
	assert.NoError(t, is.Shutdown())
}
