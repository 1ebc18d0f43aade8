package assets

import (
	"bytes"
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

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, png.Encode(&out, image.NewRGBA(image.Rect(0, 0, w, h))))
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
}

func newManager(t *testing.T, dir string, watch bool) *AssetManager {
	t.Helper()
	am := NewAssetManager(loaders.NewRegistry(loaders.DefaultOptions()))
	require.NoError(t, am.Initialize(dir, watch))
	t.Cleanup(func() { _ = am.Close() })
	return am
}

func TestInitializeIndexesByExtension(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scripts", "ai"), 0o755))
	writePNG(t, filepath.Join(dir, "wall.png"), 4, 4)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scripts", "ai", "brain.lua"), []byte("x = 1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("ignored"), 0o644))

	am := newManager(t, dir, false)
	assert.Equal(t, 2, am.Count())

	info, ok := am.Lookup("scripts/ai/brain.lua")
	require.True(t, ok)
	assert.Equal(t, resources.KindScript, info.Kind)
	assert.Equal(t, int64(5), info.Size)

	_, ok = am.Lookup("notes.md")
	assert.False(t, ok)

	textures := am.Assets(resources.KindTexture)
	require.Len(t, textures, 1)
	assert.Equal(t, filepath.Join(am.Root(), "wall.png"), textures[0].Path)
	assert.Len(t, am.Assets(resources.KindNone), 2)
}

func TestInitializeRejectsMissingDir(t *testing.T) {
	am := NewAssetManager(loaders.NewRegistry(loaders.DefaultOptions()))
	err := am.Initialize(filepath.Join(t.TempDir(), "nope"), false)
	assert.ErrorIs(t, err, core.ErrIO)

	require.NoError(t, am.Close())
	assert.ErrorIs(t, am.Initialize(t.TempDir(), false), ErrClosed)
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	am := newManager(t, dir, false)

	assert.Equal(t, filepath.Join(am.Root(), "a", "b.png"), am.Resolve("a/b.png"))
	assert.Equal(t, "/x/y.png", am.Resolve("/x/../x/y.png"))
}

func TestLoadRunsInline(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "tile.png"), 8, 8)
	am := newManager(t, dir, false)

	res, err := am.Load("tile.png", resources.KindNone)
	require.NoError(t, err)
	tex := res.(*resources.Texture)
	assert.Equal(t, uint32(8), tex.Width)

	_, err = am.Load("missing.png", resources.KindTexture)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrIO)

	_, err = am.Load("notes.md", resources.KindNone)
	assert.ErrorIs(t, err, core.ErrUnknownKind)
}

func waitChange(t *testing.T, am *AssetManager, path string, ops ...ChangeOp) AssetChange {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-am.Changes():
			if c.Path != path {
				continue
			}
			for _, op := range ops {
				if c.Op == op {
					return c
				}
			}
		case <-deadline:
			t.Fatalf("no %v change for %s", ops, path)
		}
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	am := newManager(t, dir, true)

	path := filepath.Join(am.Root(), "hero.lua")
	require.NoError(t, os.WriteFile(path, []byte("hp = 10"), 0o644))

	c := waitChange(t, am, path, ChangeCreated, ChangeModified)
	assert.Equal(t, resources.KindScript, c.Kind)
	require.Eventually(t, func() bool {
		_, ok := am.Lookup(path)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	waitChange(t, am, path, ChangeRemoved)
	_, ok := am.Lookup(path)
	assert.False(t, ok)
}
