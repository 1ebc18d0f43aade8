//go:build !debug

package systems

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-import/engine/core"
	"github.com/spaghettifunk/anima-import/engine/resources"
)

func TestDispatchFinishedRequestIsLogicError(t *testing.T) {
	is := newImportSystem(t, defaultImportConfig(), nil)

	r, err := is.Submit(filepath.Join(t.TempDir(), "gone.lua"), resources.KindNone)
	require.NoError(t, err)
	waitIdle(t, is)
	require.Equal(t, RequestFailed, r.State())

	err = r.Dispatch()
	assert.ErrorIs(t, err, core.ErrRequestClosed)
	assert.ErrorIs(t, err, core.ErrLogic)
	assert.Equal(t, RequestFailed, r.State())
}

func TestDecodeBeforeWorkerFinishedIsLogicError(t *testing.T) {
	is := newImportSystem(t, defaultImportConfig(), nil)
	r, err := is.NewRequest("early.png", resources.KindNone)
	require.NoError(t, err)

	assert.ErrorIs(t, r.onWorkerFinished(nil), core.ErrDecodeBeforeCompletion)
	assert.Equal(t, RequestCreated, r.State())
}
