package systems

import (
	"github.com/spaghettifunk/anima-import/engine/assets/loaders"
	"github.com/spaghettifunk/anima-import/engine/core"
)

type SystemManagerConfig struct {
	Import    ImportSystemConfig
	Thumbnail ThumbnailSystemConfig
}

// SystemManager owns the systems driven by the engine update loop.
type SystemManager struct {
	importSystem    *ImportSystem
	thumbnailSystem *ThumbnailSystem
}

func NewSystemManager(config SystemManagerConfig, registry *loaders.Registry, events *core.EventBus) (*SystemManager, error) {
	is, err := NewImportSystem(config.Import, registry, events)
	if err != nil {
		return nil, err
	}
	ts, err := NewThumbnailSystem(config.Thumbnail, events)
	if err != nil {
		is.Shutdown()
		return nil, err
	}
	return &SystemManager{
		importSystem:    is,
		thumbnailSystem: ts,
	}, nil
}

func (sm *SystemManager) Imports() *ImportSystem {
	return sm.importSystem
}

func (sm *SystemManager) Thumbnails() *ThumbnailSystem {
	return sm.thumbnailSystem
}

// Update joins finished imports first so their thumbnails can be generated
// in the same tick.
func (sm *SystemManager) Update() {
	sm.importSystem.Update()
	sm.thumbnailSystem.Update()
}

func (sm *SystemManager) Shutdown() error {
	if err := sm.importSystem.Shutdown(); err != nil {
		return err
	}
	return nil
}
