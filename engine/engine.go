package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-import/engine/assets"
	"github.com/spaghettifunk/anima-import/engine/assets/loaders"
	"github.com/spaghettifunk/anima-import/engine/core"
	"github.com/spaghettifunk/anima-import/engine/resources"
	"github.com/spaghettifunk/anima-import/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine was shut down and cannot be used anymore
	EngineStageShutdown
)

var ErrEngineStage = errors.New("engine is not in the right stage")

type Engine struct {
	currentStage  Stage
	config        Config
	gameInstance  *Game
	events        *core.EventBus
	registry      *loaders.Registry
	assetManager  *assets.AssetManager
	systemManager *systems.SystemManager
	// imported resources by source path, each holding one engine reference
	handles  map[string]*resources.Handle
	clock    *core.Clock
	lastTime time.Duration
}

/**
 * @brief Creates an engine from cfg. g may be nil when the engine is only
 * driven through Update, e.g. by a command line tool.
 */
func New(cfg Config, g *Game) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	core.SetLogLevel(cfg.LogLevel)

	events := core.NewEventBus()
	registry := loaders.NewRegistry(cfg.loaderOptions())

	sm, err := systems.NewSystemManager(cfg.systemsConfig(), registry, events)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	return &Engine{
		currentStage:  EngineStageUninitialized,
		config:        cfg,
		gameInstance:  g,
		events:        events,
		registry:      registry,
		assetManager:  assets.NewAssetManager(registry),
		systemManager: sm,
		handles:       make(map[string]*resources.Handle),
		clock:         core.NewClock(),
	}, nil
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		return errors.Wrapf(ErrEngineStage, "initialize in stage %d", e.currentStage)
	}
	e.currentStage = EngineStageInitializing

	if e.config.AssetDir != "" {
		if err := e.assetManager.Initialize(e.config.AssetDir, e.config.Watch); err != nil {
			return err
		}
	}

	if e.gameInstance != nil && e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			core.LogError("game failed to initialize: %s", err)
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) Events() *core.EventBus {
	return e.events
}

func (e *Engine) Assets() *assets.AssetManager {
	return e.assetManager
}

func (e *Engine) Imports() *systems.ImportSystem {
	return e.systemManager.Imports()
}

func (e *Engine) Thumbnails() *systems.ThumbnailSystem {
	return e.systemManager.Thumbnails()
}

/**
 * @brief Submits an import of path. Relative paths resolve against the asset
 * directory; KindNone picks the kind from the extension. Once completed the
 * resource is kept by the engine and registered for a thumbnail.
 */
func (e *Engine) Import(path string, kind resources.Kind) (*systems.ImportRequest, error) {
	if e.currentStage == EngineStageShuttingDown || e.currentStage == EngineStageShutdown {
		return nil, errors.Wrap(ErrEngineStage, "import after shutdown")
	}
	r, err := e.Imports().NewRequest(e.assetManager.Resolve(path), kind)
	if err != nil {
		return nil, err
	}
	r.OnComplete(e.onImportFinished)
	if err := r.Dispatch(); err != nil {
		return r, err
	}
	return r, nil
}

// ImportPath imports path with the kind given by its extension.
func (e *Engine) ImportPath(path string) (*systems.ImportRequest, error) {
	return e.Import(path, resources.KindNone)
}

func (e *Engine) onImportFinished(r *systems.ImportRequest) {
	if r.State() != systems.RequestCompleted {
		return
	}
	res := r.TakeResource()
	if res == nil {
		return
	}
	if old, ok := e.handles[r.Path()]; ok {
		old.Release()
	}
	e.handles[r.Path()] = resources.NewHandle(res)
	e.Thumbnails().Register(res)
}

/**
 * @brief Returns a new reference to the resource imported from path. The
 * caller must Release it.
 */
func (e *Engine) Acquire(path string) (*resources.Handle, bool) {
	h, ok := e.handles[e.assetManager.Resolve(path)]
	if !ok {
		return nil, false
	}
	return h.Acquire(), true
}

// Unload drops the engine reference of path and its thumbnail.
func (e *Engine) Unload(path string) bool {
	path = e.assetManager.Resolve(path)
	h, ok := e.handles[path]
	if !ok {
		return false
	}
	delete(e.handles, path)
	e.Thumbnails().Unregister(path)
	h.Release()
	return true
}

func (e *Engine) Thumbnail(path string) (systems.Thumbnail, bool) {
	return e.Thumbnails().Get(e.assetManager.Resolve(path))
}

/**
 * @brief One tick: reacts to asset changes, completes finished imports and
 * generates queued thumbnails.
 */
func (e *Engine) Update() {
	e.drainAssetChanges()
	e.systemManager.Update()
}

func (e *Engine) drainAssetChanges() {
	for {
		select {
		case change := <-e.assetManager.Changes():
			e.onAssetChanged(change)
		default:
			return
		}
	}
}

func (e *Engine) onAssetChanged(change assets.AssetChange) {
	e.events.Fire(core.EVENT_CODE_ASSET_CHANGED, e, core.EventContext{
		Path:    change.Path,
		Message: change.Op.String(),
		Data:    change,
	})

	if _, loaded := e.handles[change.Path]; !loaded {
		return
	}
	switch change.Op {
	case assets.ChangeModified, assets.ChangeCreated:
		// the thumbnail is rebuilt once the new import completes
		e.Thumbnails().InvalidatePath(change.Path)
		if _, err := e.Import(change.Path, change.Kind); err != nil {
			core.LogWarn("cannot reimport '%s': %s", change.Path, err)
		}
	case assets.ChangeRemoved:
		e.Unload(change.Path)
	}
}

/**
 * @brief Runs Update until every submitted import finished and its thumbnail
 * was generated, or ctx is done.
 */
func (e *Engine) Wait(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		e.Update()
		if e.Imports().Idle() && e.Thumbnails().Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

/**
 * @brief Drives the game loop at the given tick until ctx is done or the game
 * update fails.
 */
func (e *Engine) Run(ctx context.Context, tick time.Duration) error {
	if e.currentStage != EngineStageInitialized {
		return errors.Wrapf(ErrEngineStage, "run in stage %d", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.clock.Start()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := (currentTime - e.lastTime).Seconds()

		e.Update()
		if e.gameInstance != nil && e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("game update failed, shutting down: %s", err)
				return err
			}
		}
		e.lastTime = currentTime

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown

	if e.gameInstance != nil && e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			core.LogError("game shutdown failed: %s", err)
		}
	}
	if err := e.systemManager.Shutdown(); err != nil {
		return err
	}
	for path, h := range e.handles {
		h.Release()
		delete(e.handles, path)
	}
	if err := e.assetManager.Close(); err != nil {
		return err
	}

	e.currentStage = EngineStageShutdown
	return nil
}
