package assets

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-import/engine/assets/loaders"
	"github.com/spaghettifunk/anima-import/engine/core"
	"github.com/spaghettifunk/anima-import/engine/resources"
)

const changeBacklog = 256

var ErrClosed = errors.New("asset manager already closed")

type AssetInfo struct {
	Path    string
	Kind    resources.Kind
	Size    int64
	ModTime time.Time
}

// ChangeOp is what happened to a watched file.
type ChangeOp int

const (
	ChangeCreated ChangeOp = iota + 1
	ChangeModified
	ChangeRemoved
)

func (op ChangeOp) String() string {
	switch op {
	case ChangeCreated:
		return "created"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	}
	return "unknown"
}

type AssetChange struct {
	Path string
	Kind resources.Kind
	Op   ChangeOp
}

/**
 * @brief Indexes importable files under an asset directory and, when
 * watching, keeps the index current from filesystem events.
 */
type AssetManager struct {
	root     string
	assets   map[string]AssetInfo
	registry *loaders.Registry

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
	changes  chan AssetChange
}

func NewAssetManager(registry *loaders.Registry) *AssetManager {
	return &AssetManager{
		assets:   make(map[string]AssetInfo),
		registry: registry,
		changes:  make(chan AssetChange, changeBacklog),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

/**
 * @brief Indexes assetsDir recursively. With watch set, fsnotify events keep
 * updating the index and are published on Changes.
 */
func (am *AssetManager) Initialize(assetsDir string, watch bool) error {
	am.mutex.RLock()
	closed := am.isClosed
	am.mutex.RUnlock()
	if closed {
		return ErrClosed
	}

	root, err := filepath.Abs(assetsDir)
	if err != nil {
		return errors.Wrapf(err, "resolve asset dir %s", assetsDir)
	}
	info, err := os.Stat(root)
	if err != nil {
		return errors.Wrapf(core.ErrIO, "asset dir %s: %v", root, err)
	}
	if !info.IsDir() {
		return errors.Wrapf(core.ErrIO, "asset dir %s is not a directory", root)
	}
	am.root = root

	if watch {
		fsWatch, err := fsnotify.NewWatcher()
		if err != nil {
			return errors.Wrap(err, "create file watcher")
		}
		am.fsnotify = fsWatch
		go am.start()
	}

	if err := am.watchRecursive(root); err != nil {
		return err
	}
	core.LogInfo("indexed %d assets under %s (watch=%t)", am.Count(), root, watch)
	return nil
}

// Root is the absolute asset directory.
func (am *AssetManager) Root() string {
	return am.root
}

// Changes delivers filesystem changes of importable files. Changes are
// dropped when nobody drains the channel.
func (am *AssetManager) Changes() <-chan AssetChange {
	return am.changes
}

// Resolve turns a name relative to the asset dir into an absolute path.
// Absolute paths are returned cleaned.
func (am *AssetManager) Resolve(name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	if am.root == "" {
		abs, err := filepath.Abs(name)
		if err != nil {
			return filepath.Clean(name)
		}
		return abs
	}
	return filepath.Join(am.root, name)
}

func (am *AssetManager) Lookup(path string) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	info, ok := am.assets[am.Resolve(path)]
	return info, ok
}

// Assets lists indexed assets of kind, sorted by path. KindNone lists all.
func (am *AssetManager) Assets(kind resources.Kind) []AssetInfo {
	am.mutex.RLock()
	out := make([]AssetInfo, 0, len(am.assets))
	for _, info := range am.assets {
		if kind == resources.KindNone || info.Kind == kind {
			out = append(out, info)
		}
	}
	am.mutex.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (am *AssetManager) Count() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

// Close stops watching. The index stays readable.
func (am *AssetManager) Close() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	watching := am.fsnotify != nil
	am.mutex.Unlock()

	if watching {
		close(am.done)
		<-am.stopped
	}
	return nil
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleEvent(e)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

func (am *AssetManager) handleEvent(e fsnotify.Event) {
	path := filepath.Clean(e.Name)

	s, err := os.Stat(path)
	if err == nil && s.IsDir() {
		if e.Op&fsnotify.Create != 0 {
			if err := am.watchRecursive(path); err != nil {
				core.LogWarn("asset watcher: cannot watch %s: %s", path, err)
			}
		}
		return
	}

	switch {
	case e.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if info, ok := am.removeAsset(path); ok {
			am.publish(AssetChange{Path: path, Kind: info.Kind, Op: ChangeRemoved})
		}
		// Can't stat a deleted directory, so just try to drop the watch.
		if am.fsnotify != nil {
			_ = am.fsnotify.Remove(path)
		}
	case e.Op&fsnotify.Create != 0:
		if info, ok := am.indexFile(path); ok {
			am.publish(AssetChange{Path: path, Kind: info.Kind, Op: ChangeCreated})
		}
	case e.Op&fsnotify.Write != 0:
		if info, ok := am.indexFile(path); ok {
			am.publish(AssetChange{Path: path, Kind: info.Kind, Op: ChangeModified})
		}
	}
}

func (am *AssetManager) publish(change AssetChange) {
	select {
	case am.changes <- change:
	default:
		core.LogWarn("asset watcher: change backlog full, dropping %s (%s)", change.Path, change.Op)
	}
}

// watchRecursive adds all directories under the given one to the watch list
// and indexes the files found on the way.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if am.fsnotify == nil {
				return nil
			}
			return am.fsnotify.Add(walkPath)
		}
		am.indexFile(walkPath)
		return nil
	})
}

// indexFile records path when it has an importable extension.
func (am *AssetManager) indexFile(path string) (AssetInfo, bool) {
	kind := resources.KindFromPath(path)
	if kind == resources.KindNone {
		return AssetInfo{}, false
	}
	info := AssetInfo{Path: path, Kind: kind}
	if s, err := os.Stat(path); err == nil {
		info.Size = s.Size()
		info.ModTime = s.ModTime()
	}

	am.mutex.Lock()
	am.assets[path] = info
	am.mutex.Unlock()
	return info, true
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) (AssetInfo, bool) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	info, ok := am.assets[path]
	delete(am.assets, path)
	return info, ok
}
