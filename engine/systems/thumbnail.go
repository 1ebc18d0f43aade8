package systems

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/spaghettifunk/anima-import/engine/core"
	"github.com/spaghettifunk/anima-import/engine/resources"
)

const (
	DEFAULT_THUMBNAIL_SIZE = 128
	// Cells of the placeholder checkerboard, in pixels.
	placeholderCell = 8
)

type ThumbnailSystemConfig struct {
	/** @brief Edge length of the square thumbnails, in pixels. */
	Size int
	/** @brief Directory for cached texture thumbnails. Empty disables the disk cache. */
	CacheDir string
	/** @brief Thumbnails generated per Update call. */
	PerTick int
}

// Thumbnail is the preview of one resource.
type Thumbnail struct {
	Image *image.RGBA
	// Clip names of a model, empty for other kinds.
	Animations []string
	// Placeholder is set when Image is the checkerboard rather than a
	// rendition of the resource.
	Placeholder bool
	// Generation increases every time the thumbnail is rebuilt.
	Generation uint32
}

// ThumbnailBuilder renders res into a size x size image.
type ThumbnailBuilder func(res resources.Resource, size int) (*image.RGBA, []string, error)

/**
 * @brief The lazily generated thumbnail of a single resource.
 */
type ThumbnailEntry struct {
	resource  resources.Resource
	size      int
	builder   ThumbnailBuilder
	thumbnail Thumbnail
	listeners []func(*ThumbnailEntry)
	queued    bool
}

func (e *ThumbnailEntry) Path() string {
	return e.resource.Path()
}

func (e *ThumbnailEntry) Resource() resources.Resource {
	return e.resource
}

func (e *ThumbnailEntry) Thumbnail() Thumbnail {
	return e.thumbnail
}

// Generated reports whether the entry holds an image.
func (e *ThumbnailEntry) Generated() bool {
	return e.thumbnail.Image != nil
}

// OnChanged registers fn to run after every (re)generation.
func (e *ThumbnailEntry) OnChanged(fn func(*ThumbnailEntry)) {
	if fn != nil {
		e.listeners = append(e.listeners, fn)
	}
}

/**
 * @brief Builds the thumbnail.
 * @param skipIfAlreadyGenerated Keep an existing image instead of rebuilding.
 * @return true when the builder ran.
 */
func (e *ThumbnailEntry) Generate(skipIfAlreadyGenerated bool) bool {
	if skipIfAlreadyGenerated && e.Generated() {
		return false
	}

	var img *image.RGBA
	var animations []string
	var err error
	if e.builder == nil {
		err = errors.Errorf("no thumbnail builder for %s", e.resource.Kind())
	} else {
		img, animations, err = e.builder(e.resource, e.size)
	}

	placeholder := false
	if err != nil || img == nil {
		if err != nil {
			core.LogWarn("thumbnail for '%s' falls back to the placeholder: %s", e.Path(), err)
		}
		img = PlaceholderImage(e.size)
		placeholder = true
	}

	e.thumbnail = Thumbnail{
		Image:       img,
		Animations:  animations,
		Placeholder: placeholder,
		Generation:  e.thumbnail.Generation + 1,
	}
	for _, fn := range e.listeners {
		fn(e)
	}
	return true
}

// Invalidate drops the image; the next Generate rebuilds it.
func (e *ThumbnailEntry) Invalidate() {
	e.thumbnail.Image = nil
}

/**
 * @brief PlaceholderImage returns a size x size blue/white checkerboard,
 * the preview of anything that has no image of its own.
 */
func PlaceholderImage(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			if (row/placeholderCell+col/placeholderCell)%2 == 0 {
				img.SetRGBA(col, row, blue)
			} else {
				img.SetRGBA(col, row, white)
			}
		}
	}
	return img
}

/**
 * @brief Keeps a thumbnail per imported resource and generates them a few at
 * a time on Update. Not safe for concurrent use; it is driven by the same
 * goroutine as the import system.
 */
type ThumbnailSystem struct {
	config   ThumbnailSystemConfig
	entries  map[string]*ThumbnailEntry
	queue    []*ThumbnailEntry
	builders map[resources.Kind]ThumbnailBuilder
	events   *core.EventBus
}

func NewThumbnailSystem(config ThumbnailSystemConfig, events *core.EventBus) (*ThumbnailSystem, error) {
	if config.Size <= 0 {
		return nil, errors.Errorf("thumbnail size must be > 0, got %d", config.Size)
	}
	if config.PerTick <= 0 {
		config.PerTick = 1
	}
	if config.CacheDir != "" {
		if err := os.MkdirAll(config.CacheDir, 0o755); err != nil {
			return nil, errors.Wrapf(core.ErrIO, "thumbnail cache dir: %v", err)
		}
	}

	ts := &ThumbnailSystem{
		config:   config,
		entries:  make(map[string]*ThumbnailEntry),
		builders: make(map[resources.Kind]ThumbnailBuilder),
		events:   events,
	}
	ts.builders[resources.KindTexture] = ts.buildTexture
	ts.builders[resources.KindModel] = buildModel
	ts.builders[resources.KindScript] = buildPlaceholder
	ts.builders[resources.KindSession] = buildPlaceholder
	return ts, nil
}

func (ts *ThumbnailSystem) Config() ThumbnailSystemConfig {
	return ts.config
}

// SetBuilder replaces the builder used for resources of kind.
func (ts *ThumbnailSystem) SetBuilder(kind resources.Kind, builder ThumbnailBuilder) {
	ts.builders[kind] = builder
	for _, e := range ts.entries {
		if e.resource.Kind() == kind {
			e.builder = builder
		}
	}
}

/**
 * @brief Registers res and queues its thumbnail. Registering a new resource
 * for a known path replaces the old one and invalidates its thumbnail.
 */
func (ts *ThumbnailSystem) Register(res resources.Resource) *ThumbnailEntry {
	path := res.Path()
	if e, ok := ts.entries[path]; ok {
		e.resource = res
		e.builder = ts.builders[res.Kind()]
		e.Invalidate()
		ts.enqueue(e)
		return e
	}

	e := &ThumbnailEntry{
		resource: res,
		size:     ts.config.Size,
		builder:  ts.builders[res.Kind()],
	}
	e.OnChanged(func(e *ThumbnailEntry) {
		if ts.events != nil {
			ts.events.Fire(core.EVENT_CODE_THUMBNAIL_CHANGED, ts, core.EventContext{Path: e.Path(), Data: e.thumbnail})
		}
	})
	ts.entries[path] = e
	ts.enqueue(e)
	return e
}

func (ts *ThumbnailSystem) enqueue(e *ThumbnailEntry) {
	if e.queued {
		return
	}
	e.queued = true
	ts.queue = append(ts.queue, e)
}

// Unregister forgets path. Its cached file stays on disk.
func (ts *ThumbnailSystem) Unregister(path string) {
	e, ok := ts.entries[path]
	if !ok {
		return
	}
	delete(ts.entries, path)
	if e.queued {
		for i, q := range ts.queue {
			if q == e {
				ts.queue = append(ts.queue[:i], ts.queue[i+1:]...)
				break
			}
		}
	}
}

func (ts *ThumbnailSystem) Entry(path string) (*ThumbnailEntry, bool) {
	e, ok := ts.entries[path]
	return e, ok
}

// Get returns the thumbnail of path, generating it now if it was not yet.
func (ts *ThumbnailSystem) Get(path string) (Thumbnail, bool) {
	e, ok := ts.entries[path]
	if !ok {
		return Thumbnail{}, false
	}
	e.Generate(true)
	return e.thumbnail, true
}

// InvalidatePath drops the thumbnail of path without queueing it again; the
// next Register or Get rebuilds it.
func (ts *ThumbnailSystem) InvalidatePath(path string) bool {
	e, ok := ts.entries[path]
	if !ok {
		return false
	}
	e.Invalidate()
	ts.dequeue(e)
	return true
}

func (ts *ThumbnailSystem) dequeue(e *ThumbnailEntry) {
	if !e.queued {
		return
	}
	e.queued = false
	for i, q := range ts.queue {
		if q == e {
			ts.queue = append(ts.queue[:i], ts.queue[i+1:]...)
			return
		}
	}
}

// Update generates at most PerTick queued thumbnails and returns how many ran.
func (ts *ThumbnailSystem) Update() int {
	generated := 0
	n := 0
	for ; n < len(ts.queue) && n < ts.config.PerTick; n++ {
		e := ts.queue[n]
		e.queued = false
		if e.Generate(true) {
			generated++
		}
	}
	ts.queue = append(ts.queue[:0], ts.queue[n:]...)
	return generated
}

func (ts *ThumbnailSystem) Pending() int {
	return len(ts.queue)
}

func (ts *ThumbnailSystem) Count() int {
	return len(ts.entries)
}

// cachePath is the PNG file caching the thumbnail of source.
func (ts *ThumbnailSystem) cachePath(source string) string {
	return filepath.Join(ts.config.CacheDir, core.IdentifierForName(source).String()+".png")
}

func (ts *ThumbnailSystem) buildTexture(res resources.Resource, size int) (*image.RGBA, []string, error) {
	tex, ok := res.(*resources.Texture)
	if !ok {
		return nil, nil, errors.Errorf("%s is not a texture", res.Path())
	}

	if ts.config.CacheDir != "" {
		if img, err := ts.loadCached(tex.SourcePath, size); err == nil {
			return img, nil, nil
		}
	}

	src := tex.Image()
	if src == nil {
		return nil, nil, errors.Errorf("texture '%s' was released", tex.SourcePath)
	}
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(img, img.Bounds(), src, src.Bounds(), draw.Src, nil)

	if ts.config.CacheDir != "" {
		if err := ts.storeCached(tex.SourcePath, img); err != nil {
			core.LogWarn("cannot cache thumbnail of '%s': %s", tex.SourcePath, err)
		}
	}
	return img, nil, nil
}

// loadCached decodes the cached thumbnail of source if it is newer than the
// source file and has the requested size.
func (ts *ThumbnailSystem) loadCached(source string, size int) (*image.RGBA, error) {
	path := ts.cachePath(source)
	cached, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(source)
	if err != nil {
		return nil, err
	}
	if cached.ModTime().Before(info.ModTime()) {
		return nil, errors.New("cached thumbnail is stale")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		return nil, err
	}
	if b := decoded.Bounds(); b.Dx() != size || b.Dy() != size {
		return nil, errors.Errorf("cached thumbnail is %dx%d", b.Dx(), b.Dy())
	}
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), decoded, decoded.Bounds().Min, draw.Src)
	return img, nil
}

func (ts *ThumbnailSystem) storeCached(source string, img *image.RGBA) error {
	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return err
	}
	return os.WriteFile(ts.cachePath(source), out.Bytes(), 0o644)
}

func buildModel(res resources.Resource, size int) (*image.RGBA, []string, error) {
	model, ok := res.(*resources.Model)
	if !ok {
		return nil, nil, errors.Errorf("%s is not a model", res.Path())
	}
	return nil, model.ClipNames(), nil
}

func buildPlaceholder(resources.Resource, int) (*image.RGBA, []string, error) {
	return nil, nil, nil
}
