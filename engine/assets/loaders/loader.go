package loaders

import (
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-import/engine/core"
	"github.com/spaghettifunk/anima-import/engine/resources"
	"github.com/spaghettifunk/anima-import/engine/transfer"
)

/**
 * @brief Size limits of imported data. Transfer buffers are pre-sized from them.
 */
type Limits struct {
	MaxTextureDimension int
	MaxScriptBytes      int
	MaxModelBytes       int
	MaxSessionBytes     int
}

func DefaultLimits() Limits {
	return Limits{
		MaxTextureDimension: 2048,
		MaxScriptBytes:      1 << 20,
		MaxModelBytes:       4 << 20,
		MaxSessionBytes:     256 << 10,
	}
}

// Options configure the loaders of a Registry.
type Options struct {
	Limits Limits
	// UnitScale converts authored units to engine units on the model path.
	UnitScale float32
	// PitchOffset in degrees is applied to the rotation of model roots.
	PitchOffset float32
}

func DefaultOptions() Options {
	return Options{
		Limits:    DefaultLimits(),
		UnitScale: 1,
	}
}

/**
 * @brief Converts one resource kind. Encode runs on a worker goroutine and
 * only touches the given buffer; Decode runs on the owning goroutine after
 * the worker has finished.
 */
type Loader interface {
	Kind() resources.Kind
	// FieldCount is K, the number of header fields this kind uses.
	FieldCount() int
	// Capacity is the transfer buffer size needed for the largest accepted input.
	Capacity(limits Limits) int
	Encode(path string, data []byte, buf *transfer.Buffer) error
	Decode(path string, header transfer.Header, payload []byte) (resources.Resource, error)
}

// Registry maps kinds to their loader.
type Registry struct {
	options Options
	loaders map[resources.Kind]Loader
}

// NewRegistry registers the loader of every importable kind.
func NewRegistry(options Options) *Registry {
	if options.UnitScale == 0 {
		options.UnitScale = 1
	}
	r := &Registry{
		options: options,
		loaders: make(map[resources.Kind]Loader),
	}
	r.Register(&TextureLoader{})
	r.Register(&ModelLoader{UnitScale: options.UnitScale, PitchOffset: options.PitchOffset})
	r.Register(&ScriptLoader{})
	r.Register(&SessionLoader{})
	return r
}

// Register adds or replaces the loader of l.Kind().
func (r *Registry) Register(l Loader) {
	r.loaders[l.Kind()] = l
}

func (r *Registry) ForKind(kind resources.Kind) (Loader, error) {
	l, ok := r.loaders[kind]
	if !ok {
		return nil, errors.Wrapf(core.ErrUnknownKind, "no loader registered for %s", kind)
	}
	return l, nil
}

func (r *Registry) Options() Options {
	return r.options
}

// CapacityFor is the buffer capacity of kind under the registry limits.
func (r *Registry) CapacityFor(kind resources.Kind) (int, error) {
	l, err := r.ForKind(kind)
	if err != nil {
		return 0, err
	}
	return l.Capacity(r.options.Limits), nil
}

func checkKind(header transfer.Header, kind resources.Kind) error {
	if resources.Kind(header.Kind()) != kind {
		return core.NewImportError(core.ErrFormat, "transfer buffer holds a %s, expected %s",
			resources.Kind(header.Kind()), kind)
	}
	return nil
}
