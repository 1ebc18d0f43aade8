package assets

import (
	"os"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-import/engine/core"
	"github.com/spaghettifunk/anima-import/engine/resources"
	"github.com/spaghettifunk/anima-import/engine/transfer"
)

/**
 * @brief Imports path on the calling goroutine: one read, encode into a
 * private transfer buffer, decode. Used by tools that have no update loop;
 * the engine goes through the import system instead.
 */
func (am *AssetManager) Load(name string, kind resources.Kind) (resources.Resource, error) {
	path := am.Resolve(name)
	if kind == resources.KindNone {
		kind = resources.KindFromPath(path)
	}
	loader, err := am.registry.ForKind(kind)
	if err != nil {
		return nil, err
	}

	buf, err := transfer.NewBuffer(loader.Capacity(am.registry.Options().Limits), loader.FieldCount())
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		buf.WriteError(core.NewImportError(core.ErrIO, "%s: %v", path, unwrapPathError(err)))
	} else if err := loader.Encode(path, data, buf); err != nil && !buf.Failed() {
		buf.WriteError(core.AsImportError(err))
	}

	header, payload, err := buf.Decode()
	if err != nil {
		return nil, err
	}
	res, err := loader.Decode(path, header, payload)
	if err != nil {
		return nil, errors.WithMessagef(err, "load %s", path)
	}
	return res, nil
}

// unwrapPathError drops the op and path of an *os.PathError, which the
// message already carries.
func unwrapPathError(err error) error {
	var pe *os.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}
