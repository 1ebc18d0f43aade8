package loaders

import (
	"unicode/utf8"

	"github.com/spaghettifunk/anima-import/engine/core"
	"github.com/spaghettifunk/anima-import/engine/resources"
	"github.com/spaghettifunk/anima-import/engine/transfer"
)

// ScriptLoader imports UTF-8 text verbatim.
type ScriptLoader struct{}

func (sl *ScriptLoader) Kind() resources.Kind { return resources.KindScript }
func (sl *ScriptLoader) FieldCount() int      { return transfer.ScriptFieldCount }

func (sl *ScriptLoader) Capacity(limits Limits) int {
	return transfer.HeaderSize(transfer.ScriptFieldCount) + limits.MaxScriptBytes
}

func (sl *ScriptLoader) Encode(path string, data []byte, buf *transfer.Buffer) error {
	if !utf8.Valid(data) {
		return core.NewImportError(core.ErrFormat, "%s: unsupported encoding, scripts must be UTF-8", path)
	}
	buf.SetField(transfer.FieldKind, uint32(resources.KindScript))
	return buf.Write(data)
}

func (sl *ScriptLoader) Decode(path string, header transfer.Header, payload []byte) (resources.Resource, error) {
	if err := checkKind(header, resources.KindScript); err != nil {
		return nil, err
	}
	return &resources.Script{
		SourcePath: path,
		Text:       string(payload),
	}, nil
}
