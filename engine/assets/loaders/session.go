package loaders

import (
	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/anima-import/engine/core"
	"github.com/spaghettifunk/anima-import/engine/resources"
	"github.com/spaghettifunk/anima-import/engine/transfer"
)

// SessionLoader validates a TOML session file on the worker and parses it
// into a table on decode.
type SessionLoader struct{}

func (sl *SessionLoader) Kind() resources.Kind { return resources.KindSession }
func (sl *SessionLoader) FieldCount() int      { return transfer.SessionFieldCount }

func (sl *SessionLoader) Capacity(limits Limits) int {
	return transfer.HeaderSize(transfer.SessionFieldCount) + limits.MaxSessionBytes
}

func (sl *SessionLoader) Encode(path string, data []byte, buf *transfer.Buffer) error {
	values, err := parseSession(path, data)
	if err != nil {
		return err
	}
	buf.SetField(transfer.FieldKind, uint32(resources.KindSession))
	buf.SetField(transfer.FieldSessionEntryCount, uint32(len(values)))
	return buf.Write(data)
}

func (sl *SessionLoader) Decode(path string, header transfer.Header, payload []byte) (resources.Resource, error) {
	if err := checkKind(header, resources.KindSession); err != nil {
		return nil, err
	}
	values, err := parseSession(path, payload)
	if err != nil {
		return nil, err
	}
	if want := header.Field(transfer.FieldSessionEntryCount); uint32(len(values)) != want {
		return nil, core.NewImportError(core.ErrFormat, "%s: session has %d entries, header says %d", path, len(values), want)
	}
	return &resources.Session{
		SourcePath: path,
		Values:     values,
	}, nil
}

func parseSession(path string, data []byte) (map[string]interface{}, error) {
	values := make(map[string]interface{})
	if err := toml.Unmarshal(data, &values); err != nil {
		return nil, core.NewImportError(core.ErrFormat, "%s: invalid session file: %v", path, err)
	}
	return values, nil
}
