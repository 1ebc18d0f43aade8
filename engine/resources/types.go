package resources

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-import/engine/core"
)

// Kind tags every import request, loader and resource.
type Kind uint32

/** @brief Pre-defined resource kinds. The values are written into transfer headers. */
const (
	/** @brief No kind; used for files nothing can import. */
	KindNone Kind = iota
	/** @brief Raster image, decoded to square RGBA8 pixels. */
	KindTexture
	/** @brief 3-D scene/rig export: node hierarchy, transforms and clips. */
	KindModel
	/** @brief Plain text script. */
	KindScript
	/** @brief Session settings file (TOML table). */
	KindSession
)

var kindNames = map[Kind]string{
	KindNone:    "none",
	KindTexture: "texture",
	KindModel:   "model",
	KindScript:  "script",
	KindSession: "session",
}

// Kinds lists every importable kind.
func Kinds() []Kind {
	return []Kind{KindTexture, KindModel, KindScript, KindSession}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// ParseKind accepts the names returned by Kind.String, case insensitive.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if k != KindNone && n == name {
			return k, nil
		}
	}
	return KindNone, errors.Wrapf(core.ErrUnknownKind, "%q", name)
}

var extensionKinds = map[string]Kind{
	".png":     KindTexture,
	".jpg":     KindTexture,
	".jpeg":    KindTexture,
	".gif":     KindTexture,
	".bmp":     KindTexture,
	".tif":     KindTexture,
	".tiff":    KindTexture,
	".webp":    KindTexture,
	".gltf":    KindModel,
	".glb":     KindModel,
	".lua":     KindScript,
	".txt":     KindScript,
	".js":      KindScript,
	".cs":      KindScript,
	".script":  KindScript,
	".session": KindSession,
	".toml":    KindSession,
}

// KindFromPath maps a file extension to a kind, KindNone when unknown.
func KindFromPath(path string) Kind {
	return extensionKinds[strings.ToLower(filepath.Ext(path))]
}

// Extensions returns the file extensions mapped to k.
func Extensions(k Kind) []string {
	var out []string
	for ext, kind := range extensionKinds {
		if kind == k {
			out = append(out, ext)
		}
	}
	return out
}

/**
 * @brief A decoded, usable artifact produced by a completed import.
 */
type Resource interface {
	Kind() Kind
	// Path is the source file the resource was imported from.
	Path() string
	// Release drops the backing memory. Called exactly once by the owning Usage.
	Release()
}

/** @brief Pixel formats a texture can hold. */
type TextureFormat uint8

const (
	TextureFormatRGBA8 TextureFormat = iota + 1
)

func (f TextureFormat) String() string {
	if f == TextureFormatRGBA8 {
		return "rgba8"
	}
	return "unknown"
}

/**
 * @brief A square texture in CPU memory.
 */
type Texture struct {
	SourcePath string
	/** @brief The texture width. */
	Width uint32
	/** @brief The texture height. Always equal to Width. */
	Height uint32
	/** @brief The number of channels. */
	ChannelCount uint8
	Format       TextureFormat
	/** @brief Raw pixel data, row major, ChannelCount bytes per pixel. */
	Pixels []uint8
}

func (t *Texture) Kind() Kind   { return KindTexture }
func (t *Texture) Path() string { return t.SourcePath }

func (t *Texture) Release() {
	t.Pixels = nil
}

// Released reports whether the pixel memory was dropped.
func (t *Texture) Released() bool {
	return t.Pixels == nil
}

// Image exposes the pixels as an *image.RGBA without copying.
func (t *Texture) Image() *image.RGBA {
	if t.Pixels == nil {
		return nil
	}
	return &image.RGBA{
		Pix:    t.Pixels,
		Stride: int(t.Width) * 4,
		Rect:   image.Rect(0, 0, int(t.Width), int(t.Height)),
	}
}

/**
 * @brief Script source text.
 */
type Script struct {
	SourcePath string
	Text       string
}

func (s *Script) Kind() Kind   { return KindScript }
func (s *Script) Path() string { return s.SourcePath }
func (s *Script) Release()     { s.Text = "" }

/**
 * @brief A session file: a parsed TOML table. The importer does not
 * interpret the values.
 */
type Session struct {
	SourcePath string
	Values     map[string]interface{}
}

func (s *Session) Kind() Kind   { return KindSession }
func (s *Session) Path() string { return s.SourcePath }
func (s *Session) Release()     { s.Values = nil }

// Lookup resolves a dotted key such as "player.name".
func (s *Session) Lookup(key string) (interface{}, bool) {
	var cur interface{} = s.Values
	for _, part := range strings.Split(key, ".") {
		table, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = table[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
