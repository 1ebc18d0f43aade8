package loaders

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spaghettifunk/anima-import/engine/core"
	"github.com/spaghettifunk/anima-import/engine/resources"
	"github.com/spaghettifunk/anima-import/engine/transfer"
)

const textureChannels = 4

// TextureLoader decodes raster images into square RGBA8 textures.
type TextureLoader struct{}

func (tl *TextureLoader) Kind() resources.Kind { return resources.KindTexture }
func (tl *TextureLoader) FieldCount() int      { return transfer.TextureFieldCount }

func (tl *TextureLoader) Capacity(limits Limits) int {
	d := limits.MaxTextureDimension
	return transfer.HeaderSize(transfer.TextureFieldCount) + d*d*textureChannels
}

func (tl *TextureLoader) Encode(path string, data []byte, buf *transfer.Buffer) error {
	// Check the dimensions before paying for a full decode.
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return core.NewImportError(core.ErrFormat, "%s: unsupported or corrupt image: %v", path, err)
	}
	if cfg.Width != cfg.Height {
		return core.NewImportError(core.ErrFormat, "%s: texture must be square, got %dx%d", path, cfg.Width, cfg.Height)
	}
	if cfg.Width == 0 {
		return core.NewImportError(core.ErrFormat, "%s: texture has no pixels", path)
	}
	if cfg.Width*cfg.Width*textureChannels > buf.Remaining() {
		return core.NewImportError(core.ErrCapacity, "%s: texture %dx%d exceeds the import limit", path, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return core.NewImportError(core.ErrFormat, "%s: cannot decode %s image: %v", path, format, err)
	}

	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) || rgba.Stride != rgba.Rect.Dx()*textureChannels {
		bounds := img.Bounds()
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}

	buf.SetField(transfer.FieldKind, uint32(resources.KindTexture))
	buf.SetField(transfer.FieldTextureWidth, uint32(rgba.Rect.Dx()))
	buf.SetField(transfer.FieldTextureHeight, uint32(rgba.Rect.Dy()))
	buf.SetField(transfer.FieldTextureChannels, textureChannels)
	return buf.Write(rgba.Pix)
}

func (tl *TextureLoader) Decode(path string, header transfer.Header, payload []byte) (resources.Resource, error) {
	if err := checkKind(header, resources.KindTexture); err != nil {
		return nil, err
	}
	width := header.Field(transfer.FieldTextureWidth)
	height := header.Field(transfer.FieldTextureHeight)
	channels := header.Field(transfer.FieldTextureChannels)

	if width != height {
		return nil, core.NewImportError(core.ErrFormat, "%s: texture must be square, got %dx%d", path, width, height)
	}
	if channels != textureChannels {
		return nil, core.NewImportError(core.ErrFormat, "%s: unsupported channel count %d", path, channels)
	}
	expected := int(width) * int(height) * int(channels)
	if len(payload) != expected {
		return nil, core.NewImportError(core.ErrFormat, "%s: pixel payload is %d bytes, expected %d", path, len(payload), expected)
	}

	// the payload aliases the transfer buffer, which goes back to its pool
	pixels := make([]uint8, len(payload))
	copy(pixels, payload)

	return &resources.Texture{
		SourcePath:   path,
		Width:        width,
		Height:       height,
		ChannelCount: uint8(channels),
		Format:       resources.TextureFormatRGBA8,
		Pixels:       pixels,
	}, nil
}
