package transfer

import "encoding/binary"

// Header field indices shared by every resource kind.
const (
	/** @brief Running write cursor, advanced by every write. */
	FieldCursor = 0
	/** @brief Total bytes written, header included. */
	FieldReadLength = 1
	/** @brief Length of an error record written in place of the payload. 0 on success. */
	FieldErrorLength = 2
	/** @brief Kind tag of the encoder that produced the buffer. */
	FieldKind = 3
	/** @brief Class code (core.ErrorCode*) of the error record. 0 on success. */
	FieldErrorClass = 4

	// BaseFieldCount is the smallest valid header.
	BaseFieldCount = 5
)

// Kind specific header fields start after the base fields.
const (
	FieldTextureWidth    = BaseFieldCount + 0
	FieldTextureHeight   = BaseFieldCount + 1
	FieldTextureChannels = BaseFieldCount + 2

	FieldModelNodeCount      = BaseFieldCount + 0
	FieldModelAnimationCount = BaseFieldCount + 1

	FieldSessionEntryCount = BaseFieldCount + 0
)

// Header field counts (K) per resource kind.
const (
	ScriptFieldCount  = BaseFieldCount
	SessionFieldCount = BaseFieldCount + 1
	ModelFieldCount   = BaseFieldCount + 2
	TextureFieldCount = BaseFieldCount + 3
)

// FieldSize is the width of one header field in bytes.
const FieldSize = 4

// Error record offsets per kind. The error record always starts right after
// the header, independent of how far a successful encode had advanced.
const (
	ScriptErrorOffset  = ScriptFieldCount * FieldSize
	SessionErrorOffset = SessionFieldCount * FieldSize
	ModelErrorOffset   = ModelFieldCount * FieldSize
	TextureErrorOffset = TextureFieldCount * FieldSize
)

// HeaderSize returns the size in bytes of a header with fieldCount fields.
func HeaderSize(fieldCount int) int {
	return fieldCount * FieldSize
}

// Header is a decoded copy of a buffer's manifest header.
type Header []uint32

// Field returns field i, or 0 when the header is shorter than i.
func (h Header) Field(i int) uint32 {
	if i < 0 || i >= len(h) {
		return 0
	}
	return h[i]
}

func (h Header) Cursor() uint32      { return h.Field(FieldCursor) }
func (h Header) ReadLength() uint32  { return h.Field(FieldReadLength) }
func (h Header) ErrorLength() uint32 { return h.Field(FieldErrorLength) }
func (h Header) Kind() uint32        { return h.Field(FieldKind) }
func (h Header) ErrorClass() uint32  { return h.Field(FieldErrorClass) }

// Size is the encoded size of the header in bytes.
func (h Header) Size() int {
	return HeaderSize(len(h))
}

func readHeader(data []byte, fieldCount int) Header {
	h := make(Header, fieldCount)
	for i := range h {
		h[i] = binary.LittleEndian.Uint32(data[i*FieldSize:])
	}
	return h
}

func align(n int) int {
	return (n + FieldSize - 1) &^ (FieldSize - 1)
}
