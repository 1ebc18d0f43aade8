package transfer

import (
	"encoding/binary"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-import/engine/core"
)

const unknownErrorText = "unknown error"

/**
 * @brief A fixed capacity byte region that carries one worker result back to
 * the goroutine that owns the request.
 *
 * Layout: [header: K x u32 little-endian][payload or error bytes].
 * The buffer has exactly one writer (the worker) followed by exactly one
 * reader (the decode step after the join); it is not safe for concurrent use.
 */
type Buffer struct {
	data        []byte
	fieldCount  int
	headerSize  int
	errorOffset int
}

/**
 * @brief Allocates a buffer of capacity bytes with a header of fieldCount fields.
 * @param capacity Total size in bytes, header included. Must leave room after the header.
 * @param fieldCount K, at least BaseFieldCount.
 */
func NewBuffer(capacity, fieldCount int) (*Buffer, error) {
	if err := validateGeometry(capacity, fieldCount); err != nil {
		return nil, err
	}
	headerSize := HeaderSize(fieldCount)
	b := &Buffer{
		data:        make([]byte, capacity),
		fieldCount:  fieldCount,
		headerSize:  headerSize,
		errorOffset: headerSize,
	}
	b.Reset()
	return b, nil
}

func validateGeometry(capacity, fieldCount int) error {
	if fieldCount < BaseFieldCount {
		return errors.Wrapf(core.ErrLogic, "transfer header needs at least %d fields, got %d", BaseFieldCount, fieldCount)
	}
	if headerSize := HeaderSize(fieldCount); capacity <= headerSize {
		return errors.Wrapf(core.ErrCapacity, "transfer buffer capacity %d does not fit a %d byte header", capacity, headerSize)
	}
	return nil
}

func (b *Buffer) Capacity() int    { return len(b.data) }
func (b *Buffer) FieldCount() int  { return b.fieldCount }
func (b *Buffer) HeaderSize() int  { return b.headerSize }
func (b *Buffer) ErrorOffset() int { return b.errorOffset }

// Remaining is the number of payload bytes that still fit.
func (b *Buffer) Remaining() int {
	return len(b.data) - int(b.Field(FieldCursor))
}

// Failed reports whether an error record has been written.
func (b *Buffer) Failed() bool {
	return b.Field(FieldErrorLength) > 0
}

// Field reads header field i.
func (b *Buffer) Field(i int) uint32 {
	if i < 0 || i >= b.fieldCount {
		return 0
	}
	return binary.LittleEndian.Uint32(b.data[i*FieldSize:])
}

// SetField overwrites header field i. Out of range indices are ignored.
func (b *Buffer) SetField(i int, value uint32) {
	if i < 0 || i >= b.fieldCount {
		core.LogWarn("transfer: header field %d out of range (K=%d)", i, b.fieldCount)
		return
	}
	binary.LittleEndian.PutUint32(b.data[i*FieldSize:], value)
}

// IncreaseHeaderEntry adds amount to header field i.
func (b *Buffer) IncreaseHeaderEntry(i int, amount uint32) {
	b.SetField(i, b.Field(i)+amount)
}

/**
 * @brief Appends p at the cursor. The cursor then moves to the next 4 byte
 * boundary so the following write starts aligned.
 *
 * If p does not fit, nothing of p is written: the buffer is turned into an
 * error record and a capacity error is returned.
 */
func (b *Buffer) Write(p []byte) error {
	if b.Failed() {
		return errors.Wrap(core.ErrLogic, "write to a transfer buffer that already holds an error record")
	}
	cursor := int(b.Field(FieldCursor))
	if len(p)+cursor > len(b.data) {
		err := core.NewImportError(core.ErrCapacity,
			"payload of %d bytes exceeds transfer buffer capacity (%d of %d bytes free)",
			len(p), len(b.data)-cursor, len(b.data)-b.headerSize)
		b.WriteError(err)
		return err
	}

	copy(b.data[cursor:], p)
	end := cursor + len(p)
	b.IncreaseHeaderEntry(FieldReadLength, uint32(end)-b.Field(FieldReadLength))
	next := align(end)
	if next > len(b.data) {
		next = len(b.data)
	}
	b.SetField(FieldCursor, uint32(next))
	return nil
}

// WriteUint32 appends v little-endian.
func (b *Buffer) WriteUint32(v uint32) error {
	var raw [FieldSize]byte
	binary.LittleEndian.PutUint32(raw[:], v)
	return b.Write(raw[:])
}

/**
 * @brief Replaces whatever was encoded so far with an error record.
 *
 * The cursor is reset to the error offset right after the header and the
 * message is written there, cut on a rune boundary when it does not fit.
 * The class goes into ERROR_CLASS so cutting the text never loses it.
 * ERROR_LENGTH is set and READ_LENGTH ends at the record.
 */
func (b *Buffer) WriteError(err error) {
	class, text := core.ErrFormat, unknownErrorText
	if err != nil {
		ie := core.AsImportError(err)
		class = ie.Class
		if ie.Msg != "" {
			text = ie.Msg
		}
	}

	room := len(b.data) - b.errorOffset
	if len(text) > room {
		cut := room
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
		if text == "" {
			text = "?"
		}
	}

	n := copy(b.data[b.errorOffset:], text)
	end := b.errorOffset + n
	b.SetField(FieldErrorClass, core.ClassCode(class))
	b.SetField(FieldErrorLength, uint32(n))
	b.SetField(FieldReadLength, uint32(end))
	next := align(end)
	if next > len(b.data) {
		next = len(b.data)
	}
	b.SetField(FieldCursor, uint32(next))
}

/**
 * @brief Reads the header and returns either the payload or the error record.
 *
 * The payload aliases the buffer memory; it is only valid until the buffer is
 * reset or returned to its pool. An error record is returned as a
 * *core.ImportError carrying the class code written by the worker.
 */
func (b *Buffer) Decode() (Header, []byte, error) {
	h := readHeader(b.data, b.fieldCount)

	readLength := int(h.ReadLength())
	if readLength < b.headerSize || readLength > len(b.data) {
		return h, nil, core.NewImportError(core.ErrFormat,
			"corrupt transfer buffer: read length %d outside [%d, %d]", readLength, b.headerSize, len(b.data))
	}

	if errorLength := int(h.ErrorLength()); errorLength > 0 {
		end := b.errorOffset + errorLength
		if end > len(b.data) {
			return h, nil, core.NewImportError(core.ErrFormat,
				"corrupt transfer buffer: error record of %d bytes exceeds capacity", errorLength)
		}
		text := strings.ToValidUTF8(string(b.data[b.errorOffset:end]), "�")
		return h, nil, &core.ImportError{Class: core.ClassFromCode(h.ErrorClass()), Msg: text}
	}

	return h, b.data[b.headerSize:readLength], nil
}

// Bytes returns the written region, header included.
func (b *Buffer) Bytes() []byte {
	readLength := int(b.Field(FieldReadLength))
	if readLength > len(b.data) {
		readLength = len(b.data)
	}
	return b.data[:readLength]
}

// Reset clears the header and moves the cursor back to the start of the payload.
func (b *Buffer) Reset() {
	for i := 0; i < b.headerSize; i++ {
		b.data[i] = 0
	}
	b.SetField(FieldCursor, uint32(b.headerSize))
	b.SetField(FieldReadLength, uint32(b.headerSize))
}
