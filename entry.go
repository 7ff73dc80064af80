package ico

import (
	"bytes"
	"encoding/binary"
)

const (
	headSize     = 6  // ICONDIR
	direntrySize = 16 // ICONDIRENTRY
	dibSize      = 40 // BITMAPINFOHEADER
	rgbquadSize  = 4
)

var pngHeader = []byte{'\x89', 'P', 'N', 'G', '\r', '\n', '\x1a', '\n'}

// IsPNG reports whether b starts with the PNG signature.
func IsPNG(b []byte) bool {
	return len(b) >= len(pngHeader) && bytes.Equal(b[:len(pngHeader)], pngHeader)
}

// Header is the ICONDIR that starts every container.
type Header struct {
	Reserved uint16
	Type     uint16
	Count    uint16
}

// DirEntry is the on-disk ICONDIRENTRY. For cursors Plane and Bits hold the
// hotspot instead of planes and bit count.
type DirEntry struct {
	Width    byte
	Height   byte
	Palette  byte
	Reserved byte
	Plane    uint16
	Bits     uint16
	Size     uint32
	Offset   uint32
}

// Entry is one image of a container together with the payload it owns.
type Entry struct {
	DirEntry
	data []byte
}

// NewEntry returns an entry owning data, with Size set to its length.
func NewEntry(dir DirEntry, data []byte) *Entry {
	e := &Entry{DirEntry: dir}
	e.SetData(data)
	return e
}

// Data returns the payload. The slice is shared with the entry, writes to it
// change the entry.
func (e *Entry) Data() []byte { return e.data }

// SetData replaces the payload and updates Size. Offsets of the following
// entries go stale; call Container.Relayout before saving.
func (e *Entry) SetData(b []byte) {
	e.data = b
	e.Size = uint32(len(b))
}

// IsPNG reports whether the payload is an embedded PNG stream.
func (e *Entry) IsPNG() bool { return IsPNG(e.data) }

// Width returns the directory width, mapping the stored 0 to 256.
func (e *Entry) Width() int {
	if e.DirEntry.Width == 0 {
		return 256
	}
	return int(e.DirEntry.Width)
}

// Height returns the directory height, mapping the stored 0 to 256.
func (e *Entry) Height() int {
	if e.DirEntry.Height == 0 {
		return 256
	}
	return int(e.DirEntry.Height)
}

// BitsPerPixel returns the bit count from the directory record.
func (e *Entry) BitsPerPixel() int { return int(e.Bits) }

// Hotspot returns the cursor hotspot stored in the planes/bit count fields.
func (e *Entry) Hotspot() (x, y int) { return int(e.Plane), int(e.Bits) }

// ColorCount returns the palette length: the directory hint, except that 0
// at 8bpp means 256.
func (e *Entry) ColorCount() int {
	n := int(e.Palette)
	if n == 0 && e.headerBits() == 8 {
		n = 256
	}
	return n
}

// bitmapInfoHeader is the BITMAPINFOHEADER at the start of a bitmap payload.
type bitmapInfoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

// bitmapHeader decodes the BITMAPINFOHEADER; ok is false for PNG entries and
// payloads too short to hold one.
func (e *Entry) bitmapHeader() (h bitmapInfoHeader, ok bool) {
	if e.IsPNG() || len(e.data) < dibSize {
		return h, false
	}
	d := e.data
	h = bitmapInfoHeader{
		Size:          binary.LittleEndian.Uint32(d[0:4]),
		Width:         int32(binary.LittleEndian.Uint32(d[4:8])),
		Height:        int32(binary.LittleEndian.Uint32(d[8:12])),
		Planes:        binary.LittleEndian.Uint16(d[12:14]),
		BitCount:      binary.LittleEndian.Uint16(d[14:16]),
		Compression:   binary.LittleEndian.Uint32(d[16:20]),
		SizeImage:     binary.LittleEndian.Uint32(d[20:24]),
		XPelsPerMeter: int32(binary.LittleEndian.Uint32(d[24:28])),
		YPelsPerMeter: int32(binary.LittleEndian.Uint32(d[28:32])),
		ClrUsed:       binary.LittleEndian.Uint32(d[32:36]),
		ClrImportant:  binary.LittleEndian.Uint32(d[36:40]),
	}
	return h, true
}

func (e *Entry) headerBits() int {
	if h, ok := e.bitmapHeader(); ok {
		return int(h.BitCount)
	}
	return int(e.Bits)
}

// bitmapSize is the exact payload length implied by the bitmap header and
// the palette size.
func (e *Entry) bitmapSize(h bitmapInfoHeader) int64 {
	w := int64(h.Width)
	rows := int64(h.Height) / 2
	xor := stride(w, int64(h.BitCount)) * rows
	and := stride(w, 1) * rows
	return dibSize + int64(e.ColorCount())*rgbquadSize + xor + and
}

// stride is the byte length of one row of w pixels at bpp bits, padded to a
// 32-bit boundary.
func stride(w, bpp int64) int64 {
	return (((w * bpp) + 31) &^ 31) / 8
}
