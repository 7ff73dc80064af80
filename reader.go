package ico

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"

	bmp "github.com/jsummers/gobmp"
)

const maxICOSize = int64(64 << 20) // hard cap to avoid OOM panics on hostile inputs

const bmpFileHeaderSize = 14

func init() {
	image.RegisterFormat("ico", "\x00\x00\x01\x00?????\x00", Decode, DecodeConfig)
	image.RegisterFormat("cur", "\x00\x00\x02\x00?????\x00", Decode, DecodeConfig)
}

// Decode returns the first image of an icon or cursor file.
func Decode(r io.Reader) (image.Image, error) {
	c, err := decodeContainer(r)
	if err != nil {
		return nil, err
	}
	return DecodeEntry(c.Entries[0])
}

// DecodeAll returns every image of an icon or cursor file, in directory order.
func DecodeAll(r io.Reader) ([]image.Image, error) {
	c, err := decodeContainer(r)
	if err != nil {
		return nil, err
	}
	images := make([]image.Image, len(c.Entries))
	for i, e := range c.Entries {
		if images[i], err = DecodeEntry(e); err != nil {
			return nil, fmt.Errorf("ico: entry %d: %w", i, err)
		}
	}
	return images, nil
}

// DecodeConfig returns the dimensions and colour model of the first image.
func DecodeConfig(r io.Reader) (image.Config, error) {
	c, err := decodeContainer(r)
	if err != nil {
		return image.Config{}, err
	}
	e := c.Entries[0]
	if e.IsPNG() {
		return png.DecodeConfig(bytes.NewReader(e.data))
	}
	file, _, err := forgeBMP(e)
	if err != nil {
		return image.Config{}, err
	}
	return bmp.DecodeConfig(bytes.NewReader(file))
}

// DecodeEntry decodes one entry into an image: PNG entries as they are,
// bitmap entries with their AND mask or 32-bit alpha applied.
func DecodeEntry(e *Entry) (image.Image, error) {
	if e.IsPNG() {
		return png.Decode(bytes.NewReader(e.data))
	}

	file, maskData, err := forgeBMP(e)
	if err != nil {
		return nil, err
	}
	bmpImg, err := bmp.Decode(bytes.NewReader(file))
	if err != nil {
		return nil, err
	}

	bounds := bmpImg.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return bmpImg, nil
	}

	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	if maskData != nil {
		rowSize := int(stride(int64(w), 1))
		if rowSize*h > len(maskData) {
			return nil, fmt.Errorf("ico: corrupted mask data")
		}
		for row := 0; row < h; row++ {
			line := maskData[row*rowSize:]
			for col := 0; col < w; col++ {
				if line[col/8]>>(7-uint(col)%8)&0x01 == 0 {
					mask.SetAlpha(col, h-row-1, color.Alpha{255})
				}
			}
		}
	} else { // 32-bit, alpha in the pixel data
		rowSize := int(stride(int64(w), 32))
		offset := int(binary.LittleEndian.Uint32(file[10:14]))
		if offset+rowSize*h > len(file) {
			return nil, fmt.Errorf("ico: corrupted bmp alpha data")
		}
		for row := 0; row < h; row++ {
			line := file[offset+row*rowSize:]
			for col := 0; col < w; col++ {
				mask.SetAlpha(col, h-row-1, color.Alpha{line[col*4+3]})
			}
		}
	}

	masked := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.DrawMask(masked, masked.Bounds(), bmpImg, bounds.Min, mask, bounds.Min, draw.Src)
	return masked, nil
}

// decodeContainer parses without validation: Decode accepts files that
// other tools produce even when their layout is not canonical.
func decodeContainer(r io.Reader) (*Container, error) {
	file, err := readAllICO(r)
	if err != nil {
		return nil, err
	}

	var h Header
	if err := binary.Read(bytes.NewReader(file), binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	if h.Reserved != 0 || (h.Type != TypeIcon && h.Type != TypeCursor) {
		return nil, fmt.Errorf("corrupted head: [%x,%x]", h.Reserved, h.Type)
	}
	if h.Count == 0 {
		return nil, fmt.Errorf("ico: no images")
	}

	c, err := parse(bytes.NewReader(file))
	if err != nil {
		return nil, err
	}
	for _, e := range c.Entries {
		if e.Size == 0 {
			return nil, fmt.Errorf("ico: corrupted entry (size=%d)", e.Size)
		}
	}
	return c, nil
}

func readAllICO(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxICOSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > maxICOSize {
		return nil, fmt.Errorf("ico: file too large")
	}
	return b, nil
}

// forgeBMP turns a bitmap entry into a standalone BMP file: a
// BITMAPFILEHEADER is prepended and the doubled height is halved. For depths
// below 32 the AND mask is cut off and returned separately.
// See en.wikipedia.org/wiki/BMP_file_format
func forgeBMP(e *Entry) (file, mask []byte, err error) {
	buf := make([]byte, bmpFileHeaderSize+len(e.data))
	copy(buf[bmpFileHeaderSize:], e.data)
	data := buf[bmpFileHeaderSize:]
	if len(data) < 4 {
		return nil, nil, io.ErrUnexpectedEOF
	}

	headerSize := binary.LittleEndian.Uint32(data[:4])
	if headerSize < 12 {
		return nil, nil, fmt.Errorf("ico: corrupted DIB header size (%d)", headerSize)
	}
	if len(data) < int(headerSize) || len(data) < 16 {
		return nil, nil, io.ErrUnexpectedEOF
	}

	var (
		w, h      uint32
		bits      uint16
		numColors uint32
	)
	if headerSize == 12 { // BITMAPCOREHEADER
		w = uint32(binary.LittleEndian.Uint16(data[4:6]))
		h = uint32(binary.LittleEndian.Uint16(data[6:8]))
		bits = binary.LittleEndian.Uint16(data[10:12])
	} else { // BITMAPINFOHEADER and later
		w = binary.LittleEndian.Uint32(data[4:8])
		h = binary.LittleEndian.Uint32(data[8:12])
		bits = binary.LittleEndian.Uint16(data[14:16])
		if len(data) >= 36 {
			numColors = binary.LittleEndian.Uint32(data[32:36])
		}
	}

	// The stored height normally covers the XOR and AND planes together.
	// Non-square entries are recognised through the directory height.
	if h%2 == 0 {
		half := h / 2
		if half == uint32(e.Height()) || half == w || h > w {
			h = half
			if headerSize == 12 {
				if h > 0xFFFF {
					return nil, nil, fmt.Errorf("ico: corrupted bmp height (%d)", h)
				}
				binary.LittleEndian.PutUint16(data[6:8], uint16(h))
			} else {
				binary.LittleEndian.PutUint32(data[8:12], h)
			}
		}
	}

	imageSize := int64(len(data))
	if bits != 32 {
		if w == 0 || h == 0 {
			return nil, nil, fmt.Errorf("ico: corrupted bmp dimensions")
		}
		maskSize := stride(int64(w), 1) * int64(h)
		if maskSize >= imageSize {
			return nil, nil, fmt.Errorf("ico: corrupted bmp mask size")
		}
		imageSize -= maskSize
		mask = data[imageSize:]
	}

	switch bits {
	case 1, 2, 4, 8:
		if x := uint32(1) << bits; numColors == 0 || numColors > x {
			numColors = x
		}
	default:
		numColors = 0
	}
	quad := uint32(rgbquadSize)
	if headerSize == 12 || headerSize == 64 {
		quad = 3
	}

	offset := bmpFileHeaderSize + headerSize + numColors*quad
	if headerSize > 40 && int(headerSize)-4 <= len(data) {
		offset += binary.LittleEndian.Uint32(data[headerSize-8 : headerSize-4])
	}

	size := bmpFileHeaderSize + int(imageSize)
	if offset >= uint32(size) {
		return nil, nil, fmt.Errorf("ico: corrupted bmp data offset")
	}

	copy(buf[0:2], "BM")
	binary.LittleEndian.PutUint32(buf[2:6], uint32(size))
	binary.LittleEndian.PutUint32(buf[10:14], offset)
	return buf[:size], mask, nil
}
