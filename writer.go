package ico

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
)

// ErrImageTooLarge is returned when the image dimensions exceed 256x256 pixels.
var ErrImageTooLarge = errors.New("ico: image dimensions must not exceed 256x256 pixels")

// Encode writes im as an icon file holding a single PNG entry.
func Encode(w io.Writer, im image.Image) error {
	return EncodeAll(w, []image.Image{im})
}

// EncodeAll writes an icon file with one PNG entry per image, in order.
// The directory records the real image size, as most tools do, so loading
// the result with Load needs Options.IgnorePNG unless every image is
// 256x256.
func EncodeAll(w io.Writer, images []image.Image) error {
	c := New(TypeIcon)
	for _, im := range images {
		e, err := NewPNGEntry(im)
		if err != nil {
			return err
		}
		c.Entries = append(c.Entries, e)
	}
	c.Relayout()
	return c.Write(w, Options{IgnorePNG: true})
}

// NewPNGEntry encodes im as PNG and wraps it in an entry.
func NewPNGEntry(im image.Image) (*Entry, error) {
	b := im.Bounds()
	if b.Dx() > 256 || b.Dy() > 256 {
		return nil, ErrImageTooLarge
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, im); err != nil {
		return nil, err
	}
	return NewEntry(DirEntry{
		Width:  uint8(b.Dx()),
		Height: uint8(b.Dy()),
		Plane:  1,
		Bits:   32,
	}, buf.Bytes()), nil
}

// NewBitmapEntry stores im as a 32bpp bitmap entry. Fully transparent pixels
// get their AND-mask bit set so that readers ignoring alpha still see the
// shape.
func NewBitmapEntry(im image.Image) (*Entry, error) {
	b := im.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > 256 || h > 256 {
		return nil, ErrImageTooLarge
	}
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("ico: empty image")
	}

	xor := int(stride(int64(w), 32)) * h
	and := int(stride(int64(w), 1)) * h
	data := make([]byte, dibSize+xor+and)
	binary.LittleEndian.PutUint32(data[0:4], dibSize)
	binary.LittleEndian.PutUint32(data[4:8], uint32(w))
	binary.LittleEndian.PutUint32(data[8:12], uint32(h*2))
	binary.LittleEndian.PutUint16(data[12:14], 1)
	binary.LittleEndian.PutUint16(data[14:16], 32)
	binary.LittleEndian.PutUint32(data[20:24], uint32(xor+and))

	e := NewEntry(DirEntry{
		Width:  uint8(w),
		Height: uint8(h),
		Plane:  1,
		Bits:   32,
	}, data)
	bm, err := NewBitmap(e, WithMaskRule(MaskWhenClear))
	if err != nil {
		return nil, err
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(im.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			if err := bm.SetPixel(x, y, c); err != nil {
				return nil, err
			}
		}
	}
	return e, nil
}
