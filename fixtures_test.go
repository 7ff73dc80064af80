package ico

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
)

// Fixtures are built in memory so that every test owns its bytes.

func sqDiffUInt8(x, y uint8) uint64 {
	d := uint64(x) - uint64(y)
	return d * d
}

func fastCompare(img1, img2 *image.NRGBA) (int64, error) {
	if img1.Bounds() != img2.Bounds() {
		return 0, fmt.Errorf("image bounds not equal: %+v, %+v", img1.Bounds(), img2.Bounds())
	}

	accumError := int64(0)

	for i := 0; i < len(img1.Pix); i++ {
		accumError += int64(sqDiffUInt8(img1.Pix[i], img2.Pix[i]))
	}

	return int64(math.Sqrt(float64(accumError))), nil
}

// toNRGBA converts an image to NRGBA format for comparison
func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba
	}
	bounds := img.Bounds()
	nrgba := image.NewNRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			nrgba.Set(x, y, img.At(x, y))
		}
	}
	return nrgba
}

// createTestImage creates a gradient over c for visual verification.
func createTestImage(size int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r := uint8((x * 255) / size)
			g := uint8((y * 255) / size)
			img.SetNRGBA(x, y, color.NRGBA{
				R: (c.R + r) / 2,
				G: (c.G + g) / 2,
				B: c.B,
				A: c.A,
			})
		}
	}
	return img
}

func grayPalette(n int) []color.NRGBA {
	p := make([]color.NRGBA, n)
	for i := range p {
		v := uint8(i * 255 / max(n-1, 1))
		p[i] = color.NRGBA{R: v, G: v, B: v, A: 255}
	}
	return p
}

// bitmapEntry builds a zeroed w x h bitmap entry. Paletted depths take the
// palette, whose length must be 1<<bpp.
func bitmapEntry(t testing.TB, w, h, bpp int, palette []color.NRGBA) *Entry {
	t.Helper()

	colors := 0
	if bpp <= 8 {
		colors = 1 << bpp
		if len(palette) != colors {
			t.Fatalf("%dbpp needs %d palette entries, got %d", bpp, colors, len(palette))
		}
	}
	xor := int(stride(int64(w), int64(bpp))) * h
	and := int(stride(int64(w), 1)) * h
	data := make([]byte, dibSize+colors*rgbquadSize+xor+and)
	binary.LittleEndian.PutUint32(data[0:4], dibSize)
	binary.LittleEndian.PutUint32(data[4:8], uint32(w))
	binary.LittleEndian.PutUint32(data[8:12], uint32(2*h))
	binary.LittleEndian.PutUint16(data[12:14], 1)
	binary.LittleEndian.PutUint16(data[14:16], uint16(bpp))
	for i, c := range palette {
		q := data[dibSize+i*rgbquadSize:]
		q[0], q[1], q[2] = c.B, c.G, c.R
	}

	return NewEntry(DirEntry{
		Width:   uint8(w),
		Height:  uint8(h),
		Palette: uint8(colors), // 256 wraps to 0
		Plane:   1,
		Bits:    uint16(bpp),
	}, data)
}

// setIndex writes a palette index straight into the colour plane.
func setIndex(e *Entry, x, y, idx int) {
	h, _ := e.bitmapHeader()
	w, rows, bpp := int(h.Width), int(h.Height/2), int(h.BitCount)
	row := dibSize + e.ColorCount()*rgbquadSize + (rows-1-y)*int(stride(int64(w), int64(bpp)))
	d := e.data
	switch bpp {
	case 1:
		d[row+x/8] |= byte(idx&1) << (7 - x%8)
	case 4:
		if x%2 == 0 {
			d[row+x/2] = d[row+x/2]&0x0f | byte(idx)<<4
		} else {
			d[row+x/2] = d[row+x/2]&0xf0 | byte(idx&0xf)
		}
	case 8:
		d[row+x] = byte(idx)
	}
}

// pngEntry embeds img as a PNG entry with the canonical 0x0x32 directory.
func pngEntry(t testing.TB, img image.Image) *Entry {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return NewEntry(DirEntry{Plane: 1, Bits: 32}, buf.Bytes())
}

func container(typ uint16, entries ...*Entry) *Container {
	c := New(typ)
	c.Entries = entries
	c.Relayout()
	return c
}

// fileBytes serialises c without validating it.
func fileBytes(t testing.TB, c *Container) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := c.write(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// sample32 is a 32x32 icon with one 32bpp bitmap entry, opaque gradient.
func sample32(t testing.TB) *Container {
	t.Helper()

	e, err := NewBitmapEntry(createTestImage(32, color.NRGBA{R: 200, G: 100, B: 50, A: 255}))
	if err != nil {
		t.Fatal(err)
	}
	return container(TypeIcon, e)
}

// groupBytes builds an RT_GROUP_ICON resource for entries, giving entry i
// the resource id ids[i].
func groupBytes(t testing.TB, entries []*Entry, ids []uint16) []byte {
	t.Helper()

	var buf bytes.Buffer
	h := Header{Type: TypeIcon, Count: uint16(len(entries))}
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		t.Fatal(err)
	}
	for i, e := range entries {
		g := GroupEntry{
			Width:      e.DirEntry.Width,
			Height:     e.DirEntry.Height,
			Palette:    e.Palette,
			Plane:      e.Plane,
			Bits:       e.Bits,
			Size:       e.Size,
			ResourceID: ids[i],
		}
		if err := binary.Write(&buf, binary.LittleEndian, g); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

type fakeResources struct {
	groups [][]byte
	icons  map[uint16][]byte
}

func (f *fakeResources) GroupIcon(index int) ([]byte, error) {
	if index < 0 || index >= len(f.groups) {
		return nil, fmt.Errorf("%w: group %d", ErrResourceNotFound, index)
	}
	return f.groups[index], nil
}

func (f *fakeResources) Icon(id uint16) ([]byte, error) {
	d, ok := f.icons[id]
	if !ok {
		return nil, fmt.Errorf("%w: icon %d", ErrResourceNotFound, id)
	}
	return d, nil
}
