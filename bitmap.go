package ico

import (
	"fmt"
	"image"
	"image/color"
)

// MaskRule decides how SetPixel derives the AND-mask bit from the alpha of
// the colour it writes.
type MaskRule int

const (
	// MaskUnlessOpaque sets the mask bit for every pixel whose alpha is not
	// 255. Pixel reports masked pixels with alpha 0, so semi-transparent
	// colours read back as fully transparent.
	MaskUnlessOpaque MaskRule = iota
	// MaskWhenClear sets the mask bit only for alpha 0, which keeps 32bpp
	// colours bit-exact through SetPixel and Pixel.
	MaskWhenClear
)

func (r MaskRule) masked(a uint8) bool {
	if r == MaskWhenClear {
		return a == 0
	}
	return a != 255
}

// BitmapOption configures a Bitmap.
type BitmapOption func(*Bitmap)

// WithMaskRule selects the rule SetPixel uses for the AND mask.
func WithMaskRule(r MaskRule) BitmapOption {
	return func(b *Bitmap) { b.rule = r }
}

// Bitmap gives pixel access to a bitmap entry. It does not copy the payload:
// every read and write goes to the entry's bytes, so writes show up in the
// container directly. A Bitmap is meant to live for one operation; after
// Entry.SetData build a new one.
type Bitmap struct {
	entry *Entry

	width, height int
	bpp, colors   int

	xorStride, andStride int
	xorOff, andOff, end  int

	rule MaskRule
}

// NewBitmap returns a pixel view over e, which must hold a bitmap with a bit
// depth of 1, 4, 8, 24 or 32.
func NewBitmap(e *Entry, opts ...BitmapOption) (*Bitmap, error) {
	if e.IsPNG() {
		return nil, fmt.Errorf("%w: entry holds a PNG image", ErrPrecondition)
	}
	h, ok := e.bitmapHeader()
	if !ok {
		return nil, fmt.Errorf("%w: bitmap header truncated (%d bytes)", ErrStructure, len(e.data))
	}
	if h.Compression != 0 {
		return nil, fmt.Errorf("%w: compressed bitmap (%d)", ErrUnsupportedFormat, h.Compression)
	}
	if h.Planes != 1 {
		return nil, fmt.Errorf("%w: %d colour planes", ErrUnsupportedFormat, h.Planes)
	}
	if h.Width <= 0 || h.Height <= 0 || h.Height%2 != 0 {
		return nil, fmt.Errorf("%w: bitmap dimensions %dx%d", ErrStructure, h.Width, h.Height)
	}

	b := &Bitmap{
		entry:  e,
		width:  int(h.Width),
		height: int(h.Height / 2),
		bpp:    int(h.BitCount),
		colors: e.ColorCount(),
	}
	switch b.bpp {
	case 1, 4, 8:
		if b.colors != 1<<b.bpp {
			return nil, fmt.Errorf("%w: %dbpp with %d palette entries", ErrUnsupportedFormat, b.bpp, b.colors)
		}
	case 24, 32:
	default:
		return nil, fmt.Errorf("%w: %dbpp", ErrUnsupportedFormat, b.bpp)
	}

	xorStride := stride(int64(b.width), int64(b.bpp))
	andStride := stride(int64(b.width), 1)
	b.xorOff = dibSize + b.colors*rgbquadSize
	// Compare per row so that huge headers cannot overflow the plane sizes.
	avail := int64(len(e.data) - b.xorOff)
	if avail < 0 || xorStride+andStride > avail/int64(b.height) {
		return nil, fmt.Errorf("%w: %dx%d bitmap at %dbpp does not fit in %d bytes",
			ErrStructure, b.width, b.height, b.bpp, len(e.data))
	}
	b.xorStride = int(xorStride)
	b.andStride = int(andStride)
	b.andOff = b.xorOff + b.xorStride*b.height
	b.end = b.andOff + b.andStride*b.height

	for _, o := range opts {
		o(b)
	}
	return b, nil
}

func (b *Bitmap) Width() int        { return b.width }
func (b *Bitmap) Height() int       { return b.height }
func (b *Bitmap) BitsPerPixel() int { return b.bpp }

// Colors returns the palette length, 0 for true-colour bitmaps.
func (b *Bitmap) Colors() int { return b.colors }

// Color returns palette entry i. The reserved fourth byte of the RGBQUAD is
// not read as alpha: palette colours always come back with alpha 255, and
// transparency in paletted bitmaps comes only from the AND mask.
func (b *Bitmap) Color(i int) (color.NRGBA, error) {
	if i < 0 || i >= b.colors {
		return color.NRGBA{}, fmt.Errorf("%w: palette index %d outside [0,%d)", ErrPrecondition, i, b.colors)
	}
	if len(b.entry.data) < b.end {
		return color.NRGBA{}, b.shrunk()
	}
	return b.palette(i), nil
}

// palette reads an RGBQUAD, ignoring its reserved byte.
func (b *Bitmap) palette(i int) color.NRGBA {
	q := b.entry.data[dibSize+i*rgbquadSize:]
	return color.NRGBA{R: q[2], G: q[1], B: q[0], A: 255}
}

// Pixel returns the colour at (x, y), y counting from the top. A set mask bit
// forces alpha to 0.
func (b *Bitmap) Pixel(x, y int) (color.NRGBA, error) {
	if err := b.check(x, y); err != nil {
		return color.NRGBA{}, err
	}

	d := b.entry.data
	o := b.colorOffset(x, y)
	var c color.NRGBA
	switch b.bpp {
	case 1:
		c = b.palette(int(d[o]>>(7-uint(x%8))) & 0x1)
	case 4:
		c = b.palette(int(d[o]>>(4*uint(1-x%2))) & 0xf)
	case 8:
		c = b.palette(int(d[o]))
	case 24:
		c = color.NRGBA{R: d[o+2], G: d[o+1], B: d[o], A: 255}
	case 32:
		c = color.NRGBA{R: d[o+2], G: d[o+1], B: d[o], A: d[o+3]}
	}
	if b.mask(x, y) {
		c.A = 0
	}
	return c, nil
}

// SetPixel writes c at (x, y) and updates the mask bit by the bitmap's
// MaskRule. 8bpp bitmaps store the nearest palette colour; 24bpp bitmaps drop
// alpha from the colour plane. 1bpp and 4bpp bitmaps cannot be written.
func (b *Bitmap) SetPixel(x, y int, c color.NRGBA) error {
	if err := b.check(x, y); err != nil {
		return err
	}

	d := b.entry.data
	o := b.colorOffset(x, y)
	switch b.bpp {
	case 1, 4:
		return fmt.Errorf("%w: writing %dbpp pixels", ErrUnsupportedFormat, b.bpp)
	case 8:
		d[o] = uint8(b.NearestIndex(c))
	case 24:
		d[o], d[o+1], d[o+2] = c.B, c.G, c.R
	case 32:
		d[o], d[o+1], d[o+2], d[o+3] = c.B, c.G, c.R, c.A
	}
	b.setMask(x, y, b.rule.masked(c.A))
	return nil
}

// NearestIndex returns the palette index closest to c by a red-mean weighted
// distance. Alpha is ignored and the lowest index wins a tie. It returns -1
// for bitmaps without a palette.
func (b *Bitmap) NearestIndex(c color.NRGBA) int {
	best, bestDist := -1, 0
	for i := 0; i < b.colors; i++ {
		d := colorDistance(c, b.palette(i))
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func colorDistance(a, b color.NRGBA) int {
	rmean := (int(a.R) + int(b.R)) / 2
	dr := int(a.R) - int(b.R)
	dg := int(a.G) - int(b.G)
	db := int(a.B) - int(b.B)
	return (((512 + rmean) * dr * dr) >> 8) + 4*dg*dg + (((767 - rmean) * db * db) >> 8)
}

// Mask reports whether the AND-mask bit at (x, y) is set.
func (b *Bitmap) Mask(x, y int) (bool, error) {
	if err := b.check(x, y); err != nil {
		return false, err
	}
	return b.mask(x, y), nil
}

// SetMask sets or clears the AND-mask bit at (x, y).
func (b *Bitmap) SetMask(x, y int, m bool) error {
	if err := b.check(x, y); err != nil {
		return err
	}
	b.setMask(x, y, m)
	return nil
}

func (b *Bitmap) mask(x, y int) bool {
	return b.entry.data[b.maskOffset(x, y)]>>(7-uint(x%8))&0x1 != 0
}

func (b *Bitmap) setMask(x, y int, m bool) {
	o := b.maskOffset(x, y)
	bit := byte(1) << (7 - uint(x%8))
	if m {
		b.entry.data[o] |= bit
	} else {
		b.entry.data[o] &^= bit
	}
}

// Rows are stored bottom-up in both planes.
func (b *Bitmap) colorOffset(x, y int) int {
	return b.xorOff + (b.height-y-1)*b.xorStride + x*b.bpp/8
}

func (b *Bitmap) maskOffset(x, y int) int {
	return b.andOff + (b.height-y-1)*b.andStride + x/8
}

func (b *Bitmap) check(x, y int) error {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return fmt.Errorf("%w: pixel (%d,%d) outside %dx%d", ErrPrecondition, x, y, b.width, b.height)
	}
	if len(b.entry.data) < b.end {
		return b.shrunk()
	}
	return nil
}

func (b *Bitmap) shrunk() error {
	return fmt.Errorf("%w: payload shrank to %d bytes, bitmap needs %d", ErrStructure, len(b.entry.data), b.end)
}

// ColorModel, Bounds and At make a Bitmap usable as an image.Image.

func (b *Bitmap) ColorModel() color.Model { return color.NRGBAModel }

func (b *Bitmap) Bounds() image.Rectangle { return image.Rect(0, 0, b.width, b.height) }

func (b *Bitmap) At(x, y int) color.Color {
	c, err := b.Pixel(x, y)
	if err != nil {
		return color.NRGBA{}
	}
	return c
}
