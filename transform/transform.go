// Package transform holds whole-container pixel operations built on the
// ico pixel codec.
package transform

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/rs/zerolog/log"

	ico "github.com/antoinefink/icotool"
)

// ErrNotGrayscale is returned by GrayscaleToAlpha for a pixel whose red,
// green and blue differ.
var ErrNotGrayscale = errors.New("transform: not grayscale")

// Unless the caller passes its own rule, written pixels only get their mask
// bit when fully transparent, so that translucent results stay visible.
var keepAlpha = ico.WithMaskRule(ico.MaskWhenClear)

func writeOptions(opts []ico.BitmapOption) []ico.BitmapOption {
	return append([]ico.BitmapOption{keepAlpha}, opts...)
}

// Blend composites fg over bg.
func Blend(fg, bg color.NRGBA) color.NRGBA {
	a := uint32(fg.A)
	mix := func(f, b uint8) uint8 {
		return uint8(a*uint32(f)/255 + (255-a)*uint32(b)/255)
	}
	return color.NRGBA{
		R: mix(fg.R, bg.R),
		G: mix(fg.G, bg.G),
		B: mix(fg.B, bg.B),
		A: uint8(a + (255-a)*uint32(bg.A)/255),
	}
}

// Composite blends every bitmap entry of src over the bitmap entry of dst
// with the same width, height and bit depth. When src has several candidates
// the first one is used; dst entries without a counterpart are left alone.
// opts apply to the dst bitmaps, for example ico.WithMaskRule to choose how
// blended pixels set the AND mask.
func Composite(dst, src *ico.Container, opts ...ico.BitmapOption) error {
	for i, d := range dst.Entries {
		if d.IsPNG() {
			continue
		}
		s := findImage(src, d.Width(), d.Height(), d.Bits)
		if s == nil {
			log.Debug().Int("entry", i).Int("width", d.Width()).Int("height", d.Height()).
				Uint16("bits", d.Bits).Msg("no source image of matching size")
			continue
		}

		sb, err := ico.NewBitmap(s)
		if err != nil {
			return fmt.Errorf("source for entry %d: %w", i, err)
		}
		db, err := ico.NewBitmap(d, writeOptions(opts)...)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		err = forEachPixel(db, func(x, y int, c color.NRGBA) error {
			fg, err := sb.Pixel(x, y)
			if err != nil || fg.A == 0 {
				return err
			}
			return db.SetPixel(x, y, Blend(fg, c))
		})
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		log.Debug().Int("entry", i).Msg("composited")
	}
	return nil
}

func findImage(c *ico.Container, width, height int, bits uint16) *ico.Entry {
	for _, e := range c.Entries {
		if !e.IsPNG() && e.Width() == width && e.Height() == height && e.Bits == bits {
			return e
		}
	}
	return nil
}

// GrayscaleToAlpha turns every bitmap entry of c into a black image whose
// alpha is the inverted gray level. Every pixel must be gray.
func GrayscaleToAlpha(c *ico.Container, opts ...ico.BitmapOption) error {
	for i, e := range c.Entries {
		if e.IsPNG() {
			continue
		}
		b, err := ico.NewBitmap(e, writeOptions(opts)...)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		err = forEachPixel(b, func(x, y int, p color.NRGBA) error {
			if p.R != p.G || p.R != p.B {
				return fmt.Errorf("%w: pixel (%d,%d) is %v", ErrNotGrayscale, x, y, p)
			}
			return b.SetPixel(x, y, color.NRGBA{A: 255 - p.R})
		})
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

// Recolor replaces the colour of every visible pixel of e that matches from
// with to, keeping its alpha. The alpha of from and to is ignored.
func Recolor(e *ico.Entry, from, to color.NRGBA, opts ...ico.BitmapOption) error {
	b, err := ico.NewBitmap(e, writeOptions(opts)...)
	if err != nil {
		return err
	}
	n := 0
	err = forEachPixel(b, func(x, y int, p color.NRGBA) error {
		if p.A == 0 || p.R != from.R || p.G != from.G || p.B != from.B {
			return nil
		}
		n++
		return b.SetPixel(x, y, color.NRGBA{R: to.R, G: to.G, B: to.B, A: p.A})
	})
	log.Debug().Int("pixels", n).Msg("recolored")
	return err
}

func forEachPixel(b *ico.Bitmap, f func(x, y int, c color.NRGBA) error) error {
	for y := 0; y < b.Height(); y++ {
		for x := 0; x < b.Width(); x++ {
			c, err := b.Pixel(x, y)
			if err != nil {
				return err
			}
			if err := f(x, y, c); err != nil {
				return err
			}
		}
	}
	return nil
}
