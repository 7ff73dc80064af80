package transform

import (
	"errors"
	"image"
	"image/color"
	"testing"

	ico "github.com/antoinefink/icotool"
)

func fill(size int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func bitmapEntry(t *testing.T, img image.Image) *ico.Entry {
	t.Helper()

	e, err := ico.NewBitmapEntry(img)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func pixel(t *testing.T, e *ico.Entry, x, y int) color.NRGBA {
	t.Helper()

	b, err := ico.NewBitmap(e)
	if err != nil {
		t.Fatal(err)
	}
	c, err := b.Pixel(x, y)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestBlend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		fg, bg color.NRGBA
		want   color.NRGBA
	}{
		{"opaque over opaque", color.NRGBA{R: 255, A: 255}, color.NRGBA{B: 255, A: 255}, color.NRGBA{R: 255, A: 255}},
		{"clear over opaque", color.NRGBA{R: 255}, color.NRGBA{B: 255, A: 255}, color.NRGBA{B: 255, A: 255}},
		{"half over black", color.NRGBA{R: 255, A: 128}, color.NRGBA{A: 255}, color.NRGBA{R: 128, A: 255}},
		{"half over clear", color.NRGBA{G: 200, A: 128}, color.NRGBA{}, color.NRGBA{G: 100, A: 128}},
	}
	for _, tc := range tests {
		if got := Blend(tc.fg, tc.bg); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestComposite(t *testing.T) {
	t.Parallel()

	blue := color.NRGBA{B: 255, A: 255}
	red := color.NRGBA{R: 255, A: 255}

	dst := ico.New(ico.TypeIcon)
	dst.Append(bitmapEntry(t, fill(16, blue)))
	dst.Append(bitmapEntry(t, fill(24, blue)))
	png, err := ico.NewPNGEntry(fill(16, blue))
	if err != nil {
		t.Fatal(err)
	}
	dst.Append(png)

	overlay := fill(16, color.NRGBA{})
	overlay.SetNRGBA(3, 4, red)
	overlay.SetNRGBA(5, 6, color.NRGBA{R: 255, A: 128})
	src := ico.New(ico.TypeIcon)
	src.Append(bitmapEntry(t, fill(32, red)))
	src.Append(bitmapEntry(t, overlay))

	if err := Composite(dst, src); err != nil {
		t.Fatalf("composite: %v", err)
	}

	if c := pixel(t, dst.Entries[0], 3, 4); c != red {
		t.Errorf("opaque overlay pixel: %v", c)
	}
	if c := pixel(t, dst.Entries[0], 5, 6); c != (color.NRGBA{R: 128, B: 127, A: 255}) {
		t.Errorf("translucent overlay pixel: %v", c)
	}
	if c := pixel(t, dst.Entries[0], 0, 0); c != blue {
		t.Errorf("uncovered pixel: %v", c)
	}
	if c := pixel(t, dst.Entries[1], 3, 4); c != blue {
		t.Errorf("entry without a matching source changed: %v", c)
	}
	if err := dst.Validate(true); err != nil {
		t.Errorf("composited container no longer validates: %v", err)
	}
}

func TestCompositeFirstMatch(t *testing.T) {
	t.Parallel()

	red := color.NRGBA{R: 255, A: 255}
	green := color.NRGBA{G: 255, A: 255}

	dst := ico.New(ico.TypeIcon)
	dst.Append(bitmapEntry(t, fill(16, color.NRGBA{B: 255, A: 255})))
	src := ico.New(ico.TypeIcon)
	src.Append(bitmapEntry(t, fill(32, green)))
	src.Append(bitmapEntry(t, fill(16, red)))
	src.Append(bitmapEntry(t, fill(16, green)))

	if err := Composite(dst, src); err != nil {
		t.Fatal(err)
	}
	if c := pixel(t, dst.Entries[0], 8, 8); c != red {
		t.Errorf("expected the first 16x16 source to win, got %v", c)
	}
}

func TestTransformMaskRule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		opts  []ico.BitmapOption
		alpha uint8
	}{
		{"default", nil, 155},
		{"when clear", []ico.BitmapOption{ico.WithMaskRule(ico.MaskWhenClear)}, 155},
		{"unless opaque", []ico.BitmapOption{ico.WithMaskRule(ico.MaskUnlessOpaque)}, 0},
	}
	for _, tc := range tests {
		c := ico.New(ico.TypeIcon)
		c.Append(bitmapEntry(t, fill(4, color.NRGBA{R: 100, G: 100, B: 100, A: 255})))
		if err := GrayscaleToAlpha(c, tc.opts...); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got := pixel(t, c.Entries[0], 1, 1); got.A != tc.alpha {
			t.Errorf("%s: alpha %d, want %d", tc.name, got.A, tc.alpha)
		}
	}
}

func TestGrayscaleToAlpha(t *testing.T) {
	t.Parallel()

	img := fill(8, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	img.SetNRGBA(1, 1, color.NRGBA{R: 0, G: 0, B: 0, A: 255})
	img.SetNRGBA(2, 2, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	c := ico.New(ico.TypeIcon)
	c.Append(bitmapEntry(t, img))

	if err := GrayscaleToAlpha(c); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		x, y int
		want color.NRGBA
	}{
		{0, 0, color.NRGBA{}},
		{1, 1, color.NRGBA{A: 255}},
		{2, 2, color.NRGBA{A: 155}},
	}
	for _, tc := range tests {
		if got := pixel(t, c.Entries[0], tc.x, tc.y); got != tc.want {
			t.Errorf("(%d,%d): got %v, want %v", tc.x, tc.y, got, tc.want)
		}
	}

	c = ico.New(ico.TypeIcon)
	img.SetNRGBA(7, 7, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	c.Append(bitmapEntry(t, img))
	if err := GrayscaleToAlpha(c); !errors.Is(err, ErrNotGrayscale) {
		t.Errorf("expected ErrNotGrayscale, got %v", err)
	}
}

func TestRecolor(t *testing.T) {
	t.Parallel()

	from := color.NRGBA{R: 10, G: 20, B: 30, A: 255}
	to := color.NRGBA{R: 200, G: 0, B: 0}

	img := fill(4, from)
	img.SetNRGBA(1, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 90})
	img.SetNRGBA(2, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 0})
	img.SetNRGBA(3, 0, color.NRGBA{R: 11, G: 20, B: 30, A: 255})
	e := bitmapEntry(t, img)

	if err := Recolor(e, from, to); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		x    int
		want color.NRGBA
	}{
		{0, color.NRGBA{R: 200, A: 255}},
		{1, color.NRGBA{R: 200, A: 90}},
		{2, color.NRGBA{R: 10, G: 20, B: 30, A: 0}},
		{3, color.NRGBA{R: 11, G: 20, B: 30, A: 255}},
	}
	for _, tc := range tests {
		if got := pixel(t, e, tc.x, 0); got != tc.want {
			t.Errorf("(%d,0): got %v, want %v", tc.x, got, tc.want)
		}
	}

	png, err := ico.NewPNGEntry(img)
	if err != nil {
		t.Fatal(err)
	}
	if err := Recolor(png, from, to); !errors.Is(err, ico.ErrPrecondition) {
		t.Errorf("expected ErrPrecondition for a PNG entry, got %v", err)
	}
}
