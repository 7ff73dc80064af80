package ico

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Container types stored in Header.Type.
const (
	TypeIcon   uint16 = 1
	TypeCursor uint16 = 2
)

// Options tune loading and saving.
type Options struct {
	// IgnorePNG skips the directory shape rules for PNG entries (width and
	// height 0, 32 bits). Some tools write real dimensions for PNG images.
	IgnorePNG bool
}

// Container is an ICO or CUR file: the header and its entries in on-disk
// order.
type Container struct {
	Header  Header
	Entries []*Entry
}

// New returns an empty container of the given type.
func New(typ uint16) *Container {
	return &Container{Header: Header{Type: typ}}
}

// IsCursor reports whether the container holds cursors.
func (c *Container) IsCursor() bool { return c.Header.Type == TypeCursor }

// Load reads a container from r and validates it.
func Load(r io.ReadSeeker, opts Options) (*Container, error) {
	c, err := parse(r)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(opts.IgnorePNG); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadBytes is Load over an in-memory file.
func LoadBytes(b []byte, opts Options) (*Container, error) {
	return Load(bytes.NewReader(b), opts)
}

// LoadFile opens path and loads the container it holds.
func LoadFile(path string, opts Options) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := Load(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// parse reads the header, the directory and every payload without checking
// any invariant.
func parse(r io.ReadSeeker) (*Container, error) {
	c := &Container{}
	if err := binary.Read(r, binary.LittleEndian, &c.Header); err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrStructure, err)
	}

	dirs := make([]DirEntry, c.Header.Count)
	if err := binary.Read(r, binary.LittleEndian, dirs); err != nil {
		return nil, fmt.Errorf("%w: reading directory: %w", ErrStructure, err)
	}

	pos := int64(headSize + direntrySize*len(dirs))
	c.Entries = make([]*Entry, len(dirs))
	for i, d := range dirs {
		if int64(d.Size) > maxICOSize {
			return nil, fmt.Errorf("%w: entry %d too large (size=%d)", ErrStructure, i, d.Size)
		}
		if pos != int64(d.Offset) {
			n, err := r.Seek(int64(d.Offset), io.SeekStart)
			if err != nil {
				return nil, fmt.Errorf("%w: seeking to entry %d: %w", ErrStructure, i, err)
			}
			if n != int64(d.Offset) {
				return nil, fmt.Errorf("%w: entry %d: seek landed at %d, want %d", ErrStructure, i, n, d.Offset)
			}
			pos = n
		}

		data := make([]byte, d.Size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("%w: reading entry %d: %w", ErrStructure, i, err)
		}
		pos += int64(d.Size)
		c.Entries[i] = &Entry{DirEntry: d, data: data}
	}
	return c, nil
}

// Validate checks every structural invariant of the container and reports
// all violations at once as a *ValidationError.
func (c *Container) Validate(ignorePNG bool) error {
	var vs []Violation
	add := func(entry int, field string, expected, actual any) {
		vs = append(vs, Violation{Entry: entry, Field: field, Expected: expected, Actual: actual})
	}

	if c.Header.Reserved != 0 {
		add(headerEntry, "reserved", 0, c.Header.Reserved)
	}
	if c.Header.Type != TypeIcon && c.Header.Type != TypeCursor {
		add(headerEntry, "type", "1 or 2", c.Header.Type)
	}
	if int(c.Header.Count) != len(c.Entries) {
		add(headerEntry, "count", len(c.Entries), c.Header.Count)
	}

	offset := int64(headSize + direntrySize*len(c.Entries))
	for i, e := range c.Entries {
		if int64(len(e.data)) != int64(e.Size) {
			add(i, "data length", e.Size, len(e.data))
		}
		if int64(e.Offset) != offset {
			add(i, "offset", offset, e.Offset)
		}
		if c.IsCursor() {
			if x, y := e.Hotspot(); x >= e.Width() || y >= e.Height() {
				add(i, "hotspot", fmt.Sprintf("inside %dx%d", e.Width(), e.Height()), fmt.Sprintf("(%d,%d)", x, y))
			}
		}

		if e.IsPNG() {
			if !ignorePNG {
				if e.DirEntry.Width != 0 {
					add(i, "width", 0, e.DirEntry.Width)
				}
				if e.DirEntry.Height != 0 {
					add(i, "height", 0, e.DirEntry.Height)
				}
				if !c.IsCursor() && e.Bits != 32 {
					add(i, "bits", 32, e.Bits)
				}
			}
		} else {
			c.validateBitmap(i, e, add)
		}
		offset += int64(e.Size)
	}

	if len(vs) > 0 {
		return &ValidationError{Violations: vs}
	}
	return nil
}

func (c *Container) validateBitmap(i int, e *Entry, add func(int, string, any, any)) {
	h, ok := e.bitmapHeader()
	if !ok {
		add(i, "bitmap header", fmt.Sprintf("%d bytes", dibSize), fmt.Sprintf("%d bytes", len(e.data)))
		return
	}
	if h.Size != dibSize {
		add(i, "header size", dibSize, h.Size)
	}
	if int(h.Width) != e.Width() {
		add(i, "width", e.Width(), h.Width)
	}
	if int(h.Height) != 2*e.Height() {
		add(i, "height", 2*e.Height(), h.Height)
	}
	if h.Planes != 1 {
		add(i, "planes", 1, h.Planes)
	}
	// For cursors the directory holds the hotspot, not the bit count.
	if !c.IsCursor() && h.BitCount != e.Bits {
		add(i, "bits", e.Bits, h.BitCount)
	}
	if want := e.bitmapSize(h); want != int64(e.Size) {
		add(i, "size", want, e.Size)
	}
}

// Write validates the container and serialises it to w.
func (c *Container) Write(w io.Writer, opts Options) error {
	if err := c.Validate(opts.IgnorePNG); err != nil {
		return err
	}
	return c.write(w)
}

// Bytes returns the serialised container.
func (c *Container) Bytes(opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Write(&buf, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save validates the container and writes it to path, replacing any existing
// file.
func (c *Container) Save(path string, opts Options) (err error) {
	if err := c.Validate(opts.IgnorePNG); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(f)
	if err := c.write(bw); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return bw.Flush()
}

func (c *Container) write(w io.Writer) error {
	cw := &countingWriter{w: w}
	if err := binary.Write(cw, binary.LittleEndian, c.Header); err != nil {
		return fmt.Errorf("ico: writing header: %w", err)
	}
	for i, e := range c.Entries {
		if err := binary.Write(cw, binary.LittleEndian, e.DirEntry); err != nil {
			return fmt.Errorf("ico: writing directory entry %d: %w", i, err)
		}
	}
	for i, e := range c.Entries {
		if cw.n != int64(e.Offset) {
			return fmt.Errorf("%w: entry %d at %d, recorded %d", ErrOffsetMismatch, i, cw.n, e.Offset)
		}
		if _, err := cw.Write(e.data); err != nil {
			return fmt.Errorf("ico: writing entry %d: %w", i, err)
		}
	}
	return nil
}

// Append adds e to the end of the container and lays the offsets out again.
func (c *Container) Append(e *Entry) {
	c.Entries = append(c.Entries, e)
	c.Relayout()
}

// Relayout sets Count from the entries and assigns sequential offsets, the
// first payload starting right after the directory.
func (c *Container) Relayout() {
	c.Header.Count = uint16(len(c.Entries))
	off := uint32(headSize + direntrySize*len(c.Entries))
	for _, e := range c.Entries {
		e.Offset = off
		off += e.Size
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
