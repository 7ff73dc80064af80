package ico

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ResourceReader gives access to the icon resources of an executable or DLL.
type ResourceReader interface {
	// GroupIcon returns the raw RT_GROUP_ICON resource selected by index.
	GroupIcon(index int) ([]byte, error)
	// Icon returns the raw RT_ICON resource with the given id.
	Icon(id uint16) ([]byte, error)
}

const groupEntrySize = 14 // GRPICONDIRENTRY

// GroupEntry is a directory record of an icon group resource: the file
// record with the offset replaced by the id of the RT_ICON resource.
type GroupEntry struct {
	Width      byte
	Height     byte
	Palette    byte
	Reserved   byte
	Plane      uint16
	Bits       uint16
	Size       uint32
	ResourceID uint16
}

// LoadResource builds a container from the icon group selected by index,
// copying each image out of src and laying the offsets out as a file would
// have them. The result is validated.
func LoadResource(src ResourceReader, index int, opts Options) (*Container, error) {
	group, err := src.GroupIcon(index)
	if err != nil {
		return nil, err
	}

	c := &Container{}
	r := bytes.NewReader(group)
	if err := binary.Read(r, binary.LittleEndian, &c.Header); err != nil {
		return nil, fmt.Errorf("%w: reading group header: %w", ErrStructure, err)
	}
	if want := headSize + groupEntrySize*int(c.Header.Count); len(group) < want {
		return nil, fmt.Errorf("%w: group of %d entries needs %d bytes, has %d", ErrStructure, c.Header.Count, want, len(group))
	}

	grp := make([]GroupEntry, c.Header.Count)
	if err := binary.Read(r, binary.LittleEndian, grp); err != nil {
		return nil, fmt.Errorf("%w: reading group directory: %w", ErrStructure, err)
	}

	offset := uint32(headSize + direntrySize*len(grp))
	c.Entries = make([]*Entry, len(grp))
	for i, g := range grp {
		data, err := src.Icon(g.ResourceID)
		if err != nil {
			return nil, fmt.Errorf("icon resource %d: %w", g.ResourceID, err)
		}
		if uint32(len(data)) != g.Size {
			return nil, fmt.Errorf("%w: icon resource %d has %d bytes, group declares %d", ErrStructure, g.ResourceID, len(data), g.Size)
		}
		c.Entries[i] = &Entry{
			DirEntry: DirEntry{
				Width:    g.Width,
				Height:   g.Height,
				Palette:  g.Palette,
				Reserved: g.Reserved,
				Plane:    g.Plane,
				Bits:     g.Bits,
				Size:     g.Size,
				Offset:   offset,
			},
			data: bytes.Clone(data),
		}
		offset += g.Size
	}

	if err := c.Validate(opts.IgnorePNG); err != nil {
		return nil, err
	}
	return c, nil
}
