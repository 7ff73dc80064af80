// Package peres reads icon resources out of PE executables and DLLs.
package peres

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/tc-hib/winres"

	ico "github.com/antoinefink/icotool"
)

// Resource is one resource of a given type, first language only.
type Resource struct {
	ID   uint16 // 0 when the resource is named
	Name string
	Lang uint16
	Data []byte
}

// Label returns the name of a named resource, the decimal id otherwise.
func (r Resource) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return strconv.Itoa(int(r.ID))
}

// File holds the icon and icon group resources of one module. It
// implements ico.ResourceReader.
type File struct {
	Groups []Resource
	Icons  map[uint16][]byte
}

// Open reads the icon resources of the PE file at path.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	res, err := New(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

// New reads the icon resources of the PE image in r.
func New(r io.ReadSeeker) (*File, error) {
	rs, err := winres.LoadFromEXESingleType(r, winres.RT_GROUP_ICON)
	if errors.Is(err, winres.ErrNoResources) {
		return nil, fmt.Errorf("%w: no resource directory", ico.ErrResourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ico.ErrStructure, err)
	}
	return fromSet(rs), nil
}

// fromSet keeps the first language of every icon and icon group, in
// directory order: names first, then ids ascending.
func fromSet(rs *winres.ResourceSet) *File {
	f := &File{Icons: make(map[uint16][]byte)}

	seen := make(map[winres.Identifier]bool)
	rs.WalkType(winres.RT_GROUP_ICON, func(resID winres.Identifier, lang uint16, data []byte) bool {
		if seen[resID] {
			return true
		}
		seen[resID] = true

		r := Resource{Lang: lang, Data: data}
		switch id := resID.(type) {
		case winres.ID:
			r.ID = uint16(id)
		case winres.Name:
			r.Name = string(id)
		}
		f.Groups = append(f.Groups, r)
		return true
	})

	rs.WalkType(winres.RT_ICON, func(resID winres.Identifier, _ uint16, data []byte) bool {
		id, ok := resID.(winres.ID)
		if !ok {
			return true
		}
		if _, dup := f.Icons[uint16(id)]; !dup {
			f.Icons[uint16(id)] = data
		}
		return true
	})
	return f
}

// GroupIcon returns the index-th icon group in directory order, or for a
// negative index the group whose id is -index.
func (f *File) GroupIcon(index int) ([]byte, error) {
	if index < 0 {
		for _, g := range f.Groups {
			if g.Name == "" && int(g.ID) == -index {
				return g.Data, nil
			}
		}
		return nil, fmt.Errorf("%w: icon group with id %d", ico.ErrResourceNotFound, -index)
	}
	if index >= len(f.Groups) {
		return nil, fmt.Errorf("%w: icon group %d of %d", ico.ErrResourceNotFound, index, len(f.Groups))
	}
	return f.Groups[index].Data, nil
}

// Icon returns the RT_ICON resource with the given id.
func (f *File) Icon(id uint16) ([]byte, error) {
	d, ok := f.Icons[id]
	if !ok {
		return nil, fmt.Errorf("%w: icon %d", ico.ErrResourceNotFound, id)
	}
	return d, nil
}

// GroupNames lists the icon groups by label, in directory order.
func (f *File) GroupNames() []string {
	names := make([]string, len(f.Groups))
	for i, g := range f.Groups {
		names[i] = g.Label()
	}
	return names
}
