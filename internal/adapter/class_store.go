package adapter

import (
	"fmt"
	"os"
	"sort"
	"strings"

	m "weft.dev/pkg/weft/internal/model"
	"weft.dev/pkg/weft/pkg"
)

// ClassEntry is one discovered class file.
type ClassEntry struct {
	Name   string // internal name, e.g. "com/example/Widget"
	Origin m.Path
	Data   []byte
}

// ClassStore abstracts discovery of input classes and persistence of
// rewritten ones.
type ClassStore interface {
	// LoadClasses discovers every class under the given roots, sorted by
	// internal name for deterministic processing order.
	LoadClasses(roots []m.Path) ([]ClassEntry, error)

	// SaveClass writes rewritten class bytes below the output root, mirroring
	// the class's package directories.
	SaveClass(outputRoot m.Path, name string, data []byte) (m.Path, error)
}

// LocalClassStore reads classes from directories and jar archives on disk.
type LocalClassStore struct {
	fs ClassFSAdapter
}

// NewLocalClassStore constructs a class store over the local filesystem.
func NewLocalClassStore(fs ClassFSAdapter) *LocalClassStore {
	return &LocalClassStore{fs: fs}
}

// LoadClasses walks the roots via the classpath scanner.
func (s *LocalClassStore) LoadClasses(roots []m.Path) ([]ClassEntry, error) {
	strRoots := make([]string, len(roots))
	for i, r := range roots {
		strRoots[i] = string(r)
	}

	var entries []ClassEntry

	cp := pkg.NewClasspath(strRoots...)

	err := cp.Each(func(name, origin string, data []byte) error {
		entries = append(entries, ClassEntry{
			Name:   name,
			Origin: m.Path(origin),
			Data:   data,
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan classpath: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})

	return entries, nil
}

// SaveClass writes the class below outputRoot as <name>.class.
func (s *LocalClassStore) SaveClass(outputRoot m.Path, name string, data []byte) (m.Path, error) {
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("refusing suspicious class name %q", name)
	}

	out := s.fs.JoinPath(string(outputRoot), name+".class")

	if err := s.fs.WriteFile(out, data, os.FileMode(0o644)); err != nil {
		return "", fmt.Errorf("write class %s: %w", name, err)
	}

	return out, nil
}
