// Package pkg provides shared utilities for weft.
package pkg

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ClassVisitor receives one class file per call: its internal name (slashed,
// without the .class suffix), the path it came from, and the raw bytes.
type ClassVisitor func(name, origin string, data []byte) error

// Classpath scans a set of roots for JVM class files. Directory roots are
// walked recursively; .jar and .zip roots are read entry by entry.
type Classpath struct {
	roots []string

	mu    sync.Mutex
	index map[string]string // class name to origin, filled lazily by Each
}

// NewClasspath builds a Classpath over the given roots.
func NewClasspath(roots ...string) *Classpath {
	return &Classpath{roots: roots, index: map[string]string{}}
}

// Each visits every class file reachable from the roots. Visiting stops at
// the first error the visitor returns.
func (cp *Classpath) Each(visit ClassVisitor) error {
	for _, root := range cp.roots {
		info, err := os.Stat(root)
		if err != nil {
			return fmt.Errorf("classpath root %s: %w", root, err)
		}

		if info.IsDir() {
			if err := cp.eachInDir(root, visit); err != nil {
				return err
			}

			continue
		}

		if isArchive(root) {
			if err := cp.eachInArchive(root, visit); err != nil {
				return err
			}

			continue
		}

		slog.Debug("skipping non-class root", "root", root)
	}

	return nil
}

// Find locates one class by internal name and returns its bytes.
func (cp *Classpath) Find(name string) ([]byte, error) {
	var found []byte

	err := cp.Each(func(n, origin string, data []byte) error {
		if n == name {
			found = data
			return errStopScan
		}

		return nil
	})

	if err != nil && !errors.Is(err, errStopScan) {
		return nil, err
	}

	if found == nil {
		return nil, fmt.Errorf("class %s not found on classpath", name)
	}

	return found, nil
}

var errStopScan = errors.New("stop scan")

func (cp *Classpath) eachInDir(root string, visit ClassVisitor) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() || filepath.Ext(path) != ".class" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("failed to read class file", "path", path, "error", err)
			return fmt.Errorf("read %s: %w", path, err)
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		name := classNameOf(filepath.ToSlash(rel))
		cp.remember(name, path)

		return visit(name, path, data)
	})
}

func (cp *Classpath) eachInArchive(path string, visit ClassVisitor) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", path, err)
	}

	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		if !strings.HasSuffix(f.Name, ".class") {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s in %s: %w", f.Name, path, err)
		}

		data, err := io.ReadAll(rc)
		_ = rc.Close()

		if err != nil {
			return fmt.Errorf("read %s in %s: %w", f.Name, path, err)
		}

		name := classNameOf(f.Name)
		origin := path + "!" + f.Name
		cp.remember(name, origin)

		if err := visit(name, origin, data); err != nil {
			return err
		}
	}

	return nil
}

func (cp *Classpath) remember(name, origin string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if prev, dup := cp.index[name]; dup && prev != origin {
		slog.Debug("duplicate class on classpath", "class", name, "kept", prev, "ignored", origin)
		return
	}

	cp.index[name] = origin
}

// Origin reports where a previously visited class came from.
func (cp *Classpath) Origin(name string) (string, bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	origin, ok := cp.index[name]

	return origin, ok
}

func classNameOf(entry string) string {
	return strings.TrimSuffix(entry, ".class")
}

func isArchive(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jar", ".zip":
		return true
	}

	return false
}
