// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package pathmap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Mapper translates server-relative paths into paths below a local root and
// makes sure the containing directory exists.
type Mapper struct {
	fs   afero.Fs
	root string
}

// New creates a mapper rooted at root.
func New(fs afero.Fs, root string) *Mapper {
	return &Mapper{fs: fs, root: filepath.Clean(root)}
}

// Map returns the local path for serverPath and creates its directory. When
// isFile is true the parent of the mapped path is created, otherwise the
// mapped path itself. Calling Map again for the same path is a no-op.
func (m *Mapper) Map(serverPath string, isFile bool) (string, error) {
	rel := strings.TrimLeft(filepath.FromSlash(serverPath), string(filepath.Separator))
	local := filepath.Join(m.root, rel)

	if within, err := m.contains(local); err != nil || !within {
		return "", fmt.Errorf("server path %q maps outside of %s", serverPath, m.root)
	}

	dir := local
	if isFile {
		dir = filepath.Dir(local)
	}
	if err := m.fs.MkdirAll(dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return local, nil
}

// Rel returns local relative to the root using forward slashes.
func (m *Mapper) Rel(local string) (string, error) {
	rel, err := filepath.Rel(m.root, local)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (m *Mapper) contains(local string) (bool, error) {
	rel, err := filepath.Rel(m.root, local)
	if err != nil {
		return false, err
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}
