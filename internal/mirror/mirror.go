// Package mirror maps remote paths onto a local directory tree and performs
// the filesystem side of a transfer: lazy directory creation, temp files in
// the target directory and atomic rename into place.
package mirror

import (
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/cbout22/fbsync/internal/remotepath"
)

const (
	dirPerm    os.FileMode = 0755
	tempPrefix             = ".fbsync-"
	tempSuffix             = ".part"
)

// Mirror is the local copy of the remote tree, rooted at Root.
type Mirror struct {
	fs   afero.Fs
	root string
}

// New returns a Mirror rooted at root on fs.
func New(fs afero.Fs, root string) *Mirror {
	return &Mirror{fs: fs, root: filepath.Clean(root)}
}

// NewOS returns a Mirror on the real filesystem.
func NewOS(root string) *Mirror {
	return New(afero.NewOsFs(), root)
}

// Fs exposes the underlying filesystem.
func (m *Mirror) Fs() afero.Fs { return m.fs }

// Root returns the local root directory.
func (m *Mirror) Root() string { return m.root }

// Path maps p to a local path that is guaranteed to stay below the root,
// whatever the remote names contain.
func (m *Mirror) Path(p remotepath.Path) (string, error) {
	if p.IsRoot() {
		return m.root, nil
	}
	local, err := securejoin.SecureJoin(m.root, filepath.FromSlash(string(p)))
	if err != nil {
		return "", errors.Wrapf(err, "mapping %s below %s", p, m.root)
	}
	return local, nil
}

// EnsureDir creates the local directory for p and its parents if they are
// absent.
func (m *Mirror) EnsureDir(p remotepath.Path) (string, error) {
	dir, err := m.Path(p)
	if err != nil {
		return "", err
	}
	if err := m.fs.MkdirAll(dir, dirPerm); err != nil {
		return "", errors.Wrapf(err, "creating directory %s", dir)
	}
	return dir, nil
}

// Exists reports whether a regular file is present at local.
func (m *Mirror) Exists(local string) bool {
	fi, err := m.fs.Stat(local)
	return err == nil && fi.Mode().IsRegular()
}

// CreateTemp opens a new temporary file next to local, so the final rename
// never crosses filesystems. The name is .fbsync-<base>.part followed by a
// random number and only holds characters that are valid on Windows.
func (m *Mirror) CreateTemp(local string) (afero.File, error) {
	f, err := afero.TempFile(m.fs, filepath.Dir(local), TempPrefix(local))
	if err != nil {
		return nil, errors.Wrapf(err, "creating temp file for %s", local)
	}
	return f, nil
}

// TempPrefix is the name prefix of the temp files CreateTemp makes for local.
func TempPrefix(local string) string {
	return tempPrefix + filepath.Base(local) + tempSuffix
}

// Commit moves a finished temp file over local.
func (m *Mirror) Commit(temp, local string) error {
	if err := m.fs.Rename(temp, local); err != nil {
		return errors.Wrapf(err, "renaming %s to %s", temp, local)
	}
	return nil
}

// Remove deletes a file, ignoring files that are already gone.
func (m *Mirror) Remove(local string) error {
	if err := m.fs.Remove(local); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing %s", local)
	}
	return nil
}
