package download

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/replicate/rget/pkg/state"
)

const (
	PartialSuffix = ".part"
	SidecarSuffix = ".rget"
)

// PartialPath is where the artifact is assembled before it is published to dest.
func PartialPath(dest string) string {
	return dest + PartialSuffix
}

// SidecarPath is where progress for dest is recorded.
func SidecarPath(dest string) string {
	return dest + SidecarSuffix
}

// artifact is the output file: written in place at segment offsets under a partial name,
// then renamed to its destination once validated.
type artifact struct {
	dest string
	part string
}

func newArtifact(dest string) *artifact {
	return &artifact{dest: dest, part: PartialPath(dest)}
}

// partSize returns the size of an existing partial file, -1 if there is none.
func (a *artifact) partSize() int64 {
	info, err := os.Stat(a.part)
	if err != nil || !info.Mode().IsRegular() {
		return -1
	}
	return info.Size()
}

// open opens the partial file, truncating it unless resuming, and pre-allocates it to size
// when size is known.
func (a *artifact) open(resume bool, size int64) (*os.File, error) {
	flags := os.O_RDWR | os.O_CREATE
	if !resume {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(a.part, flags, 0644)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: a.part, Err: err}
	}
	if size >= 0 {
		if err := file.Truncate(size); err != nil {
			_ = file.Close()
			return nil, &StorageError{Op: "allocate", Path: a.part, Err: err}
		}
	}
	return file, nil
}

// publish renames the partial file to its destination.
func (a *artifact) publish() error {
	if err := os.Rename(a.part, a.dest); err != nil {
		return &StorageError{Op: "rename", Path: a.dest, Err: err}
	}
	if err := state.SyncDir(filepath.Dir(a.dest)); err != nil {
		return &StorageError{Op: "sync", Path: filepath.Dir(a.dest), Err: err}
	}
	return nil
}

func (a *artifact) discard() error {
	if err := os.Remove(a.part); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StorageError{Op: "remove", Path: a.part, Err: err}
	}
	return nil
}

// Clean removes the partial artifact and progress record for dest.
func Clean(dest string) error {
	if err := newArtifact(dest).discard(); err != nil {
		return err
	}
	store := state.NewStore(SidecarPath(dest))
	if err := store.Clear(); err != nil {
		return &StorageError{Op: "remove", Path: store.Path(), Err: err}
	}
	return nil
}
