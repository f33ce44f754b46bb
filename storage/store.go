// Package storage keeps encoded frames on disk, one immutable file per frame.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// FrameStore is a directory of NNNN.bmp files. Writes go through a staged
// file that is linked into place, so a stored name never refers to a
// partially written frame and is never overwritten.
type FrameStore struct {
	dir  string
	next int
}

// Staged is a fully written file waiting for its final name.
type Staged struct {
	path string
}

func NewFrameStore(dir string) (*FrameStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create storage directory: %w", err)
	}
	removed, err := removeStaged(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot clean staged files: %w", err)
	}
	if removed > 0 {
		log.WithField("count", removed).Warn("Removed staged frames left by a previous run")
	}
	next, err := NextIndex(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot scan storage directory: %w", err)
	}
	return &FrameStore{dir: dir, next: next}, nil
}

func (fs *FrameStore) Dir() string {
	return fs.dir
}

// FirstIndex is the sequence number the first new frame should get.
func (fs *FrameStore) FirstIndex() int {
	return fs.next
}

// Stage writes data to a hidden file and syncs it.
func (fs *FrameStore) Stage(data []byte) (*Staged, error) {
	path := filepath.Join(fs.dir, stagedPrefix+uuid.NewString())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("cannot create staged frame: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("cannot write staged frame: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("cannot sync staged frame: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("cannot close staged frame: %w", err)
	}
	return &Staged{path: path}, nil
}

// Commit gives a staged file its final name. It fails if name exists.
func (fs *FrameStore) Commit(st *Staged, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := os.Link(st.path, filepath.Join(fs.dir, name)); err != nil {
		return fmt.Errorf("cannot commit %s: %w", name, err)
	}
	if err := os.Remove(st.path); err != nil {
		log.WithError(err).WithField("path", st.path).Warn("Staged frame not removed")
	}
	return nil
}

// Discard removes a staged file that will not be committed.
func (fs *FrameStore) Discard(st *Staged) {
	if err := os.Remove(st.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).WithField("path", st.path).Warn("Staged frame not removed")
	}
}

// Open returns the stored frame called name. Invalid names are rejected
// before the filesystem is touched.
func (fs *FrameStore) Open(name string) (*os.File, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(fs.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}
