// Package sink persists per-example feature records.
package sink

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/featex/npz"
	"github.com/unixpickle/featex/tensor"
)

// RecordMode is the permission of written records.
const RecordMode = 0644

// A Sink stores the features of individual examples.
type Sink interface {
	Write(index int, features *tensor.Tensor) error
}

// Dir is a Sink which writes one compressed archive per
// example into a directory.
// The features of example i are stored in "<dir>/i.npz"
// under npz.DefaultKey.
type Dir struct {
	dir string
}

// NewDir creates a Dir, creating the directory if it does
// not exist.
func NewDir(dir string) (*Dir, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, essentials.AddCtx("create output directory", err)
	}
	return &Dir{dir: dir}, nil
}

// Path returns the path at which an example is stored.
func (d *Dir) Path(index int) string {
	return filepath.Join(d.dir, strconv.Itoa(index)+".npz")
}

// Write stores the features for an example, replacing
// any previous record for the same index.
//
// The record is written to a temporary file first, so a
// failed write never leaves a truncated record behind.
func (d *Dir) Write(index int, features *tensor.Tensor) (err error) {
	tmp, err := os.CreateTemp(d.dir, ".tmp-"+strconv.Itoa(index)+"-*.npz")
	if err != nil {
		return essentials.AddCtx("write features", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := npz.NewWriter(tmp)
	if err := w.Write(npz.DefaultKey, features); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return essentials.AddCtx("write features", err)
	}
	// CreateTemp uses 0600; records are ordinary files.
	if err := tmp.Chmod(RecordMode); err != nil {
		return essentials.AddCtx("write features", err)
	}
	if err := tmp.Close(); err != nil {
		return essentials.AddCtx("write features", err)
	}
	return essentials.AddCtx("write features", os.Rename(tmp.Name(), d.Path(index)))
}

// Read loads the features stored for an example.
func (d *Dir) Read(index int) (*tensor.Tensor, error) {
	return npz.ReadFile(d.Path(index), npz.DefaultKey)
}
