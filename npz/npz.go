// Package npz reads and writes numpy-compatible .npy
// arrays and compressed .npz archives.
//
// Arrays are always written as little-endian float32 in C
// order, and archive members are deflate-compressed, which
// matches what numpy.savez_compressed produces.
// Archives written here load with numpy.load(path)[key].
package npz

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/featex/tensor"
)

// DefaultKey is the key under which single-array archives
// store their array.
const DefaultKey = "data"

// A Writer writes arrays into a compressed archive.
type Writer struct {
	zw *zip.Writer
}

// NewWriter creates a Writer that writes an archive to w.
// The caller must Close the Writer to finish the archive.
func NewWriter(w io.Writer) *Writer {
	return &Writer{zw: zip.NewWriter(w)}
}

// Write adds an array to the archive under the key.
func (w *Writer) Write(key string, t *tensor.Tensor) error {
	// A zero Modified time keeps the archive bytes identical
	// across runs.
	f, err := w.zw.CreateHeader(&zip.FileHeader{
		Name:   key + ".npy",
		Method: zip.Deflate,
	})
	if err != nil {
		return essentials.AddCtx("write npz", err)
	}
	return WriteNPY(f, t)
}

// Close finishes the archive.
// It does not close the underlying writer.
func (w *Writer) Close() error {
	return w.zw.Close()
}

// WriteFile writes a single-array archive to a file.
func WriteFile(path, key string, t *tensor.Tensor) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	w := NewWriter(f)
	if err := w.Write(key, t); err != nil {
		return err
	}
	return w.Close()
}

// A Reader reads arrays from an archive.
type Reader struct {
	zr     *zip.Reader
	closer io.Closer
}

// NewReader creates a Reader for an archive of the given
// size.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, essentials.AddCtx("read npz", err)
	}
	return &Reader{zr: zr}, nil
}

// Open opens an archive file.
// The caller must Close the Reader.
func Open(path string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, essentials.AddCtx("open npz", err)
	}
	return &Reader{zr: &zr.Reader, closer: zr}, nil
}

// Keys returns the array keys in archive order.
func (r *Reader) Keys() []string {
	var res []string
	for _, f := range r.zr.File {
		res = append(res, strings.TrimSuffix(f.Name, ".npy"))
	}
	return res
}

// Read decodes the array stored under key.
func (r *Reader) Read(key string) (*tensor.Tensor, error) {
	for _, f := range r.zr.File {
		if f.Name != key+".npy" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, essentials.AddCtx("read npz", err)
		}
		defer rc.Close()
		return ReadNPY(rc)
	}
	return nil, fmt.Errorf("read npz: no array named %q", key)
}

// Close closes the archive if it was opened with Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ReadFile reads one array from an archive file.
func ReadFile(path, key string) (*tensor.Tensor, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Read(key)
}
