// Package batch turns an ordered list of input files into
// a lazy sequence of fixed-size tensor batches.
//
// Sources follow the bufio.Scanner pattern:
//
//     for src.Next() {
//         b := src.Batch()
//         // ...
//     }
//     if err := src.Err(); err != nil {
//         // ...
//     }
//
// Exhaustion is reported by Next returning false with a
// nil Err, so a finished run and a broken run are never
// confused.
package batch

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/unixpickle/featex/tensor"
)

var (
	// ErrBadIndex is wrapped by errors for filenames whose
	// stem is not a non-negative integer.
	ErrBadIndex = errors.New("filename is not an example index")

	// ErrShapeMismatch is wrapped by errors for inputs whose
	// size differs from the first input of the run.
	ErrShapeMismatch = errors.New("input shape differs from first input")
)

// An IndexError reports a filename which could not be
// turned into an example index.
type IndexError struct {
	Path string
	Err  error
}

func (i *IndexError) Error() string {
	return fmt.Sprintf("parse index of %s: %s", i.Path, i.Err)
}

func (i *IndexError) Unwrap() error {
	return ErrBadIndex
}

// ParseIndex derives an example index from the base name
// of a path, without its extension.
// For example, "inputs/17.png" yields 17.
func ParseIndex(path string) (int, error) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	idx, err := strconv.Atoi(stem)
	if err != nil {
		return 0, &IndexError{Path: path, Err: err}
	} else if idx < 0 {
		return 0, &IndexError{Path: path, Err: errors.New("negative index")}
	}
	return idx, nil
}

// A Batch is a contiguous slice of the inputs, stacked
// into one tensor.
//
// Indexes[i] is the example index of Tensor.Row(i).
type Batch struct {
	Indexes []int
	Tensor  *tensor.Tensor
}

// A Source is a finite, non-restartable sequence of
// batches.
type Source interface {
	// Next loads the next batch.
	// It returns false once the inputs are exhausted or an
	// error occurs.
	Next() bool

	// Batch returns the batch loaded by the last successful
	// call to Next.
	Batch() *Batch

	// Err returns the error which stopped the sequence, or
	// nil if it ended normally.
	Err() error

	// Shape returns the per-example shape determined from
	// the first input of the run.
	// It is nil if there are no inputs.
	Shape() []int

	// NumBatches returns the total number of batches the
	// source produces when no error occurs.
	NumBatches() int
}

// NumBatches computes ceil(n / batchSize).
func NumBatches(n, batchSize int) int {
	return (n + batchSize - 1) / batchSize
}

type loadFunc func(path string, dst []float32) error

// stream implements Source on top of a per-file loader.
type stream struct {
	paths     []string
	batchSize int
	shape     []int
	load      loadFunc

	pos  int
	cur  *Batch
	err  error
	done bool
}

func newStream(paths []string, batchSize int, shape []int, load loadFunc) *stream {
	return &stream{
		paths:     paths,
		batchSize: batchSize,
		shape:     shape,
		load:      load,
	}
}

func (s *stream) Next() bool {
	s.cur = nil
	if s.done {
		return false
	}
	if s.pos >= len(s.paths) {
		s.done = true
		return false
	}

	end := s.pos + s.batchSize
	if end > len(s.paths) {
		end = len(s.paths)
	}
	slice := s.paths[s.pos:end]

	rowSize := tensor.Volume(s.shape)
	t := tensor.New(append([]int{len(slice)}, s.shape...)...)
	indexes := make([]int, len(slice))
	for i, path := range slice {
		idx, err := ParseIndex(path)
		if err != nil {
			return s.fail(err)
		}
		indexes[i] = idx
		if err := s.load(path, t.Data[i*rowSize:(i+1)*rowSize]); err != nil {
			return s.fail(fmt.Errorf("load %s: %w", path, err))
		}
	}

	s.pos = end
	s.cur = &Batch{Indexes: indexes, Tensor: t}
	return true
}

func (s *stream) fail(err error) bool {
	s.err = err
	s.done = true
	return false
}

func (s *stream) Batch() *Batch {
	return s.cur
}

func (s *stream) Err() error {
	return s.err
}

func (s *stream) Shape() []int {
	if s.shape == nil {
		return nil
	}
	return append([]int{}, s.shape...)
}

func (s *stream) NumBatches() int {
	return NumBatches(len(s.paths), s.batchSize)
}

func checkBatchSize(batchSize int) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	return nil
}
