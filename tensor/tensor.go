// Package tensor provides a minimal dense tensor type
// used to move batches and features between the stages
// of an extraction run.
package tensor

import "fmt"

// A Tensor is a dense, row-major tensor of float32
// values.
//
// The first dimension is usually the batch dimension.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New creates a zero tensor with the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{
		Shape: append([]int{}, shape...),
		Data:  make([]float32, Volume(shape)),
	}
}

// FromData wraps data in a tensor.
// It fails if the length of data does not match the
// volume of the shape.
func FromData(data []float32, shape ...int) (*Tensor, error) {
	if len(data) != Volume(shape) {
		return nil, fmt.Errorf("tensor: %d values do not fit shape %v", len(data), shape)
	}
	return &Tensor{Shape: append([]int{}, shape...), Data: data}, nil
}

// Volume computes the number of elements in a tensor of
// the given shape.
// The volume of an empty shape is 1 (a scalar).
func Volume(shape []int) int {
	res := 1
	for _, x := range shape {
		res *= x
	}
	return res
}

// Rows returns the size of the leading dimension.
func (t *Tensor) Rows() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// RowShape returns the shape of a single row, i.e. the
// shape without the leading dimension.
func (t *Tensor) RowShape() []int {
	if len(t.Shape) == 0 {
		return nil
	}
	return append([]int{}, t.Shape[1:]...)
}

// Row returns a view of the i-th row.
// The result shares memory with t.
func (t *Tensor) Row(i int) *Tensor {
	if i < 0 || i >= t.Rows() {
		panic(fmt.Sprintf("row %d out of range [0, %d)", i, t.Rows()))
	}
	shape := t.RowShape()
	size := Volume(shape)
	return &Tensor{
		Shape: shape,
		Data:  t.Data[i*size : (i+1)*size],
	}
}

// SetRow copies data into the i-th row.
func (t *Tensor) SetRow(i int, data []float32) error {
	size := Volume(t.RowShape())
	if len(data) != size {
		return fmt.Errorf("tensor: row has %d values but got %d", size, len(data))
	}
	copy(t.Data[i*size:(i+1)*size], data)
	return nil
}

// Flatten collapses every dimension except the leading
// one, producing a (rows, n) tensor that shares memory
// with t.
//
// Flattening a tensor which is already two-dimensional
// returns an equivalent tensor.
func (t *Tensor) Flatten() *Tensor {
	rows := t.Rows()
	cols := 0
	if rows > 0 {
		cols = len(t.Data) / rows
	} else {
		cols = Volume(t.RowShape())
	}
	return &Tensor{Shape: []int{rows, cols}, Data: t.Data}
}
