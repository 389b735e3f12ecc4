package model

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyconv"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/featex/tensor"
)

// An Extractor runs a model up to and including one named
// layer.
type Extractor struct {
	LayerName  string
	InputShape []int
	Net        anynet.Net
}

// Truncate creates an Extractor whose output is the
// output of the named layer.
// Layers after it are discarded.
//
// Dropout layers are switched to inference mode in the
// Extractor; m itself is not modified.
func (m *Model) Truncate(name string) (*Extractor, error) {
	for i, l := range m.Layers {
		if l.Name != name {
			continue
		}
		net := make(anynet.Net, i+1)
		for j, layer := range m.Layers[:i+1] {
			net[j] = inferenceLayer(layer.Layer)
		}
		return &Extractor{LayerName: name, InputShape: m.InputShape, Net: net}, nil
	}
	return nil, &LayerNotFoundError{Name: name}
}

// CheckInput verifies that examples of the given shape
// fit the model's recorded input shape.
// Models without an input shape accept anything.
func (e *Extractor) CheckInput(shape []int) error {
	if e.InputShape == nil || shape == nil {
		return nil
	}
	if tensor.Volume(shape) != tensor.Volume(e.InputShape) {
		return fmt.Errorf("input shape %v does not fit model input shape %v",
			shape, e.InputShape)
	}
	return nil
}

// OutputShape computes the per-example output shape for
// inputs of the given shape.
func (e *Extractor) OutputShape(in []int) []int {
	return OutputShape(e.Net, in)
}

// Run applies the network to a batch, whose leading
// dimension is the number of examples.
//
// The result has the same number of rows as the input.
func (e *Extractor) Run(in *tensor.Tensor) (out *tensor.Tensor, err error) {
	rows := in.Rows()
	outShape := e.OutputShape(in.RowShape())
	if rows == 0 {
		return tensor.New(append([]int{0}, outShape...)...), nil
	}

	// Layers panic on malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("run layer %s: %v", e.LayerName, r)
		}
	}()

	inVec := anyvec32.MakeVectorData(in.Data)
	outVec := e.Net.Apply(anydiff.NewConst(inVec), rows).Output()

	var data []float32
	switch d := outVec.Data().(type) {
	case []float32:
		data = d
	case []float64:
		data = make([]float32, len(d))
		for i, x := range d {
			data[i] = float32(x)
		}
	default:
		return nil, fmt.Errorf("run layer %s: unsupported numeric list %T",
			e.LayerName, d)
	}

	if len(data)%rows != 0 {
		return nil, fmt.Errorf("run layer %s: %d outputs for %d examples",
			e.LayerName, len(data), rows)
	}
	if tensor.Volume(outShape)*rows != len(data) {
		outShape = []int{len(data) / rows}
	}
	return tensor.FromData(data, append([]int{rows}, outShape...)...)
}

// OutputShape infers the per-example output shape of a
// layer given its per-example input shape.
//
// Spatial layers produce (height, width, depth) shapes.
// Layers whose shape is unknown are assumed to preserve
// the shape of their input.
func OutputShape(layer anynet.Layer, in []int) []int {
	switch l := layer.(type) {
	case anynet.Net:
		for _, sub := range l {
			in = OutputShape(sub, in)
		}
		return in
	case spatialLayer:
		return []int{l.OutputHeight(), l.OutputWidth(), l.OutputDepth()}
	case *anyconv.Padding:
		return []int{
			l.InputHeight + l.PaddingTop + l.PaddingBottom,
			l.InputWidth + l.PaddingLeft + l.PaddingRight,
			l.InputDepth,
		}
	case *anynet.FC:
		return []int{l.OutCount}
	default:
		return in
	}
}

type spatialLayer interface {
	OutputWidth() int
	OutputHeight() int
	OutputDepth() int
}

func inferenceLayer(l anynet.Layer) anynet.Layer {
	switch l := l.(type) {
	case *anynet.Dropout:
		return &anynet.Dropout{Enabled: false, KeepProb: l.KeepProb}
	case anynet.Net:
		res := make(anynet.Net, len(l))
		for i, sub := range l {
			res[i] = inferenceLayer(sub)
		}
		return res
	default:
		return l
	}
}
