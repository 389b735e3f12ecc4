// Package model loads neural networks with named layers
// and truncates them to expose the output of one layer.
//
// Models are built from anynet layers.
// A saved model stores its layers, their names, its input
// shape, and the names of any custom metrics it was
// trained with.
// Metrics are resolved against caller-supplied
// CustomObjects when a model is loaded, so loading never
// depends on global registration.
package model

import (
	"errors"
	"fmt"
	"os"

	"github.com/unixpickle/anynet"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"

	_ "github.com/unixpickle/anynet/anyconv"
	_ "github.com/unixpickle/anynet/anymisc"
)

// FileExt is the conventional extension for saved models.
const FileExt = ".fxm"

// ErrLayerNotFound is wrapped by errors for layer names
// that do not exist in a model.
var ErrLayerNotFound = errors.New("layer not found")

// A LayerNotFoundError reports a missing layer.
type LayerNotFoundError struct {
	Name string
}

func (l *LayerNotFoundError) Error() string {
	return fmt.Sprintf("no layer named %q", l.Name)
}

func (l *LayerNotFoundError) Unwrap() error {
	return ErrLayerNotFound
}

// An UnknownObjectError reports a custom object referenced
// by a saved model that the caller did not provide.
type UnknownObjectError struct {
	Name string
}

func (u *UnknownObjectError) Error() string {
	return fmt.Sprintf("unknown custom object %q", u.Name)
}

// A NamedLayer is a layer with a unique name.
type NamedLayer struct {
	Name  string
	Layer anynet.Layer
}

// A Model is a feed-forward network of named layers.
// Each layer's output is fed into the next layer.
type Model struct {
	// InputShape is the per-example input shape, or nil if
	// the model does not record one.
	InputShape []int

	Layers []*NamedLayer

	// Metrics lists the custom metrics the model refers to.
	Metrics []string

	metricFuncs map[string]Metric
}

// Load reads a model file.
//
// Every custom metric named by the model must be present
// in objs.
func Load(path string, objs CustomObjects) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, essentials.AddCtx("load model", err)
	}
	m, err := DeserializeModel(data, objs)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	return m, nil
}

// DeserializeModel decodes a model created with
// Model.Serialize.
func DeserializeModel(d []byte, objs CustomObjects) (*Model, error) {
	var namesData, shapeData, metricsData serializer.Bytes
	var net anynet.Net
	err := serializer.DeserializeAny(d, &namesData, &net, &shapeData, &metricsData)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Model", err)
	}
	names, err := deserializeStrings(namesData)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Model names", err)
	}
	if len(names) != len(net) {
		return nil, fmt.Errorf("deserialize Model: %d names for %d layers",
			len(names), len(net))
	}
	shape, err := deserializeInts(shapeData)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Model shape", err)
	}
	metrics, err := deserializeStrings(metricsData)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Model metrics", err)
	}

	res := &Model{Metrics: metrics, metricFuncs: map[string]Metric{}}
	if len(shape) > 0 {
		res.InputShape = shape
	}
	for _, name := range metrics {
		f, ok := objs[name]
		if !ok {
			return nil, &UnknownObjectError{Name: name}
		}
		res.metricFuncs[name] = f
	}
	for i, layer := range net {
		res.Layers = append(res.Layers, &NamedLayer{Name: names[i], Layer: layer})
	}
	if err := res.checkNames(); err != nil {
		return nil, essentials.AddCtx("deserialize Model", err)
	}
	return res, nil
}

// Save writes the model to a file.
func (m *Model) Save(path string) error {
	data, err := m.Serialize()
	if err != nil {
		return err
	}
	return essentials.AddCtx("save model", os.WriteFile(path, data, 0644))
}

// Serialize encodes the model.
// Every layer must be a serializer.Serializer.
func (m *Model) Serialize() ([]byte, error) {
	if err := m.checkNames(); err != nil {
		return nil, essentials.AddCtx("serialize Model", err)
	}
	var names []string
	for _, l := range m.Layers {
		names = append(names, l.Name)
	}
	namesData, err := serializeStrings(names)
	if err != nil {
		return nil, err
	}
	shapeData, err := serializeInts(m.InputShape)
	if err != nil {
		return nil, err
	}
	metricsData, err := serializeStrings(m.Metrics)
	if err != nil {
		return nil, err
	}
	data, err := serializer.SerializeAny(serializer.Bytes(namesData), m.Net(),
		serializer.Bytes(shapeData), serializer.Bytes(metricsData))
	if err != nil {
		return nil, essentials.AddCtx("serialize Model", err)
	}
	return data, nil
}

// Net returns the layers as a single network.
func (m *Model) Net() anynet.Net {
	res := make(anynet.Net, len(m.Layers))
	for i, l := range m.Layers {
		res[i] = l.Layer
	}
	return res
}

// Layer looks up a layer by name.
func (m *Model) Layer(name string) (*NamedLayer, error) {
	for _, l := range m.Layers {
		if l.Name == name {
			return l, nil
		}
	}
	return nil, &LayerNotFoundError{Name: name}
}

// LayerNames returns the names of the layers in order.
func (m *Model) LayerNames() []string {
	res := make([]string, len(m.Layers))
	for i, l := range m.Layers {
		res[i] = l.Name
	}
	return res
}

// Metric returns the resolved implementation of a custom
// metric, or nil if the model does not refer to it.
func (m *Model) Metric(name string) Metric {
	return m.metricFuncs[name]
}

func (m *Model) checkNames() error {
	seen := map[string]bool{}
	for _, l := range m.Layers {
		if l.Name == "" {
			return errors.New("layer with empty name")
		} else if seen[l.Name] {
			return fmt.Errorf("duplicate layer name %q", l.Name)
		}
		seen[l.Name] = true
	}
	return nil
}

func serializeStrings(strs []string) ([]byte, error) {
	slice := make([]serializer.Serializer, len(strs))
	for i, s := range strs {
		slice[i] = serializer.String(s)
	}
	return serializer.SerializeSlice(slice)
}

func deserializeStrings(d []byte) ([]string, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(slice))
	for i, x := range slice {
		if s, ok := x.(serializer.String); ok {
			res[i] = string(s)
		} else {
			return nil, fmt.Errorf("not a String: %T", x)
		}
	}
	return res, nil
}

func serializeInts(ints []int) ([]byte, error) {
	slice := make([]serializer.Serializer, len(ints))
	for i, x := range ints {
		slice[i] = serializer.Int(x)
	}
	return serializer.SerializeSlice(slice)
}

func deserializeInts(d []byte) ([]int, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, err
	}
	res := make([]int, len(slice))
	for i, x := range slice {
		if n, ok := x.(serializer.Int); ok {
			res[i] = int(n)
		} else {
			return nil, fmt.Errorf("not an Int: %T", x)
		}
	}
	return res, nil
}
