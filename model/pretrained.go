package model

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyconv"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
)

// DefaultPretrained is the network used when no model
// file is given.
const DefaultPretrained = "vgg16"

// DefaultSeed seeds the weights of pretrained topologies
// when no weights file is available.
const DefaultSeed = 1337

var vgg16Blocks = [][]int{
	{64, 64},
	{128, 128},
	{256, 256, 256},
	{512, 512, 512},
	{512, 512, 512},
}

// PretrainedOptions configures Pretrained.
type PretrainedOptions struct {
	// WeightsDir may contain a saved model named after the
	// network, e.g. "vgg16.fxm".
	WeightsDir string

	// Objects is passed to Load for saved weights.
	Objects CustomObjects

	// Seed is used to initialize weights when no weights
	// file exists.
	// If 0, DefaultSeed is used.
	Seed int64
}

// Pretrained creates a well-known network by name.
//
// If the weights directory holds a saved copy of the
// network, it is loaded.
// Otherwise the topology is built for the given input
// shape with deterministically seeded weights.
// If inShape is nil, a 224x224 RGB input is assumed.
func Pretrained(name string, inShape []int, opts PretrainedOptions) (*Model, error) {
	if name != DefaultPretrained {
		return nil, fmt.Errorf("unknown pretrained network %q", name)
	}
	if opts.WeightsDir != "" {
		path := filepath.Join(opts.WeightsDir, name+FileExt)
		if _, err := os.Stat(path); err == nil {
			return Load(path, opts.Objects)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	slog.Warn("no saved weights for pretrained network; using seeded weights",
		"network", name, "weights_dir", opts.WeightsDir)
	seed := opts.Seed
	if seed == 0 {
		seed = DefaultSeed
	}
	if inShape == nil {
		inShape = []int{224, 224, 3}
	}
	return VGG16(inShape, rand.New(rand.NewSource(seed)))
}

// VGG16 builds the convolutional part of VGG16 (without
// the fully-connected classifier) for inputs of shape
// (height, width, depth).
//
// Layer names match the conventional ones, from
// "input_1" and "block1_conv1" through "block5_pool".
// Each convolution layer includes its "same" padding and
// ReLU activation.
func VGG16(inShape []int, gen *rand.Rand) (*Model, error) {
	if len(inShape) != 3 {
		return nil, fmt.Errorf("vgg16: input shape %v is not (height, width, depth)", inShape)
	}
	c := anyvec32.CurrentCreator()
	h, w, d := inShape[0], inShape[1], inShape[2]

	res := &Model{
		InputShape: append([]int{}, inShape...),
		Layers:     []*NamedLayer{{Name: "input_1", Layer: anynet.Net{}}},
	}
	for blockIdx, block := range vgg16Blocks {
		for convIdx, filters := range block {
			padding := &anyconv.Padding{
				InputWidth:    w,
				InputHeight:   h,
				InputDepth:    d,
				PaddingTop:    1,
				PaddingRight:  1,
				PaddingBottom: 1,
				PaddingLeft:   1,
			}
			conv := &anyconv.Conv{
				FilterCount:  filters,
				FilterWidth:  3,
				FilterHeight: 3,
				StrideX:      1,
				StrideY:      1,
				InputWidth:   w + 2,
				InputHeight:  h + 2,
				InputDepth:   d,
			}
			conv.InitZero(c)
			anyvec.Rand(conv.Filters.Vector, anyvec.Normal, gen)
			conv.Filters.Vector.Scale(c.MakeNumeric(1 / math.Sqrt(float64(9*d))))

			res.Layers = append(res.Layers, &NamedLayer{
				Name:  fmt.Sprintf("block%d_conv%d", blockIdx+1, convIdx+1),
				Layer: anynet.Net{padding, conv, anynet.ReLU},
			})
			d = filters
		}
		if w < 2 || h < 2 {
			return nil, fmt.Errorf("vgg16: input shape %v is too small", inShape)
		}
		pool := &anyconv.MaxPool{
			SpanX:       2,
			SpanY:       2,
			InputWidth:  w,
			InputHeight: h,
			InputDepth:  d,
		}
		w, h = pool.OutputWidth(), pool.OutputHeight()
		res.Layers = append(res.Layers, &NamedLayer{
			Name:  fmt.Sprintf("block%d_pool", blockIdx+1),
			Layer: pool,
		})
	}
	return res, nil
}
