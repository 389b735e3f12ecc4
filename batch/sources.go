package batch

import (
	"fmt"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/featex/npz"
)

// An ImageSource produces batches of RGB image tensors
// with shape (rows, height, width, 3).
type ImageSource struct {
	*stream
}

// NewImageSource creates an ImageSource.
//
// The first image is decoded immediately to determine the
// image dimensions for the whole run.
func NewImageSource(paths []string, batchSize int) (*ImageSource, error) {
	if err := checkBatchSize(batchSize); err != nil {
		return nil, err
	}
	var shape []int
	if len(paths) > 0 {
		img, err := LoadImage(paths[0])
		if err != nil {
			return nil, essentials.AddCtx("determine image shape", err)
		}
		shape = ImageShape(img)
	}
	return &ImageSource{stream: newStream(paths, batchSize, shape, loadImageRow)}, nil
}

func loadImageRow(path string, dst []float32) error {
	img, err := LoadImage(path)
	if err != nil {
		return err
	}
	if size := img.Bounds().Dx() * img.Bounds().Dy() * 3; size != len(dst) {
		return fmt.Errorf("%w: %v", ErrShapeMismatch, ImageShape(img))
	}
	ImageToRow(img, dst)
	return nil
}

// A FeatureSource produces batches from .npz archives
// written by a previous extraction run.
// Each archive's array is read from npz.DefaultKey.
type FeatureSource struct {
	*stream
}

// NewFeatureSource creates a FeatureSource.
//
// The first archive is read immediately to determine the
// feature shape for the whole run.
func NewFeatureSource(paths []string, batchSize int) (*FeatureSource, error) {
	if err := checkBatchSize(batchSize); err != nil {
		return nil, err
	}
	var shape []int
	if len(paths) > 0 {
		first, err := npz.ReadFile(paths[0], npz.DefaultKey)
		if err != nil {
			return nil, essentials.AddCtx("determine feature shape", err)
		}
		shape = first.Shape
	}
	return &FeatureSource{stream: newStream(paths, batchSize, shape, loadFeatureRow)}, nil
}

func loadFeatureRow(path string, dst []float32) error {
	t, err := npz.ReadFile(path, npz.DefaultKey)
	if err != nil {
		return err
	}
	if len(t.Data) != len(dst) {
		return fmt.Errorf("%w: %v", ErrShapeMismatch, t.Shape)
	}
	copy(dst, t.Data)
	return nil
}
