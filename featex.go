// Package featex extracts the activations of one layer of
// a neural network for every example in a directory, and
// stores them as one compressed archive per example.
//
// The archive for example i is named "i.npz" and holds
// one array under the key "data", so the features can be
// reloaded one example at a time when training a
// downstream model.
package featex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/unixpickle/featex/batch"
	"github.com/unixpickle/featex/model"
	"github.com/unixpickle/featex/sink"
)

// A State is a phase of an extraction run.
type State int

const (
	ResolvingInputs State = iota
	Extracting
	Done
)

func (s State) String() string {
	switch s {
	case ResolvingInputs:
		return "resolving inputs"
	case Extracting:
		return "extracting"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Progress observes an extraction run.
type Progress interface {
	// Start is called once the number of batches is known.
	Start(totalBatches int)

	// Batch is called after each batch has been written.
	Batch(done int, indexes []int)

	// Finish is called after the last batch.
	Finish()
}

type nopProgress struct{}

func (nopProgress) Start(int)        {}
func (nopProgress) Batch(int, []int) {}
func (nopProgress) Finish()          {}

// A ModelLoader produces the model for a run.
// inShape is the per-example input shape, or nil if there
// are no inputs.
type ModelLoader func(cfg *Config, inShape []int) (*model.Model, error)

// LoadModel is the default ModelLoader.
// It loads cfg.ModelPath with placeholders for the
// configured custom metrics, or builds cfg.DefaultModel.
func LoadModel(cfg *Config, inShape []int) (*model.Model, error) {
	objs := model.PlaceholderMetrics(cfg.CustomMetrics...)
	if cfg.ModelPath != "" {
		slog.Info("loading model", "path", cfg.ModelPath)
		return model.Load(cfg.ModelPath, objs)
	}
	slog.Info("loading pretrained model", "name", cfg.DefaultModel)
	return model.Pretrained(cfg.DefaultModel, inShape, model.PretrainedOptions{
		WeightsDir: cfg.WeightsDir,
		Objects:    objs,
	})
}

// An Option customizes Extract.
type Option func(o *options)

type options struct {
	progress Progress
	logger   *slog.Logger
	sink     sink.Sink
	loader   ModelLoader
}

// WithProgress reports progress to p.
func WithProgress(p Progress) Option {
	return func(o *options) {
		o.progress = p
	}
}

// WithLogger logs to l instead of slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithSink stores features in s instead of a sink.Dir for
// the configured output directory.
func WithSink(s sink.Sink) Option {
	return func(o *options) {
		o.sink = s
	}
}

// WithModelLoader replaces LoadModel.
func WithModelLoader(l ModelLoader) Option {
	return func(o *options) {
		o.loader = l
	}
}

// Result summarizes a successful run.
type Result struct {
	Examples int
	Batches  int
}

// Extract runs feature extraction.
//
// Any error aborts the run; records written before the
// error remain in the output directory.
// Configuration problems, such as an unknown layer, are
// reported as *ConfigError before any batch is processed.
//
// The context is checked between batches.
func Extract(ctx context.Context, cfg *Config, opts ...Option) (*Result, error) {
	o := options{
		progress: nopProgress{},
		logger:   slog.Default(),
		loader:   LoadModel,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := o.logger.With("run", uuid.NewString())

	logger.Debug("state", "state", ResolvingInputs)
	filter, err := ReadFilterFiles(cfg.FilterFiles...)
	if err != nil {
		return nil, err
	}
	paths, err := ResolveInputs(cfg.InputDir, filter)
	if err != nil {
		return nil, err
	}
	totalBatches := ExpectedBatches(len(paths), cfg.BatchSize)
	logger.Info("resolved inputs", "dir", cfg.InputDir, "examples", len(paths),
		"filtered", filter != nil, "batches", totalBatches)

	src, err := newSource(cfg.InputType, paths, cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	m, err := o.loader(cfg, src.Shape())
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	extractor, err := m.Truncate(cfg.LayerName)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("%w (layers: %v)", err, m.LayerNames())}
	}
	if err := extractor.CheckInput(src.Shape()); err != nil {
		return nil, &ConfigError{Err: err}
	}
	logger.Info("model ready", "layer", cfg.LayerName,
		"input_shape", src.Shape(), "output_shape", outputShape(extractor, src.Shape(), cfg.Flatten))

	unlock, err := lockOutputDir(cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	defer unlock()
	out := o.sink
	if out == nil {
		out, err = sink.NewDir(cfg.OutputDir)
		if err != nil {
			return nil, err
		}
	}

	logger.Debug("state", "state", Extracting)
	o.progress.Start(totalBatches)
	res := &Result{}
	for src.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b := src.Batch()
		features, err := extractor.Run(b.Tensor)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", res.Batches, err)
		}
		if cfg.Flatten {
			features = features.Flatten()
		}
		for i, idx := range b.Indexes {
			if err := out.Write(idx, features.Row(i)); err != nil {
				return nil, fmt.Errorf("example %d: %w", idx, err)
			}
		}
		res.Batches++
		res.Examples += len(b.Indexes)
		logger.Debug("wrote batch", "batch", res.Batches, "of", totalBatches,
			"indexes", b.Indexes)
		o.progress.Batch(res.Batches, b.Indexes)
	}
	if err := src.Err(); err != nil {
		return nil, err
	}

	// Drop the network so its weights can be collected.
	extractor, m = nil, nil
	o.progress.Finish()
	logger.Debug("state", "state", Done)
	logger.Info("extraction complete", "examples", res.Examples, "batches", res.Batches,
		"output_dir", cfg.OutputDir)
	return res, nil
}

func newSource(t InputType, paths []string, batchSize int) (batch.Source, error) {
	switch t {
	case Images:
		return batch.NewImageSource(paths, batchSize)
	case Features:
		return batch.NewFeatureSource(paths, batchSize)
	default:
		return nil, configErrorf("unknown input type %q", t)
	}
}

func outputShape(e *model.Extractor, inShape []int, flatten bool) []int {
	if inShape == nil {
		return nil
	}
	shape := e.OutputShape(inShape)
	if flatten {
		n := 1
		for _, x := range shape {
			n *= x
		}
		return []int{n}
	}
	return shape
}
