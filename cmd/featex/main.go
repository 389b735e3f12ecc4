// Command featex extracts the features of one layer of a
// neural network for a directory of inputs.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/unixpickle/featex"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "featex:", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath string
	inputType  string
	modelPath  string
	flatten    bool
	batchSize  int
	outputDir  string
	filters    []string
	weightsDir string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "featex <input_dir> <layer_name> [flags]",
		Short: "Extract features for a set of inputs from a layer of a neural network",
		Long: `Extract features for a set of images (or previously extracted features)
from a layer of a neural network model.

Each example's features are saved to <output-dir>/<index>.npz under the
key "data". Reload them with np.load(<filename>)["data"].`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, &f, args)
			if err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "YAML file with default settings")
	fl.StringVar(&f.inputType, "input-type", string(featex.Images),
		"input to the model: images, or features (npz files created by this tool)")
	fl.StringVar(&f.modelPath, "model", "",
		"saved model file; if not provided, features are extracted using VGG16")
	fl.BoolVar(&f.flatten, "flatten", false,
		"flatten the extracted features, e.g. to train a regression on them")
	fl.IntVar(&f.batchSize, "batch-size", featex.DefaultBatchSize,
		"number of inputs to extract features for at a time")
	fl.StringVar(&f.outputDir, "output-dir", featex.DefaultOutputDir,
		"directory to write features to")
	fl.StringSliceVar(&f.filters, "filter-indexes", nil,
		"files containing indexes of the examples to extract features for, one per line "+
			"(comma-separated or repeated)")
	fl.StringVar(&f.weightsDir, "weights-dir", "",
		"directory holding saved weights for the default model")
	fl.StringVar(&f.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")
	return cmd
}

// buildConfig layers the flags which were set on top of
// the config file (or the defaults).
func buildConfig(cmd *cobra.Command, f *flags, args []string) (*featex.Config, error) {
	cfg := featex.DefaultConfig()
	if f.configPath != "" {
		var err error
		cfg, err = featex.LoadConfigFile(f.configPath)
		if err != nil {
			return nil, err
		}
	}
	cfg.InputDir = args[0]
	cfg.LayerName = args[1]

	changed := cmd.Flags().Changed
	if changed("input-type") {
		cfg.InputType = featex.InputType(f.inputType)
	}
	if changed("model") {
		cfg.ModelPath = f.modelPath
	}
	if changed("flatten") {
		cfg.Flatten = f.flatten
	}
	if changed("batch-size") {
		cfg.BatchSize = f.batchSize
	}
	if changed("output-dir") {
		cfg.OutputDir = f.outputDir
	}
	if changed("weights-dir") {
		cfg.WeightsDir = f.weightsDir
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}

	if changed("filter-indexes") {
		cfg.FilterFiles = append([]string{}, f.filters...)
	}

	// "--filter-indexes a.txt b.txt" leaves b.txt among the
	// positional arguments, where it could be mistaken for
	// the input directory.
	if len(args) > 2 {
		return nil, fmt.Errorf("unexpected arguments %v; pass several filter files as "+
			"--filter-indexes a.txt,b.txt or repeat the flag", args[2:])
	}
	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, cfg *featex.Config) error {
	featex.ConfigureLogging(cmd.ErrOrStderr(), cfg.LogLevel)

	progress := &barProgress{cmd: cmd}
	if _, err := featex.Extract(context.Background(), cfg, featex.WithProgress(progress)); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "All features have been computed and saved.")
	fmt.Fprintln(out, "Reload features for each example with: `np.load(<filename>)['data']`")
	return nil
}

// barProgress shows a progress bar of completed batches.
type barProgress struct {
	cmd *cobra.Command
	bar *progressbar.ProgressBar
}

func (b *barProgress) Start(total int) {
	b.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(b.cmd.ErrOrStderr()),
		progressbar.OptionSetDescription("batches"),
		progressbar.OptionShowCount(),
	)
}

func (b *barProgress) Batch(done int, indexes []int) {
	b.bar.Add(1)
}

func (b *barProgress) Finish() {
	b.bar.Finish()
	fmt.Fprintln(b.cmd.ErrOrStderr())
}
