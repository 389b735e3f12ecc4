package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/unixpickle/anynet"
	"github.com/unixpickle/featex"
	"github.com/unixpickle/featex/model"
	"github.com/unixpickle/featex/npz"
	"github.com/unixpickle/featex/tensor"
)

func TestRunFeatures(t *testing.T) {
	inDir, outDir := t.TempDir(), filepath.Join(t.TempDir(), "features")
	for i, name := range []string{"0.npz", "1.npz", "2.npz"} {
		data := tensor.New(1, 4)
		data.Data[0] = float32(i)
		if err := npz.WriteFile(filepath.Join(inDir, name), "data", data); err != nil {
			t.Fatal(err)
		}
	}
	filterA := filepath.Join(t.TempDir(), "a.txt")
	filterB := filepath.Join(t.TempDir(), "b.txt")
	os.WriteFile(filterA, []byte("0\n"), 0644)
	os.WriteFile(filterB, []byte("2\n"), 0644)

	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{
		inDir, "identity",
		"--input-type", "features",
		"--model", identityModel(t),
		"--batch-size", "2",
		"--flatten",
		"--output-dir", outDir,
		"--filter-indexes", filterA + "," + filterB,
	})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout.String(), "All features have been computed and saved.") {
		t.Errorf("missing completion message: %q", stdout.String())
	}

	for _, idx := range []string{"0", "2"} {
		features, err := npz.ReadFile(filepath.Join(outDir, idx+".npz"), "data")
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(features.Shape, []int{4}) {
			t.Errorf("example %s: bad shape %v", idx, features.Shape)
		}
	}
	if _, err := os.Stat(filepath.Join(outDir, "1.npz")); !os.IsNotExist(err) {
		t.Error("filtered example was extracted")
	}
}

func TestRunBadLayer(t *testing.T) {
	inDir := t.TempDir()
	npz.WriteFile(filepath.Join(inDir, "0.npz"), "data", tensor.New(4))

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{inDir, "missing", "--input-type", "features",
		"--model", identityModel(t), "--output-dir", t.TempDir()})
	if err := cmd.Execute(); err == nil {
		t.Error("expected error")
	}
}

func TestRunFilterOrdering(t *testing.T) {
	inDir := t.TempDir()
	npz.WriteFile(filepath.Join(inDir, "0.npz"), "data", tensor.New(4))
	filterA := filepath.Join(t.TempDir(), "a.txt")
	filterB := filepath.Join(t.TempDir(), "b.txt")
	os.WriteFile(filterA, []byte("0\n"), 0644)
	os.WriteFile(filterB, []byte("0\n"), 0644)
	outDir := filepath.Join(t.TempDir(), "out")

	for _, args := range [][]string{
		{"--filter-indexes", filterA, filterB, inDir, "identity"},
		{inDir, "identity", "--filter-indexes", filterA, filterB},
	} {
		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append(args, "--input-type", "features",
			"--model", identityModel(t), "--output-dir", outDir))
		err := cmd.Execute()
		if err == nil || !strings.Contains(err.Error(), "unexpected arguments") {
			t.Errorf("args %v: expected unexpected arguments error but got %v", args, err)
		}
	}
	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Error("output directory was created")
	}

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--filter-indexes", filterA, "--filter-indexes", filterB,
		inDir, "identity", "--input-type", "features",
		"--model", identityModel(t), "--output-dir", outDir})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "0.npz")); err != nil {
		t.Error(err)
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "featex.yaml")
	config := "input_type: features\nbatch_size: 7\nflatten: true\noutput_dir: out\n"
	if err := os.WriteFile(path, []byte(config), 0644); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{"--config", path, "--batch-size", "3"}); err != nil {
		t.Fatal(err)
	}
	f := flags{configPath: path, batchSize: 3}
	cfg, err := buildConfig(cmd, &f, []string{"in", "block5_pool"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.InputType != featex.Features || !cfg.Flatten || cfg.OutputDir != "out" {
		t.Errorf("config file was not applied: %+v", cfg)
	}
	if cfg.BatchSize != 3 {
		t.Errorf("flag should override config file, got batch size %d", cfg.BatchSize)
	}
	if cfg.DefaultModel != model.DefaultPretrained {
		t.Errorf("default model was lost: %q", cfg.DefaultModel)
	}

	if _, err := buildConfig(cmd, &f, []string{"in", "layer", "extra"}); err == nil {
		t.Error("expected error for extra arguments")
	}
}

func identityModel(t *testing.T) string {
	m := &model.Model{Layers: []*model.NamedLayer{
		{Name: "identity", Layer: anynet.Net{}},
	}}
	path := filepath.Join(t.TempDir(), "identity"+model.FileExt)
	if err := m.Save(path); err != nil {
		t.Fatal(err)
	}
	return path
}
