package model

import "github.com/unixpickle/anyvec"

// A Metric evaluates a model's output against a target.
// Metrics are only meaningful while training, but saved
// models still refer to them by name.
type Metric func(actual, expected anyvec.Vector) anyvec.Numeric

// CustomObjects maps the names of custom objects
// referenced by saved models to their implementations.
type CustomObjects map[string]Metric

// DefaultPlaceholders names the per-class metrics attached
// to the classifiers this tool usually extracts from.
var DefaultPlaceholders = []string{
	"recall (C0)", "% examples (C0)",
	"recall (C1)", "% examples (C1)",
	"recall (C2)", "% examples (C2)",
}

// NoOpMetric is a Metric which always returns zero.
func NoOpMetric(actual, expected anyvec.Vector) anyvec.Numeric {
	return actual.Creator().MakeNumeric(0)
}

// PlaceholderMetrics maps every name to NoOpMetric.
func PlaceholderMetrics(names ...string) CustomObjects {
	res := CustomObjects{}
	for _, name := range names {
		res[name] = NoOpMetric
	}
	return res
}
