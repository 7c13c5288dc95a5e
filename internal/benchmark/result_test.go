package benchmark

import (
	"strings"
	"testing"
)

func sampleResult() *Result {
	return &Result{
		ModelID:                   "llama-3.1-8b",
		Quantization:              "nf4",
		LatencySeconds:            3.21,
		TokenCount:                128,
		TokensPerSecond:           39.88,
		InitialMemoryMB:           412.5,
		LoadMemoryIncreaseMB:      2048.0,
		InferenceMemoryIncreaseMB: 96.4,
		PeakMemoryMB:              2556.9,
	}
}

func TestSummaryHeaderColumns(t *testing.T) {
	header := SummaryHeader()
	for _, column := range []string{"Model", "Quant", "Latency", "Tokens", "Tokens/sec", "Initial MB", "Peak MB", "Increase MB"} {
		if !strings.Contains(header, column) {
			t.Errorf("header missing column %q: %s", column, header)
		}
	}
}

func TestSummaryRowAlignsWithHeader(t *testing.T) {
	row := sampleResult().SummaryRow()

	if !strings.HasPrefix(row, "llama-3.1-8b") {
		t.Fatalf("row does not start with model id: %q", row)
	}
	for _, field := range []string{"nf4", "3.21s", "128", "39.88", "412.5", "2556.9"} {
		if !strings.Contains(row, field) {
			t.Errorf("row missing %q: %s", field, row)
		}
	}

	// Model and quant columns are fixed-width, so the quant label starts at
	// the same offset regardless of model name length.
	if row[:21] != "llama-3.1-8b         " {
		t.Errorf("model column not padded to width 20: %q", row[:21])
	}
}

func TestJsonIncludesAllFields(t *testing.T) {
	out, err := sampleResult().Json()
	if err != nil {
		t.Fatalf("json failed: %v", err)
	}
	for _, key := range []string{"model", "quantization", "latency", "tokens", "tokens_per_second", "initial_memory_mb", "load_memory_increase_mb", "inference_memory_increase_mb", "peak_memory_mb"} {
		if !strings.Contains(out, `"`+key+`"`) {
			t.Errorf("json missing key %q:\n%s", key, out)
		}
	}
}

func TestYamlIncludesAllFields(t *testing.T) {
	out, err := sampleResult().Yaml()
	if err != nil {
		t.Fatalf("yaml failed: %v", err)
	}
	for _, key := range []string{"model:", "quantization:", "tokens-per-second:", "peak-memory-mb:"} {
		if !strings.Contains(out, key) {
			t.Errorf("yaml missing key %q:\n%s", key, out)
		}
	}
}
