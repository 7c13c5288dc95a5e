package benchmark

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.yaml.in/yaml/v4"
)

// Result is the terminal output of one benchmark run. Immutable once
// constructed.
type Result struct {
	ModelID                   string  `json:"model" yaml:"model"`
	Quantization              string  `json:"quantization" yaml:"quantization"`
	LatencySeconds            float64 `json:"latency" yaml:"latency"`
	TokenCount                int     `json:"tokens" yaml:"tokens"`
	TokensPerSecond           float64 `json:"tokens_per_second" yaml:"tokens-per-second"`
	InitialMemoryMB           float64 `json:"initial_memory_mb" yaml:"initial-memory-mb"`
	LoadMemoryIncreaseMB      float64 `json:"load_memory_increase_mb" yaml:"load-memory-increase-mb"`
	InferenceMemoryIncreaseMB float64 `json:"inference_memory_increase_mb" yaml:"inference-memory-increase-mb"`
	PeakMemoryMB              float64 `json:"peak_memory_mb" yaml:"peak-memory-mb"`
	Text                      string  `json:"text,omitempty" yaml:"text,omitempty"`
}

func (r *Result) Json() (string, error) {
	prettyJSON, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return "", fmt.Errorf("error marshalling JSON: %w", err)
	}

	return string(prettyJSON), nil
}

func (r *Result) Yaml() (string, error) {
	yamlData, err := yaml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("error marshalling yaml: %v", err)
	}

	return string(yamlData), nil
}

// SummaryHeader returns the column header of the results table.
func SummaryHeader() string {
	return fmt.Sprintf("%-20s %-8s %-12s %-8s %-12s %-12s %-10s %-12s",
		"Model", "Quant", "Latency", "Tokens", "Tokens/sec", "Initial MB", "Peak MB", "Increase MB")
}

// SummaryRow renders the result as one fixed-width table row.
func (r *Result) SummaryRow() string {
	return fmt.Sprintf("%-20s %-8s %-12s %-8d %-12.2f %-12.1f %-10.1f %-12.1f",
		r.ModelID,
		r.Quantization,
		fmt.Sprintf("%.2fs", r.LatencySeconds),
		r.TokenCount,
		r.TokensPerSecond,
		r.InitialMemoryMB,
		r.PeakMemoryMB,
		r.PeakMemoryMB-r.InitialMemoryMB,
	)
}

// WriteSummary writes the full results table for a single run.
func (r *Result) WriteSummary(w io.Writer) {
	fmt.Fprintln(w, "\n=== Results ===")
	fmt.Fprintln(w, SummaryHeader())
	fmt.Fprintln(w, strings.Repeat("-", 95))
	fmt.Fprintln(w, r.SummaryRow())
}
