package node

import (
	"errors"
	"fmt"
	"sort"
)

// Supported inference engines.
const (
	EngineTinygrad = "tinygrad"
	EngineMLX      = "mlx"
)

// ErrUnsupportedModel is returned when a model name has no known shard for
// the selected engine.
var ErrUnsupportedModel = errors.New("unsupported model")

// baseShards maps model name -> engine -> full-model shard.
var baseShards = map[string]map[string]Shard{
	"llama-3.1-8b": {
		EngineTinygrad: {ModelID: "mlabonne/Meta-Llama-3.1-8B-Instruct-abliterated", EndLayer: 31, NLayers: 32},
		EngineMLX:      {ModelID: "mlx-community/Meta-Llama-3.1-8B-Instruct-4bit", EndLayer: 31, NLayers: 32},
	},
	"llama-3.1-70b": {
		EngineTinygrad: {ModelID: "NousResearch/Meta-Llama-3.1-70B", EndLayer: 79, NLayers: 80},
		EngineMLX:      {ModelID: "mlx-community/Meta-Llama-3.1-70B-Instruct-4bit", EndLayer: 79, NLayers: 80},
	},
	"llama-3-8b": {
		EngineTinygrad: {ModelID: "TriAiExperiments/SFR-Iterative-DPO-LLaMA-3-8B-R", EndLayer: 31, NLayers: 32},
		EngineMLX:      {ModelID: "mlx-community/Meta-Llama-3-8B-Instruct-4bit", EndLayer: 31, NLayers: 32},
	},
	"llama-3-70b": {
		EngineTinygrad: {ModelID: "TriAiExperiments/SFR-Iterative-DPO-LLaMA-3-70B-R", EndLayer: 79, NLayers: 80},
		EngineMLX:      {ModelID: "mlx-community/Meta-Llama-3-70B-Instruct-4bit", EndLayer: 79, NLayers: 80},
	},
	"mistral-nemo": {
		EngineMLX: {ModelID: "mlx-community/Mistral-Nemo-Instruct-2407-4bit", EndLayer: 39, NLayers: 40},
	},
	"mistral-large": {
		EngineMLX: {ModelID: "mlx-community/Mistral-Large-Instruct-2407-4bit", EndLayer: 87, NLayers: 88},
	},
	"deepseek-coder-v2-lite": {
		EngineMLX: {ModelID: "mlx-community/DeepSeek-Coder-V2-Lite-Instruct-4bit-mlx", EndLayer: 26, NLayers: 27},
	},
}

// ResolveShard looks up the full-model shard for a model name on an engine.
func ResolveShard(model, engine string) (Shard, error) {
	engines, ok := baseShards[model]
	if !ok {
		return Shard{}, fmt.Errorf("%w: %s", ErrUnsupportedModel, model)
	}
	shard, ok := engines[engine]
	if !ok {
		return Shard{}, fmt.Errorf("%w: %s has no %s shard", ErrUnsupportedModel, model, engine)
	}
	return shard, nil
}

// SupportedModels lists model names with at least one shard, sorted.
func SupportedModels() []string {
	names := make([]string, 0, len(baseShards))
	for name := range baseShards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnginesFor lists the engines a model has shards for, sorted.
func EnginesFor(model string) []string {
	engines := make([]string, 0, 2)
	for engine := range baseShards[model] {
		engines = append(engines, engine)
	}
	sort.Strings(engines)
	return engines
}

// ShardFor returns the shard for model on engine without error wrapping,
// reporting whether it exists.
func ShardFor(model, engine string) (Shard, bool) {
	shard, err := ResolveShard(model, engine)
	return shard, err == nil
}

// ParseQuant validates a quantization label. "none" and the empty string
// both mean unquantized.
func ParseQuant(s string) (string, error) {
	switch s {
	case "int8", "nf4":
		return s, nil
	case "none", "":
		return "", nil
	default:
		return "", fmt.Errorf("invalid quantization %q (want int8, nf4 or none)", s)
	}
}
