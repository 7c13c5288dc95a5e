package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/pflag"

	"nodebench/internal/benchmark"
	"nodebench/internal/memwatch"
	"nodebench/internal/node"
)

// Default endpoint of a local node's OpenAI-compatible API.
const defaultBaseURL = "http://localhost:52415/v1"

func main() {
	model := pflag.StringP("model", "m", "", `Model name (e.g. "llama-3.1-8b")`)
	prompt := pflag.StringP("prompt", "p", "", "Test prompt")
	quant := pflag.StringP("quant", "q", "none", "Quantization level (int8, nf4, none)")
	engine := pflag.StringP("engine", "e", node.EngineTinygrad, "Inference engine (tinygrad, mlx)")
	baseURL := pflag.StringP("base-url", "u", defaultBaseURL, "Base URL of the node's API")
	apiKey := pflag.StringP("api-key", "k", "", "API key for authentication")
	maxTokens := pflag.IntP("max-tokens", "t", node.DefaultMaxTokens, "Maximum number of tokens to generate")
	timeout := pflag.Duration("timeout", benchmark.DefaultTimeout, "How long to wait for generation to finish")
	sampleInterval := pflag.Duration("sample-interval", memwatch.DefaultInterval, "Memory sampling interval")
	format := pflag.StringP("format", "f", "", "Output format (json or yaml, optional)")
	help := pflag.BoolP("help", "h", false, "Show this help message")
	pflag.Parse()

	if *help {
		fmt.Printf("Usage of %s:\n", os.Args[0])
		pflag.PrintDefaults()
		os.Exit(0)
	}

	if *model == "" || *prompt == "" {
		log.Fatalf("--model and --prompt are required")
	}

	quantLevel, err := node.ParseQuant(*quant)
	if err != nil {
		log.Fatalf("Invalid quantization: %v", err)
	}

	// Resolve the shard before allocating anything else.
	shard, err := node.ResolveShard(*model, *engine)
	if err != nil {
		fmt.Printf("Unsupported model: %s\n", *model)
		return
	}

	quantDisplay := quantLevel
	if quantDisplay == "" {
		quantDisplay = "none"
	}
	fmt.Printf("\n=== Testing %s with quantization %s ===\n", *model, quantDisplay)

	remote := node.NewRemoteNode(*baseURL, *apiKey, *maxTokens)
	remoteEngine := node.NewRemoteEngine(*baseURL, *apiKey)

	runner := benchmark.NewRunner(remoteEngine, remote.Tokenizer(), remote, benchmark.Config{
		Shard:          shard,
		Quantization:   quantLevel,
		Prompt:         *prompt,
		Timeout:        *timeout,
		SampleInterval: *sampleInterval,
	})

	// In table mode, mirror the token stream onto a progress bar.
	var bar *progressbar.ProgressBar
	var stopTap func()
	if *format == "" {
		fmt.Println("Running inference pass...")
		bar = progressbar.NewOptions(*maxTokens,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("Generating"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("tokens"),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetRenderBlankState(true),
		)
		events, cancel := remote.OnToken().Observe(64)
		stopTap = cancel
		go func() {
			for event := range events {
				bar.Set(len(event.Tokens))
			}
		}()
	}

	result, err := runner.Run(context.Background())

	if bar != nil {
		stopTap()
		bar.Finish()
		bar.Clear()
		bar.Close()
	}

	if err != nil {
		log.Fatalf("Benchmark failed: %v", err)
	}

	switch *format {
	case "":
		fmt.Println("\nGenerated text:")
		fmt.Println(result.Text)
		result.WriteSummary(os.Stdout)
	case "json":
		output, err := result.Json()
		if err != nil {
			log.Fatalf("Error formatting benchmark result: %v", err)
		}
		fmt.Println(output)
	case "yaml":
		output, err := result.Yaml()
		if err != nil {
			log.Fatalf("Error formatting benchmark result: %v", err)
		}
		fmt.Println(output)
	default:
		log.Fatalf("Invalid format specified")
	}
}
