package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	// Import for side effects: register provider adapters via init().
	_ "github.com/elenchus-labs/tutorbench/internal/adapters/anthropic"
	_ "github.com/elenchus-labs/tutorbench/internal/adapters/bedrock"
	_ "github.com/elenchus-labs/tutorbench/internal/adapters/openai"
	_ "github.com/elenchus-labs/tutorbench/internal/adapters/replicate"
)

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("tutorbench"),
		kong.Description("Periodic benchmarking pipeline for LLM Socratic tutoring dialogues."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
		kong.Exit(func(code int) {
			if code != 0 {
				os.Exit(2)
			}
			os.Exit(0)
		}),
	)

	err := kctx.Run(&CLI.Globals)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}
