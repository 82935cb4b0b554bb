package main

import (
	"flag"
	"fmt"
)

// RunBenchmarkCommand implements the benchmark subcommand. See benchmark.go
// for what gets measured; this just parses flags and dispatches.
func RunBenchmarkCommand(args []string) error {
	fs := flag.NewFlagSet("benchmark", flag.ExitOnError)

	sizesFlag := fs.String("sizes", "128,256,512", "comma-separated square matmul sizes")
	iterations := fs.Int("iterations", 3, "timed iterations per matmul measurement")
	modelSteps := fs.Int("model-steps", 5, "timed steps per model benchmark, 0 skips the model half")
	quick := fs.Bool("quick", false, "small sizes, few iterations: a fast sanity check")
	out := fs.String("out", "", "write the suite as JSON to this file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	sizes, err := parseIntList(*sizesFlag)
	if err != nil {
		return fmt.Errorf("benchmark: bad -sizes: %w", err)
	}
	if *quick {
		sizes = []int{64, 128}
		*iterations = 1
		*modelSteps = 2
	}

	suite, err := RunBenchmarkSuite(sizes, *iterations, *modelSteps)
	if err != nil {
		return err
	}
	suite.PrintSummary()

	if *out != "" {
		if err := suite.SaveJSON(*out); err != nil {
			return err
		}
		fmt.Printf("Saved %s\n", *out)
	}
	return nil
}
