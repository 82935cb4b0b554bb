package main

import (
	"fmt"
	"os"
	"strings"
)

func main() {
	args := os.Args[1:]

	// A leading -v applies to every subcommand, so it is handled here
	// before dispatch.
	verbose := false
	if len(args) > 0 && (args[0] == "-v" || args[0] == "--verbose") {
		verbose = true
		args = args[1:]
	}
	if err := SetupLogging(verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer SyncLogging()

	if len(args) == 0 {
		printUsage()
		return
	}

	var err error
	switch cmd, rest := args[0], args[1:]; cmd {
	case "train":
		err = RunTrainCommand(rest)
	case "evaluate":
		err = RunEvaluateCommand(rest)
	case "predict":
		err = RunPredictCommand(rest)
	case "serve":
		err = RunServeCommand(rest)
	case "ingest":
		err = RunIngestCommand(rest)
	case "features":
		err = RunFeaturesCommand(rest)
	case "benchmark":
		err = RunBenchmarkCommand(rest)
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		SyncLogging() // os.Exit skips the defer
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  go run . [-v] <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  train       Train a model on MNIST, CIFAR-10, or an ingested dataset")
	fmt.Println("  evaluate    Report loss and error of a checkpoint on a dataset split")
	fmt.Println("  predict     Classify a single image (file or URL) with a checkpoint")
	fmt.Println("  serve       Expose a checkpoint as an HTTP prediction service")
	fmt.Println("  ingest      Materialize a dataset as PNG files plus manifests")
	fmt.Println("  features    Project a checkpoint's learned features to 2D and plot them")
	fmt.Println("  benchmark   Measure matmul and model throughput on this machine")
	fmt.Println("  help        Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  go run . train -dataset mnist")
	fmt.Println("  go run . train -dataset cifar10 -model resnet -epochs 80 -schedule-breaks 40,60")
	fmt.Println("  go run . evaluate -checkpoint runs/mnist-mlp/checkpoint.bin -dataset mnist")
	fmt.Println("  go run . predict -checkpoint runs/mnist-mlp/checkpoint.bin -image digit.png")
	fmt.Println("  go run . serve -checkpoint runs/cifar10-convnet/checkpoint.bin -addr :8080")
	fmt.Println("  go run . benchmark -quick")
	fmt.Println()
	fmt.Println("A leading -v turns on debug logging for any command.")
}

// configFlagValue pre-scans args for -config so LoadConfig can run before
// the subcommand's FlagSet is built: the loaded values become the defaults
// of the remaining flags, keeping flag > file > env > built-in precedence.
func configFlagValue(args []string) string {
	for i, a := range args {
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
			return ""
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config=")
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}
