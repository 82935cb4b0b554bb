package main

import (
	"flag"
	"fmt"
)

// RunServeCommand implements the serve subcommand: load a checkpoint and
// expose it over HTTP until interrupted. Endpoint details live in serve.go.
func RunServeCommand(args []string) error {
	cfg, err := LoadConfig(configFlagValue(args))
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.String("config", "", "config file (yaml/toml/json), read before other flags")

	checkpoint := fs.String("checkpoint", "", "trained checkpoint to serve (required)")
	addr := fs.String("addr", cfg.Serve.Addr, "listen address")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *checkpoint == "" {
		return fmt.Errorf("serve: -checkpoint is required")
	}

	net, err := LoadNetwork(*checkpoint)
	if err != nil {
		return err
	}

	fmt.Printf("Serving %s on %s\n", *checkpoint, *addr)
	fmt.Println("  GET  /healthz      liveness probe")
	fmt.Println("  GET  /v1/model     model card: classes, input shape, parameter count")
	fmt.Println("  POST /v1/predict   multipart field \"image\" -> prediction JSON")
	return RunServer(net, *addr)
}
