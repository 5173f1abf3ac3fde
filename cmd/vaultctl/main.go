package main

import (
	"context"
	stdlog "log"

	"github.com/autopost-hq/tokenvault/cmd/vaultctl/cmd"
	"github.com/autopost-hq/tokenvault/tracing"
)

func main() {
	tp, err := tracing.InitTracerProvider("tokenvault-vaultctl")
	if err != nil {
		stdlog.Fatalf("Failed to initialize TracerProvider: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			stdlog.Printf("Error shutting down TracerProvider: %v", err)
		}
	}()

	cmd.Execute()
}
