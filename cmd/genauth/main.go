package main

import (
	"context"
	"log"

	"github.com/genauth-dev/genauth/cmd/genauth/cmd"
	"github.com/genauth-dev/genauth/tracing"
)

func main() {
	tp, err := tracing.InitTracerProvider("genauth-cli")
	if err != nil {
		log.Fatalf("Failed to initialize TracerProvider: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down TracerProvider: %v", err)
		}
	}()

	cmd.Execute()
}
