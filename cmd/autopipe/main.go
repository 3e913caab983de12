package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"autopipe/internal/services"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "autopipe: %s: %v\n", services.Describe(err), err)
		}
		os.Exit(services.ExitCode(err))
	}
}
