// Package main is the entrypoint for the meilidash binary.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Iron-Ham/meilidash/internal/cmd"
)

func main() {
	if err := cmd.Execute(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "meilidash: %v\n", err)
		os.Exit(1)
	}
}
