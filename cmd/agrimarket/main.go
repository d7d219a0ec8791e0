package main

import (
	"context"
	"fmt"
	"os"

	"agrimarket/pkg/app"
)

// main is the entry point packaged for process managers.
func main() {
	if err := app.Run(context.Background(), os.Args[1:], nil); err != nil {
		fmt.Fprintf(os.Stderr, "agrimarket: %v\n", err)
		os.Exit(1)
	}
}
