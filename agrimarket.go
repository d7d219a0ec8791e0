package main

import (
	"context"
	"fmt"
	"os"

	"agrimarket/pkg/app"
)

// main lets operators run the service straight from the repository root.
func main() {
	if err := app.Run(context.Background(), os.Args[1:], nil); err != nil {
		fmt.Fprintf(os.Stderr, "agrimarket: %v\n", err)
		os.Exit(1)
	}
}
