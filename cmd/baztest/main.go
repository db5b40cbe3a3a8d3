package main

import (
	"fmt"
	"os"

	"github.com/zjy-dev/baztest/cmd/baztest/app"
)

func main() {
	if err := app.NewBaztestCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
