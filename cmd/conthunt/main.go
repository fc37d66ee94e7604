// Package main is the entry point of the conthunt command line client.
package main

import (
	"os"

	"github.com/conthunt/streamcore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
