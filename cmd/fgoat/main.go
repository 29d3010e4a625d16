package main

import (
	"os"

	"github.com/gkobilansky/form-goat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
