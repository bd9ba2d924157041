package main

import (
	"os"

	"github.com/ledgerd/bookie/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
