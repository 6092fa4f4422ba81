package main

import (
	"os"

	"github.com/livemem/livemem/cli"
)

func main() {
	if err := cli.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
