package main

import (
	"os"

	"github.com/zaphod7777/Phishfindr/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
