package main

import (
	"os"

	"github.com/AlexKimmel/EgressLite/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
