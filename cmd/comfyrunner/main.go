package main

import (
	"os"

	"github.com/richinsley/comfyrunner/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
