package main

import (
	"os"

	"github.com/arloliu/backflow/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
