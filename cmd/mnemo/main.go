package main

import (
	"os"

	"github.com/rand/mnemosyne-sub002/cmd/mnemo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
