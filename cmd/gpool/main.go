package main

import (
	"os"

	"github.com/bnema/gemini-pool/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
