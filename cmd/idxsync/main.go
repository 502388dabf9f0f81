package main

import (
	"os"

	"idxsync/internal/idxsynccli"
)

func main() {
	if err := idxsynccli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
