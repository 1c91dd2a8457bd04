// Package main provides the entry point for the myrient-search service.
package main

import (
	"os"

	"github.com/Myrient-Search/Myrient-Search/cmd/myrient-search/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
