// Package main - stockctl CLI
//
// Usage:
//
//	go run ./cmd/stockctl populate
//	go run ./cmd/stockctl history AAPL --start 2024-01-01 --end 2024-01-31
package main

import (
	"os"

	"github.com/3-stardust-7/JarNox/cmd/stockctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
