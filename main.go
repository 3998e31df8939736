// Package main provides the entry point for mesisim.
// mesisim is a MESI cache coherence simulator built on Akita.
//
// For the full CLI, use: go run ./cmd/mesisim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("mesisim - MESI Cache Coherence Simulator")
	fmt.Println("Built on Akita simulation framework")
	fmt.Println("")
	fmt.Println("Usage: mesisim <command> [options]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  run        Run the increment workload on every core")
	fmt.Println("  stress     Run random traffic and check coherence")
	fmt.Println("  config     Write the default system configuration")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/mesisim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/mesisim' instead.")
	}
}
