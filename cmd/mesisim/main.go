// Package main provides the entry point for mesisim, a MESI cache coherence
// simulator.
package main

import "github.com/sarchlab/mesisim/cmd/mesisim/cmd"

func main() {
	cmd.Execute()
}
