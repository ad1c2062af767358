// Package main provides the entry point for pfsim, a trace-driven evaluator
// for the ISB and AMPM hardware prefetchers built on Akita.
package main

import "github.com/sarchlab/pfsim/cmd"

func main() {
	cmd.Execute()
}
