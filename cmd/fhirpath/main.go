// Command fhirpath compiles, evaluates, and translates path expressions
// from the command line, and serves the HTTP API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fhirpath: %s\n", err)
		os.Exit(1)
	}
}
