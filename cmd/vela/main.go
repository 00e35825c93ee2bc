// Command vela inspects vela schemas: it builds the model of a YAML schema
// and prints the statements the engine runs for it.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
