// myceliactl is a small operational CLI over the mycelia kernel: it
// boots a bus, runs demo traffic, and prints introspection output.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
