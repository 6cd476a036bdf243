// Command dogma is a thin admin CLI over the Central Dogma library: it
// drives a single standalone node directly against its on-disk
// storage, the way an operator would probe or script against a running
// server without going through the (out of scope) HTTP surface.
//
// Grounded on the teacher's cmd/bd: one *cobra.Command per file, each
// registering itself with the root in an init().
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
