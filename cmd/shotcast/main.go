// The main package for the shotcast executable.
package main

import (
	"github.com/JakeFAU/shotcast/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
