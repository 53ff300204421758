// The main package for the drawpulse executable.
package main

import (
	"github.com/drawpulse/drawpulse/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
