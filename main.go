// The main package for the archivist executable.
package main

import (
	"github.com/archivist-dev/archivist/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
