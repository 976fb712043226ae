// The main package for the rpa-productos executable.
package main

import (
	"github.com/figueredoestupinan2025/rpa-productos/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
