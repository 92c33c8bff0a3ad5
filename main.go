// The main package for the statusstream executable.
package main

import (
	"github.com/JakeFAU/realtime-status-stream/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
