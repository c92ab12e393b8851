// The main package for the hood-archiver executable.
package main

import (
	"github.com/JakeFAU/hood-archiver/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
