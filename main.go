// The main package for the botmd executable.
package main

import (
	"github.com/JakeFAU/botmd/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
