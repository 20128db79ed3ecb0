// The main package for the regdocs executable.
package main

import (
	"github.com/JakeFAU/customs-regdocs/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
