// The main package for the placescrawler executable.
package main

import (
	"github.com/JakeFAU/placescrawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
