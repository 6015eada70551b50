// The main package for the edital-crawler executable.
package main

import (
	"github.com/JakeFAU/edital-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
