// The main package for the pagefetch executable.
package main

import (
	"github.com/JakeFAU/pagefetch/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
