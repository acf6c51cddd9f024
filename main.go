// Package main is the entry point of the quest CLI.
package main

import (
	"quest/cli/cmd"
)

func main() {
	cmd.Execute()
}
