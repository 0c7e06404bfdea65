// Package main is the entry point for the Weft CLI.
package main

import "weft.dev/pkg/weft/cmd"

func main() {
	cmd.Execute()
}
