// Package main is the entry point for the geotables CLI binary.
package main

import (
	"os"

	"geotables/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
