// Package main provides the dexd CLI application: schema lifecycle,
// reference-source imports, and the catalog server.
package main

import (
	"os"
)

func main() {
	if err := getRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
