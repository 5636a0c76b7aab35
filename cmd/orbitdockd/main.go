// Package main is the entry point for orbitdockd, the OrbitDock daemon.
package main

import (
	"fmt"
	"os"

	"github.com/robdel12/orbitdock/cmd/orbitdockd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
