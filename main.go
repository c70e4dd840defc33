// Package main starts the foundry-proxy application.
package main

import (
	"github.com/arutyunov/foundry-proxy/cmd"
	"github.com/subosito/gotenv"
)

// main is the entry point for foundry-proxy.
func main() {
	_ = gotenv.Load()

	cmd.Execute()
}
