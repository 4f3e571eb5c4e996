// lingoa is a terminal front end for spoken language practice.
//
// Usage:
//
//	lingoa converse --language hi --topic travel
//	lingoa speak "namaste, aap kaise hain?"
//	lingoa stats --user u-1
//	lingoa probe
//
// Configuration is read from .env, ~/.config/lingoa/config.yaml and
// LINGOA_* environment variables.
package main

import (
	"fmt"
	"os"

	"lingoa/cmd/lingoa/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
