// Command docchat is the entry point for the document chat service. It
// provides a CLI (via Cobra) for uploading and questioning documents and an
// HTTP server exposing the same operations.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docchat-go/cmd/docchat/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
