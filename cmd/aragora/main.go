// Command aragora is the process entrypoint; all command wiring lives in
// the sibling cmd package so it can be unit tested without an os.Exit call
// baked into main itself.
package main

import (
	"os"

	"github.com/aragora/aragora/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
