// Command autoreply answers incoming messages using keyword and regex rules.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/autoreply/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "autoreply:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
