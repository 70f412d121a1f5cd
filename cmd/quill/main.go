// Command quill translates object queries into relational plans and runs
// them against SQLite.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/quill/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		// Commands that already reported the failure return a bare exit
		// code; anything else is printed here.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) || exitErr.Code == cli.ExitCommandError {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
