// Command hlcsim runs hybrid logical clock simulations.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/hlcsim/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}

	// Commands report their own ExitErrors; anything else (bad flags,
	// unknown commands) is printed here.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
