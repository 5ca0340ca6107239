// Command suspensed runs the authoritative equipment server and its tools.
package main

import (
	"fmt"
	"os"

	"github.com/Houngansi/SuspenseCore-sub009/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
