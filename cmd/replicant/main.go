// Command replicant runs the business data replica, the scatter-gather
// search coordinator and simulated providers.
package main

import (
	"os"

	"github.com/roach88/replicant/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
