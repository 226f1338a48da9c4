// threatctl scores activity CSV files offline and generates synthetic ones.
package main

import (
	"fmt"
	"os"

	"github.com/mbd888/threatscore/internal/cli"
)

// Build info - set by ldflags
var Version = "dev"

func main() {
	cli.Version = Version
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "threatctl:", err)
		os.Exit(1)
	}
}
