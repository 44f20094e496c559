// corral is the short-lived client binary: it issues one RPC call to
// corrald and exits.
package main

import (
	"os"

	"github.com/corralhq/corral/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
