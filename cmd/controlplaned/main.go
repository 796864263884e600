// Command controlplaned runs the dslb-eesm control plane daemon.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dslb-eesm/controlplane/internal/cli"
)

func main() {
	root := cli.NewRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
