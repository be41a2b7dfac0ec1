package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/remsync/internal/cli"
)

func main() {
	err := cli.NewRootCommand().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "remsync:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
