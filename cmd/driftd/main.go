package main

import (
	"context"
	"fmt"
	"os"

	"driftnote/internal/cli"
)

func main() {
	if err := cli.BuildCLI().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
