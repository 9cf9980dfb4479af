package main

import (
	"fmt"
	"os"

	"github.com/galileoChr/ai-model-builder-app/internal/cli"
)

func main() {
	if err := cli.NewServerCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
