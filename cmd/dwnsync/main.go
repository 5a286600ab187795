package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/roach88/dwnsync/internal/cli"
)

func main() {
	// DWNSYNC_* overrides may come from a .env file; its absence is fine.
	_ = godotenv.Load()

	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		if !cli.IsReported(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
