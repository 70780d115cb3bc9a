package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/systmms/stagevault/cmd/stagevault/commands"
	dserrors "github.com/systmms/stagevault/internal/errors"
	"github.com/systmms/stagevault/internal/execenv"
	"github.com/systmms/stagevault/internal/secure"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	err := run()
	secure.Purge()
	var exitErr execenv.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run() error {
	app := commands.NewApp()
	rootCmd := commands.NewRootCommand(app, fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date))
	return rootCmd.Execute()
}
