//go:build windows
// +build windows

// Package cli is the main entrypoint for dbictl.
package cli

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/fennimore/dbicore/cmd/dbictl/cmd"
	"github.com/fennimore/dbicore/pkg/log"
)

var verbose = flag.Bool("v", false, "enable debug logging")

// Main is the main entrypoint.
func Main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(new(cmd.OSIdent), "")
	subcommands.Register(new(cmd.VMQuery), "")
	subcommands.Register(new(cmd.HaltLoop), "")

	flag.Parse()
	log.SetLevel(*verbose)

	os.Exit(int(subcommands.Execute(context.Background())))
}
