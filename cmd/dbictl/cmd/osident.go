//go:build windows
// +build windows

package cmd

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/fennimore/dbicore/pkg/abi/win"
	"github.com/fennimore/dbicore/pkg/config"
	"github.com/fennimore/dbicore/pkg/osident"
)

// OSIdent implements subcommands.Command for the "osident" command: runs
// component D's classification against the local kernel and prints the
// resulting descriptor.
type OSIdent struct {
	standalone bool
}

func (*OSIdent) Name() string     { return "osident" }
func (*OSIdent) Synopsis() string { return "identify the running kernel and chosen syscall table" }
func (*OSIdent) Usage() string {
	return "osident [-standalone] - probe the local kernel and print its descriptor\n"
}

func (c *OSIdent) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.standalone, "standalone", false, "run osident.Identify in standalone-library mode")
}

func (c *OSIdent) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	opts := config.Default()
	opts.StandaloneLibraryMode = c.standalone

	id, err := osident.Identify(opts)
	if err != nil {
		fmt.Printf("osident: %v\n", err)
		return subcommands.ExitFailure
	}

	fmt.Println(id.Describe())
	if n, ok := id.Table.Number(win.SysTerminateProcess); ok {
		fmt.Printf("NtTerminateProcess syscall number: %d\n", n)
	}
	return subcommands.ExitSuccess
}
