//go:build windows
// +build windows

package cmd

import (
	"context"
	"flag"
	"fmt"
	"strconv"

	"github.com/google/subcommands"
	"golang.org/x/sys/windows"

	"github.com/fennimore/dbicore/pkg/hostarch"
	"github.com/fennimore/dbicore/pkg/vmquery"
)

// VMQuery implements subcommands.Command for the "vmquery" command:
// component B's region walk against a live process, for manual inspection
// of a target's address space during development.
type VMQuery struct {
	pid uint
	all bool
}

func (*VMQuery) Name() string     { return "vmquery" }
func (*VMQuery) Synopsis() string { return "query what is mapped at an address in a process" }
func (*VMQuery) Usage() string {
	return "vmquery -pid <pid> [-all | <hex-address>] - print the region descriptor(s) for a process\n"
}

func (c *VMQuery) SetFlags(f *flag.FlagSet) {
	f.UintVar(&c.pid, "pid", 0, "target process id")
	f.BoolVar(&c.all, "all", false, "enumerate every region in the process instead of querying one address")
}

func (c *VMQuery) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if c.pid == 0 || (c.all && f.NArg() != 0) || (!c.all && f.NArg() != 1) {
		f.Usage()
		return subcommands.ExitUsageError
	}

	proc, err := windows.OpenProcess(windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_READ, false, uint32(c.pid))
	if err != nil {
		fmt.Printf("vmquery: opening pid %d: %v\n", c.pid, err)
		return subcommands.ExitFailure
	}
	defer windows.CloseHandle(proc)

	prober := vmquery.ProcessProber{Process: proc}

	if c.all {
		for _, info := range vmquery.Regions(prober) {
			fmt.Printf("base: 0x%x  size: 0x%x  kind: %s  prot: %v\n", info.Base, info.Size, info.Kind, info.Prot)
		}
		return subcommands.ExitSuccess
	}

	addrText := f.Arg(0)
	addr, err := strconv.ParseUint(trimHexPrefix(addrText), 16, 64)
	if err != nil {
		fmt.Printf("vmquery: invalid address %q: %v\n", addrText, err)
		return subcommands.ExitUsageError
	}

	info, curious, err := vmquery.Query(prober, hostarch.Addr(addr), true)
	if err != nil {
		fmt.Printf("vmquery: %v\n", err)
		return subcommands.ExitFailure
	}

	fmt.Printf("base: 0x%x  size: 0x%x  kind: %s  prot: %v\n", info.Base, info.Size, info.Kind, info.Prot)
	if curious {
		fmt.Println("note: forward scan hit its step bound before reaching the address")
	}
	return subcommands.ExitSuccess
}

func trimHexPrefix(s string) string {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
