//go:build windows
// +build windows

package cmd

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"strconv"

	"github.com/containerd/console"
	"github.com/google/subcommands"

	"github.com/fennimore/dbicore/pkg/terminate"
)

// HaltLoop implements subcommands.Command for the "haltloop" command: puts
// the controlling terminal in raw mode and walks a developer through the
// tombstone's fake-return-address halt loop one step at a time (spec.md
// §3's "variant whose fake return address points at a runtime-internal
// label"), since there is no live sysenter-style exit to single-step here.
type HaltLoop struct {
	haltAddr uint
	exitCode uint
	thread   bool
}

func (*HaltLoop) Name() string     { return "haltloop" }
func (*HaltLoop) Synopsis() string { return "interactively walk a terminate tombstone's halt loop" }
func (*HaltLoop) Usage() string {
	return "haltloop [-addr <hex>] [-exit-code <n>] [-thread] - build and step through a tombstone\n"
}

func (c *HaltLoop) SetFlags(f *flag.FlagSet) {
	f.UintVar(&c.haltAddr, "addr", 0x7ff00000, "fake return address the tombstone should carry")
	f.UintVar(&c.exitCode, "exit-code", 0, "exit code the tombstone should carry")
	f.BoolVar(&c.thread, "thread", false, "build a thread tombstone instead of a process tombstone")
}

func (c *HaltLoop) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	terminate.SetHaltLoopAddr(uintptr(c.haltAddr))

	kind := terminate.KindProcess
	if c.thread {
		kind = terminate.KindThread
	}
	t := terminate.VariableExitCodeTombstone(kind, uint32(c.exitCode))

	cur := console.Current()
	defer cur.Reset()
	if err := cur.SetRaw(); err != nil {
		fmt.Printf("haltloop: console.SetRaw: %v (continuing without raw mode)\n", err)
	}

	fmt.Printf("tombstone built: fake_return_addr=0x%x target_handle=0x%x exit_code=%d\n",
		t.FakeReturnAddr, t.TargetHandle, t.ExitCode())
	fmt.Println("press 'n' to step, 'q' to quit")

	r := bufio.NewReader(cur)
	step := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return subcommands.ExitFailure
		}
		switch b {
		case 'q', 'Q':
			fmt.Println("\nhalt loop exited")
			return subcommands.ExitSuccess
		case 'n', 'N':
			step++
			fmt.Printf("\nstep %d: still parked at fake_return_addr=0x%x (exit_code=%d)\n",
				step, t.FakeReturnAddr, t.ExitCode())
		default:
			fmt.Printf("\nunrecognized key %s, press 'n' or 'q'\n", strconv.QuoteRune(rune(b)))
		}
	}
}
