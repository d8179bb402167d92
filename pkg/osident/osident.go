// Package osident implements component D: choosing the syscall table for
// the running kernel by probing the loaded system DLL, with a conservative
// forward-compatibility fallback (spec.md §4.3).
package osident

import (
	"fmt"

	"github.com/fennimore/dbicore/pkg/abi/win"
	"github.com/fennimore/dbicore/pkg/config"
	"github.com/fennimore/dbicore/pkg/log"
	"github.com/fennimore/dbicore/pkg/syscalltable"
)

// FatalUsageError is returned (or, outside standalone-library mode,
// logged and turned into a process exit by the caller) when the running
// kernel is one the build declines to support at all (spec.md §4.3 step 5,
// §7).
type FatalUsageError struct {
	Reason string
}

func (e *FatalUsageError) Error() string {
	return fmt.Sprintf("osident: fatal usage error: %s", e.Reason)
}

// Identified is the frozen result of Identify: the OS descriptor plus the
// syscall table chosen for it. Both fields are read-only after
// construction (data model §3).
type Identified struct {
	Descriptor win.Descriptor
	Table      syscalltable.Table
	Valid      bool // false only for the unknown-future path.
}

// Describe returns a human-readable diagnostic dump of the chosen OS
// descriptor (SUPPLEMENTED: no effect on table choice, used by
// cmd/dbictl's osident subcommand).
func (id *Identified) Describe() string {
	status := "valid"
	if !id.Valid {
		status = "unknown-future, best-effort table"
	}
	return fmt.Sprintf("%s [%s]", id.Descriptor, status)
}

// probeEnv is everything Identify needs from the live process, factored
// out so choose (the pure decision function tested by §8 property 9) can
// be exercised without touching the OS.
type probeEnv struct {
	majorVersion     uint32
	minorVersion     uint32
	servicePackMajor uint16
	servicePackMinor uint16
	buildNumber      uint32
	userBitness      win.Bitness
	hostBitness      win.Bitness
	isWow64          bool
	edition          string
	release          string

	// exportProbe reports whether the system DLL exports the named
	// symbol, used to subdivide the 10.0 family (spec.md §4.3 step 2).
	exportProbe func(name string) bool

	// extractedGetContextThread / extractedAllocateVirtualMemory are the
	// syscall numbers read directly out of the in-memory wrapper
	// prologues, used for the cross-check validation in step 3. A zero
	// value means "could not extract" and skips the cross-check (treated
	// as valid, since failure to extract is not itself evidence of a
	// version mismatch).
	extractedGetContextThread      uint32
	extractedAllocateVirtualMemory uint32
}

// Identify is the process-wide entry point, run exactly once at startup
// (data model: "Created once; read-only thereafter"). opts controls the
// fatal-vs-non-fatal behavior on an unsupported kernel.
func Identify(opts *config.Options) (*Identified, error) {
	env, err := probeLiveEnvironment()
	if err != nil {
		return nil, err
	}
	return identify(env, opts)
}

// identify is the pure decision function: choose, validate, and fall back,
// given an already-probed environment. Running it twice on the same env
// yields the same result (§8 property 9).
func identify(env *probeEnv, opts *config.Options) (*Identified, error) {
	v, fatal := classify(env, opts)
	if fatal != nil {
		return nil, fatal
	}

	desc := win.Descriptor{
		Version:          v,
		MajorVersion:     env.majorVersion,
		MinorVersion:     env.minorVersion,
		ServicePackMajor: env.servicePackMajor,
		ServicePackMinor: env.servicePackMinor,
		BuildNumber:      env.buildNumber,
		Edition:          env.edition,
		Release:          env.release,
		UserBitness:      env.userBitness,
		HostBitness:      env.hostBitness,
		IsWow64Emulation: env.isWow64,
	}

	table, ok := syscalltable.Lookup(v)
	if !ok {
		// v was classified but we have no literal table for it (can
		// happen for versions listed in win.KernelVersion but not yet
		// populated in tables_data.go); treat exactly like an unknown
		// future version.
		return unknownFuture(desc, env), nil
	}

	if !crossCheckValid(table, env) {
		log.WarnOnce("osident:crosscheck",
			"osident: syscall table for %s failed cross-check validation, "+
				"falling back to unknown-future table", v)
		return unknownFuture(desc, env), nil
	}

	return &Identified{Descriptor: desc, Table: table, Valid: true}, nil
}

// classify implements spec.md §4.3 steps 1-2 and 5: match against the
// known point-version table, subdivide 10.0 by export probing, and bail
// out (fatally or not) on declined kernels.
func classify(env *probeEnv, opts *config.Options) (win.KernelVersion, error) {
	switch {
	case env.majorVersion < 5, (env.majorVersion == 5 && env.minorVersion == 0):
		return bail(opts, "pre-NT or Windows 2000 kernel is not supported")
	case env.majorVersion == 5 && env.minorVersion == 1:
		return classified(win.KernelWinXP, opts)
	case env.majorVersion == 5 && env.minorVersion == 2:
		return classified(win.KernelWinXP64, opts)
	case env.majorVersion == 6 && env.minorVersion == 0:
		return classified(win.KernelVista, opts)
	case env.majorVersion == 6 && env.minorVersion == 1:
		return classified(win.KernelWin7, opts)
	case env.majorVersion == 6 && env.minorVersion == 2:
		return classified(win.KernelWin8, opts)
	case env.majorVersion == 6 && env.minorVersion == 3:
		return classified(win.KernelWin8_1, opts)
	case env.majorVersion == 10 && env.minorVersion == 0:
		return classified(classify10(env), opts)
	default:
		// Nothing above recognizes this major/minor pair at all: route to
		// the unknown-future path unconditionally. max_supported_os_version
		// (step 5) only ever declines a version the table actually
		// recognizes — see classified and maxVersionExceeded.
		return win.KernelUnknownFuture, nil
	}
}

// classified applies the spec.md §4.3 step 5 max_supported_os_version gate
// to a version the switch above actually recognized, bailing (fatally or
// not, per bail) when it exceeds the configured ceiling.
func classified(v win.KernelVersion, opts *config.Options) (win.KernelVersion, error) {
	if opts != nil && maxVersionExceeded(opts.MaxSupportedOSVersion, v) {
		return bail(opts, fmt.Sprintf("classified kernel %s exceeds max_supported_os_version=%s", v, opts.MaxSupportedOSVersion))
	}
	return v, nil
}

// classify10 subdivides the 10.0 family by probing for syscall wrapper
// exports added in successive feature updates, newest first, falling back
// to the base 10.0 table (spec.md §4.3 step 2).
func classify10(env *probeEnv) win.KernelVersion {
	if env.exportProbe == nil {
		return win.KernelWin10_1507
	}
	// Ordered newest-first: the first matching export wins.
	probes := []struct {
		export  string
		version win.KernelVersion
	}{
		{"NtQueryInformationByName", win.KernelWin11},
		{"NtAllocateVirtualMemoryEx", win.KernelWin10_1803},
		{"NtCallEnclave", win.KernelWin10_1709},
		{"NtCreateRegistryTransaction", win.KernelWin10_1607},
		{"NtCreateEnclave", win.KernelWin10_1511},
	}
	for _, p := range probes {
		if env.exportProbe(p.export) {
			return p.version
		}
	}
	return win.KernelWin10_1507
}

func bail(opts *config.Options, reason string) (win.KernelVersion, error) {
	if opts != nil && opts.StandaloneLibraryMode {
		// "Callers running in standalone-library mode get a non-fatal
		// false return instead" (spec.md §4.3 step 5): we signal this by
		// returning a plain error that is not a *FatalUsageError, which
		// Identify's caller can distinguish from the fatal path.
		return win.KernelUnknown, fmt.Errorf("osident: unsupported kernel (standalone mode): %s", reason)
	}
	log.Errorf("osident: fatal usage error: %s", reason)
	return win.KernelUnknown, &FatalUsageError{Reason: reason}
}

// maxVersionExceeded reports whether v is newer than the ceiling
// max_supported_os_version names. Win10 and Win11 both report
// majorVersion==10, so the ceiling has to be compared against the
// classified KernelVersion rather than the raw major for the option to
// be expressible at all (spec.md §4.3 step 5, §6). KernelUnknownFuture
// never exceeds any ceiling: a kernel the table can't even classify
// always falls through to the unknown-future path, per
// config.Options.MaxSupportedOSVersion's doc comment — only a version
// the table actually recognizes can be explicitly declined.
func maxVersionExceeded(maxVersion string, v win.KernelVersion) bool {
	if v == win.KernelUnknownFuture {
		return false
	}
	ceiling, ok := kernelVersionCeiling(maxVersion)
	if !ok {
		return false
	}
	return v > ceiling
}

// kernelVersionCeiling maps a max_supported_os_version config value
// (a decimal Windows product version, e.g. "11", "10", "8.1") to the
// newest KernelVersion it permits. An unrecognized string means "no
// ceiling configured" rather than "ceiling of zero".
func kernelVersionCeiling(maxVersion string) (win.KernelVersion, bool) {
	switch maxVersion {
	case "11":
		return win.KernelWin11, true
	case "10":
		return win.KernelWin10_2004, true
	case "8.1", "6.3":
		return win.KernelWin8_1, true
	case "8", "6.2":
		return win.KernelWin8, true
	case "7", "6.1":
		return win.KernelWin7, true
	case "6", "6.0":
		return win.KernelVista, true
	case "5.2":
		return win.KernelWinXP64, true
	case "5.1":
		return win.KernelWinXP, true
	default:
		return win.KernelUnknown, false
	}
}

// unknownFuture implements spec.md §4.3 step 4: copy the most recent known
// table into a writable table, warn once, and mark it refinable.
func unknownFuture(desc win.Descriptor, env *probeEnv) *Identified {
	_, latest := syscalltable.Latest()
	table := latest.Clone()
	log.WarnOnce("osident:unknown-future",
		"osident: unrecognized kernel version %d.%d build %d, using most recent known syscall table",
		env.majorVersion, env.minorVersion, env.buildNumber)
	desc.Version = win.KernelUnknownFuture
	refineUnknownTable(&table, env)
	return &Identified{Descriptor: desc, Table: table, Valid: false}
}

// refineUnknownTable applies the "best-effort syscall-extraction step" that
// refines the unknown-future table in place (spec.md §4.3 step 4). It only
// overwrites entries we actually managed to extract.
func refineUnknownTable(table *syscalltable.Table, env *probeEnv) {
	if env.extractedGetContextThread != 0 {
		table[win.SysGetContextThread] = env.extractedGetContextThread
	}
	if env.extractedAllocateVirtualMemory != 0 {
		table[win.SysAllocateVirtualMemory] = env.extractedAllocateVirtualMemory
	}
}

// crossCheckValid implements spec.md §4.3 step 3: cross-check two
// late-table entries against numbers extracted directly from the in-memory
// wrapper prologues. Missing extraction data is treated as "cannot
// invalidate", not as a failure.
func crossCheckValid(table syscalltable.Table, env *probeEnv) bool {
	if env.extractedGetContextThread != 0 {
		if n, ok := table.Number(win.SysGetContextThread); ok && n != env.extractedGetContextThread {
			return false
		}
	}
	if env.extractedAllocateVirtualMemory != 0 {
		if n, ok := table.Number(win.SysAllocateVirtualMemory); ok && n != env.extractedAllocateVirtualMemory {
			return false
		}
	}
	return true
}
