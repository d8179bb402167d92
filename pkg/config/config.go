// Package config holds the runtime's read-mostly options struct and the
// external get_option(name) surface (spec.md §6). Modeled on the teacher's
// runsc/config/flags.go declarative-option style, adapted from command-line
// flags to a TOML file since this core has no CLI of its own.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/fennimore/dbicore/pkg/rareprotect"
)

// Options is the process-wide, mostly-immutable options struct. Per
// spec.md §9 ("Global mutable options"), this is an explicit struct with
// explicit mutation helpers, not a collection of singletons.
type Options struct {
	// MaxSupportedOSVersion bounds osident.Identify: a kernel the version
	// table recognizes that is newer than this is declined (a fatal-usage
	// error, or a non-fatal false in standalone-library mode). A kernel
	// the table cannot recognize at all is not gated by this knob and
	// takes the unknown-future path. Anything the build declines to
	// support entirely (pre-NT, Win9x/ME/3.1) is always a fatal-usage
	// error regardless of this knob.
	MaxSupportedOSVersion string `toml:"max_supported_os_version"`

	// EarlyInjectLocation is the file path to the hook DLL/stub, exposed
	// through Get. pkg/bootstrap does not read it; it takes its image path
	// from the injector's Args.
	EarlyInjectLocation string `toml:"early_inject_location"`

	// StandaloneLibraryMode, when true, makes osident.Identify return a
	// non-fatal false instead of calling the fatal-usage error path on an
	// unsupported kernel (spec.md §4.3 step 5).
	StandaloneLibraryMode bool `toml:"standalone_library_mode"`

	// DisableWow64Rewrite is the runtime-mutable option written through
	// SetDisableWow64Rewrite under the rare-data-section guard. It is
	// readable through Get, but no package in this module sets or
	// consults it: pkg/takeover runs its wow64 handler whatever its value.
	DisableWow64Rewrite bool `toml:"-"`
}

// Default returns the options used when no config file is supplied.
func Default() *Options {
	return &Options{
		MaxSupportedOSVersion: "11",
		StandaloneLibraryMode: false,
	}
}

// Load parses a TOML options file into a fresh Options, starting from
// Default() so that omitted fields keep their defaults.
func Load(path string) (*Options, error) {
	o := Default()
	if _, err := toml.DecodeFile(path, o); err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	return o, nil
}

// Get implements the spec's get_option(name) -> value surface for the
// small set of knobs external collaborators read by name.
func (o *Options) Get(name string) (any, bool) {
	switch name {
	case "max_supported_os_version":
		return o.MaxSupportedOSVersion, true
	case "early_inject_location":
		return o.EarlyInjectLocation, true
	case "standalone_library_mode":
		return o.StandaloneLibraryMode, true
	case "disable_wow64_rewrite":
		return o.DisableWow64Rewrite, true
	default:
		return nil, false
	}
}

// SetDisableWow64Rewrite mutates the one option the core itself writes at
// runtime, through the rare-data-section guard required by spec.md §9.
func (o *Options) SetDisableWow64Rewrite(v bool) {
	g := rareprotect.Acquire(o)
	defer g.Release()
	o.DisableWow64Rewrite = v
}
