// Package log is the core's leveled logging facade. It wraps logrus the
// way the teacher's pkg/log wraps its own BasicLogger/Emitter pair in
// runsc/boot/compat.go: a package-level sink plus small formatting helpers,
// so call sites never import logrus directly.
package log

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var sink = logrus.New()

func init() {
	sink.SetLevel(logrus.InfoLevel)
}

// SetLevel adjusts the global log level (e.g. raised to Debug by
// cmd/dbictl's -v flag).
func SetLevel(debug bool) {
	if debug {
		sink.SetLevel(logrus.DebugLevel)
		return
	}
	sink.SetLevel(logrus.InfoLevel)
}

// Infof logs at info level.
func Infof(format string, args ...any) {
	sink.Infof(format, args...)
}

// Debugf logs at debug level.
func Debugf(format string, args ...any) {
	sink.Debugf(format, args...)
}

// Warningf logs at warning level. The once-only notices, such as the
// unknown-future OS warning, go through WarnOnce instead.
func Warningf(format string, args ...any) {
	sink.Warnf(format, args...)
}

// Errorf logs at error level. Never used on a path that must not log
// (pkg/bootstrap, pkg/safemem, pkg/vmalloc per §7 propagation policy).
func Errorf(format string, args ...any) {
	sink.Errorf(format, args...)
}

// onceTrackers guards WarnOnce's per-key dedup, mirroring the teacher's
// compatEmitter.onceTracker (runsc/boot/compat.go) but keyed by an
// arbitrary caller-chosen string instead of a syscall number.
var (
	onceMu       sync.Mutex
	onceWarned   = make(map[string]struct{})
)

// WarnOnce logs a warning the first time it is called for a given key and
// is a silent no-op on every subsequent call with that key. This is the
// mechanism backing "a single warning is logged" (spec.md §4.3 step 4,
// testable scenario S6).
func WarnOnce(key, format string, args ...any) {
	onceMu.Lock()
	_, already := onceWarned[key]
	if !already {
		onceWarned[key] = struct{}{}
	}
	onceMu.Unlock()
	if already {
		return
	}
	sink.Warnf(format, args...)
}

// ResetOnceForTesting clears the dedup set. Test-only.
func ResetOnceForTesting() {
	onceMu.Lock()
	defer onceMu.Unlock()
	onceWarned = make(map[string]struct{})
}
