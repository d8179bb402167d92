//go:build windows
// +build windows

package syspathmap

import (
	"unicode/utf16"
	"unsafe"

	"github.com/fennimore/dbicore/pkg/ntapi"
)

// queryDosDevice calls QueryDosDeviceW(name) and returns every
// NUL-separated string in the returned multi-sz buffer, growing the
// buffer and retrying if it was too small. name == "" lists every
// MS-DOS device name in the caller's device map (spec.md §4.8: "obtained
// by enumerating entries under the process's device-map symbolic-link
// directory").
func queryDosDevice(name string) ([]string, bool) {
	var namePtr *uint16
	if name != "" {
		p, err := utf16PtrFromString(name)
		if err != nil {
			return nil, false
		}
		namePtr = p
	}

	size := uint32(1024)
	for attempt := 0; attempt < 4; attempt++ {
		buf := make([]uint16, size)
		r, _, _ := ntapi.QueryDosDeviceW.Call(
			uintptrOrZero(namePtr),
			uintptrOf(&buf[0]),
			uintptr(size),
		)
		if r != 0 {
			return splitMultiSZ(buf[:r]), true
		}
		size *= 4
	}
	return nil, false
}

func splitMultiSZ(buf []uint16) []string {
	var out []string
	var cur []uint16
	for _, u := range buf {
		if u == 0 {
			if len(cur) > 0 {
				out = append(out, string(utf16.Decode(cur)))
				cur = nil
			}
			continue
		}
		cur = append(cur, u)
	}
	return out
}

// DriveEntry is one entry of the device-map symbolic-link directory:
// a drive letter and the native device path it resolves to.
type DriveEntry struct {
	Letter string // e.g. "C:"
	Target string // e.g. "\Device\HarddiskVolume2"
}

// DriveMap re-enumerates the process's current device-map entries. No
// global cache: the map can change between calls, so every conversion
// re-queries it (spec.md §4.8: "No global cache; re-query on each
// conversion because the map can change").
func DriveMap() []DriveEntry {
	names, ok := queryDosDevice("")
	if !ok {
		return nil
	}
	var entries []DriveEntry
	for _, n := range names {
		if !isDriveLetterName(n) {
			continue
		}
		targets, ok := queryDosDevice(n)
		if !ok || len(targets) == 0 {
			continue
		}
		entries = append(entries, DriveEntry{Letter: n, Target: targets[0]})
	}
	return entries
}

func isDriveLetterName(n string) bool {
	return len(n) == 2 && n[1] == ':' &&
		((n[0] >= 'A' && n[0] <= 'Z') || (n[0] >= 'a' && n[0] <= 'z'))
}

func utf16PtrFromString(s string) (*uint16, error) {
	u := utf16.Encode([]rune(s + "\x00"))
	return &u[0], nil
}

func uintptrOf(p *uint16) uintptr {
	return uintptr(unsafe.Pointer(p))
}

func uintptrOrZero(p *uint16) uintptr {
	if p == nil {
		return 0
	}
	return uintptr(unsafe.Pointer(p))
}
