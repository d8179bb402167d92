// Package syspathmap implements component J: translating between the
// kernel-native path forms a syscall-level trace sees and the
// drive-letter/UNC forms a user sees (spec.md §4.8). Conversion never
// follows symlinks and never caches the drive-letter table, since the
// device map can change between calls.
package syspathmap

import "strings"

const (
	ntPrefix        = `\??\`
	ntUNCPrefix     = `\??\UNC\`
	lanmanPrefix    = `\Device\LanmanRedirector\`
	dosDevicePrefix = `\\.\`
)

// DriveLookup is the device-map source ToNative/ToDOS consult; satisfied
// by DriveMap on Windows, and by a fixed table in tests (spec.md §4.8:
// "No global cache; re-query on each conversion").
type DriveLookup func() []DriveEntry

// ToDOS converts a kernel-native path to its drive-letter or UNC form
// (spec.md §4.8). lookup is consulted only when native doesn't match one
// of the fixed prefix forms the spec lists explicitly.
func ToDOS(native string, lookup DriveLookup) (string, bool) {
	switch {
	case strings.HasPrefix(native, ntUNCPrefix):
		return `\\` + strings.TrimPrefix(native, ntUNCPrefix), true
	case strings.HasPrefix(native, lanmanPrefix):
		return `\\` + strings.TrimPrefix(native, lanmanPrefix), true
	case strings.HasPrefix(native, ntPrefix):
		return strings.TrimPrefix(native, ntPrefix), true
	}

	if lookup == nil {
		return "", false
	}
	for _, e := range lookup() {
		if strings.HasPrefix(native, e.Target) {
			rest := strings.TrimPrefix(native, e.Target)
			return e.Letter + rest, true
		}
	}
	return "", false
}

// ToNative converts a DOS-form path to its kernel-native form (spec.md
// §4.8).
func ToNative(dos string, lookup DriveLookup) (string, bool) {
	if strings.HasPrefix(dos, dosDevicePrefix) {
		return ntPrefix + strings.TrimPrefix(dos, dosDevicePrefix), true
	}
	if strings.HasPrefix(dos, `\\`) {
		// UNC form: \\server\share\... -> the object-manager Lanman
		// redirector form the spec lists (spec.md §4.8).
		return lanmanPrefix + strings.TrimPrefix(dos, `\\`), true
	}

	if len(dos) >= 2 && dos[1] == ':' {
		letter := strings.ToUpper(dos[:2])
		if lookup == nil {
			return "", false
		}
		for _, e := range lookup() {
			if strings.ToUpper(e.Letter) == letter {
				return e.Target + dos[2:], true
			}
		}
	}
	return "", false
}

// RoundTrip converts dos to native and back, returning the final DOS
// form and whether both conversions succeeded. Used directly by the §8
// property-7 test: ToDOS(ToNative(p)) == p for every p that was
// originally a drive-letter or UNC path produced from a live device-map
// entry.
func RoundTrip(dos string, lookup DriveLookup) (string, bool) {
	native, ok := ToNative(dos, lookup)
	if !ok {
		return "", false
	}
	back, ok := ToDOS(native, lookup)
	if !ok {
		return "", false
	}
	return back, true
}
