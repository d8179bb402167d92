package syspathmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fixedLookup() []DriveEntry {
	return []DriveEntry{
		{Letter: "C:", Target: `\Device\HarddiskVolume2`},
		{Letter: "D:", Target: `\Device\HarddiskVolume3`},
	}
}

func TestToDOSDriveLetterForm(t *testing.T) {
	got, ok := ToDOS(`\??\C:\Windows\System32`, fixedLookup)
	assert.True(t, ok)
	assert.Equal(t, `C:\Windows\System32`, got)
}

func TestToDOSUNCForm(t *testing.T) {
	got, ok := ToDOS(`\??\UNC\server\share\file.txt`, fixedLookup)
	assert.True(t, ok)
	assert.Equal(t, `\\server\share\file.txt`, got)
}

func TestToDOSLanmanRedirectorForm(t *testing.T) {
	got, ok := ToDOS(`\Device\LanmanRedirector\server\share\file.txt`, fixedLookup)
	assert.True(t, ok)
	assert.Equal(t, `\\server\share\file.txt`, got)
}

func TestToDOSDeviceMapLookup(t *testing.T) {
	got, ok := ToDOS(`\Device\HarddiskVolume3\data\file.bin`, fixedLookup)
	assert.True(t, ok)
	assert.Equal(t, `D:\data\file.bin`, got)
}

func TestToNativeDosDeviceForm(t *testing.T) {
	got, ok := ToNative(`\\.\pipe\foo`, fixedLookup)
	assert.True(t, ok)
	assert.Equal(t, `\??\pipe\foo`, got)
}

func TestToNativeUNCForm(t *testing.T) {
	got, ok := ToNative(`\\server\share\file.txt`, fixedLookup)
	assert.True(t, ok)
	assert.Equal(t, `\Device\LanmanRedirector\server\share\file.txt`, got)
}

func TestToNativeDriveLetterForm(t *testing.T) {
	got, ok := ToNative(`C:\Windows\System32`, fixedLookup)
	assert.True(t, ok)
	assert.Equal(t, `\Device\HarddiskVolume2\Windows\System32`, got)
}

// S7 from spec.md §8: round-trip property for drive-letter and UNC forms
// produced from a live device-map entry.
func TestRoundTripDriveLetter(t *testing.T) {
	back, ok := RoundTrip(`C:\Windows\System32`, fixedLookup)
	assert.True(t, ok)
	assert.Equal(t, `C:\Windows\System32`, back)
}

func TestRoundTripUNC(t *testing.T) {
	back, ok := RoundTrip(`\\server\share\file.txt`, fixedLookup)
	assert.True(t, ok)
	assert.Equal(t, `\\server\share\file.txt`, back)
}

func TestToNativeUnknownDriveFails(t *testing.T) {
	_, ok := ToNative(`Z:\nowhere`, fixedLookup)
	assert.False(t, ok)
}
