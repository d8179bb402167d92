//go:build windows
// +build windows

package bootstrap

import "unsafe"

// This file implements the one piece of manual PE parsing component I
// needs: resolving an export by name out of an already-mapped DLL image
// without calling GetProcAddress, since GetProcAddress is itself an
// import this package's caller has not resolved yet (spec.md §4.7: "It
// must not call anything that depends on imports"). The technique is the
// standard shellcode-era "walk the export directory by hand" approach;
// nothing here allocates or calls through any import.

type imageDOSHeader struct {
	magic    uint16
	_        [58]byte
	lfanew   int32
}

type imageFileHeader struct {
	machine              uint16
	numberOfSections     uint16
	timeDateStamp        uint32
	pointerToSymbolTable uint32
	numberOfSymbols      uint32
	sizeOfOptionalHeader uint16
	characteristics      uint16
}

type imageDataDirectory struct {
	virtualAddress uint32
	size           uint32
}

// imageOptionalHeader64 names only the fields this package reads:
// the data-directory count and the export-directory entry (index 0).
// Everything before them, ImageBase included, is unnamed padding.
// Declared by hand, in the same "only declare what's used" spirit as
// pkg/ntapi, rather than importing a full PE library.
type imageOptionalHeader64 struct {
	_                   [108]byte // Magic .. LoaderFlags
	numberOfRvaAndSizes uint32
	dataDirectory       [16]imageDataDirectory
}

type imageExportDirectory struct {
	_                      [12]byte
	name                   uint32
	base                   uint32
	numberOfFunctions      uint32
	numberOfNames          uint32
	addressOfFunctions     uint32
	addressOfNames         uint32
	addressOfNameOrdinals  uint32
}

const (
	imageDOSSignature = 0x5A4D // "MZ"
	imageNTSignature  = 0x00004550
)

func rvaToPtr(base uintptr, rva uint32) uintptr {
	return base + uintptr(rva)
}

func readU32(addr uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(addr))
}

func readU16(addr uintptr) uint16 {
	return *(*uint16)(unsafe.Pointer(addr))
}

func cstrEquals(addr uintptr, want string) bool {
	for i := 0; i < len(want); i++ {
		if *(*byte)(unsafe.Pointer(addr + uintptr(i))) != want[i] {
			return false
		}
	}
	return *(*byte)(unsafe.Pointer(addr + uintptr(len(want)))) == 0
}

// resolveExport walks moduleBase's export directory looking for name,
// returning its absolute address and whether it was found. moduleBase
// must already be a fully mapped PE image (true of the system DLL at
// the point Bootstrap runs, since the loader mapped it before calling
// this entry point — only this package's own import resolution is
// unavailable, not the target DLL's own layout).
func resolveExport(moduleBase uintptr, name string) (uintptr, bool) {
	dos := (*imageDOSHeader)(unsafe.Pointer(moduleBase))
	if dos.magic != imageDOSSignature {
		return 0, false
	}
	ntBase := moduleBase + uintptr(dos.lfanew)
	if readU32(ntBase) != imageNTSignature {
		return 0, false
	}
	fileHeaderAddr := ntBase + 4
	_ = (*imageFileHeader)(unsafe.Pointer(fileHeaderAddr))
	optHeaderAddr := fileHeaderAddr + unsafe.Sizeof(imageFileHeader{})
	opt := (*imageOptionalHeader64)(unsafe.Pointer(optHeaderAddr))
	if opt.numberOfRvaAndSizes == 0 {
		return 0, false
	}
	exportDirRVA := opt.dataDirectory[0].virtualAddress
	if exportDirRVA == 0 {
		return 0, false
	}
	exp := (*imageExportDirectory)(unsafe.Pointer(rvaToPtr(moduleBase, exportDirRVA)))

	namesBase := rvaToPtr(moduleBase, exp.addressOfNames)
	ordinalsBase := rvaToPtr(moduleBase, exp.addressOfNameOrdinals)
	functionsBase := rvaToPtr(moduleBase, exp.addressOfFunctions)

	for i := uint32(0); i < exp.numberOfNames; i++ {
		nameRVA := readU32(namesBase + uintptr(i)*4)
		nameAddr := rvaToPtr(moduleBase, nameRVA)
		if !cstrEquals(nameAddr, name) {
			continue
		}
		ordinal := readU16(ordinalsBase + uintptr(i)*2)
		funcRVA := readU32(functionsBase + uintptr(ordinal)*4)
		return rvaToPtr(moduleBase, funcRVA), true
	}
	return 0, false
}
