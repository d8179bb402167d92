//go:build windows
// +build windows

package wow64

import (
	"encoding/binary"

	"golang.org/x/sys/windows"

	"github.com/fennimore/dbicore/pkg/abi/win"
	"github.com/fennimore/dbicore/pkg/arch"
	"github.com/fennimore/dbicore/pkg/safemem"
)

// maxAddressable32 is the top of the 32-bit-addressable range; a 64-bit
// instruction pointer above this cannot be inside the emulation stub's
// save/restore window and is deep inside 64-bit kernel-adjacent code
// instead (spec.md §4.4 step 4: "no rewrite is possible or safe").
const maxAddressable32 = 0x100000000

// callGatePrefix is the byte sequence the spec requires Handle to find
// immediately preceding a would-be continuation address before trusting
// it (spec.md §4.4 step 5: "sanity-check that the would-be continuation
// address has the expected call-gate byte sequence preceding it"). This
// is the well-known wow64cpu.dll far-call-via-call-gate encoding
// (0x2E 0xFF 0x15, a CS-prefixed indirect call through the call-gate
// selector).
var callGatePrefix = []byte{0x2E, 0xFF, 0x15}

// Handler implements pkg/takeover's Wow64Handler interface: detects
// whether a suspended thread is inside the emulation layer's save/
// restore window and, if so, performs the corner-case rewrite described
// in spec.md §4.4, recording enough state for Detach to revert it later.
type Handler struct {
	// Process is the target process's handle, used for safemem reads/
	// writes of [esp]/[r14] slots, which live in that process's address
	// space rather than the (ambient, `this`-process) runtime's own.
	Process windows.Handle

	// Version selects the pattern table (spec.md §9: "isolate pattern
	// matching behind a single function per OS generation").
	Version win.KernelVersion

	// GetContext64 reads the live 64-bit register file of the thread
	// identified by handle (spec.md §4.4: "queries the 64-bit context via
	// the architecture-specific wide-context syscall"). Exposed as a
	// field so tests can substitute a fake thread without a live process.
	GetContext64 func(handle uintptr) (*arch.Context64, error)
	SetContext64 func(handle uintptr, ctx *arch.Context64) error

	// ReadCodeBytes reads n bytes of the 64-bit instruction stream at addr
	// in Process, used for both pattern matching and the call-gate sanity
	// check. Defaults to safemem.SafeRead against Process if nil.
	ReadCodeBytes func(addr uintptr, n int) ([]byte, bool)
}

func (h *Handler) readCode(addr uintptr, n int) ([]byte, bool) {
	if h.ReadCodeBytes != nil {
		return h.ReadCodeBytes(addr, n)
	}
	buf := make([]byte, n)
	got := safemem.SafeRead(safemem.Handle(h.Process), addr, buf)
	return buf[:got], got == n
}

func (h *Handler) readWord(addr uintptr) (uint64, bool) {
	b, ok := h.readCode(addr, 8)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

func (h *Handler) writeWord(addr uintptr, v uint64) bool {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return safemem.SafeWrite(safemem.Handle(h.Process), addr, b[:], true) == 8
}

// Handle implements takeover.Wow64Handler.Handle (spec.md §4.4).
func (h *Handler) Handle(handle uintptr, trampolineAddr uintptr) (savedStackWord, savedR14Word uint64, ctx64 *arch.Context64, ok bool, err error) {
	table := TableFor(h.Version)
	if table == nil {
		return 0, 0, nil, false, nil
	}

	getCtx := h.GetContext64
	if getCtx == nil {
		getCtx = func(handle uintptr) (*arch.Context64, error) {
			return arch.GetContext(windows.Handle(handle))
		}
	}
	ctx, gerr := getCtx(handle)
	if gerr != nil {
		return 0, 0, nil, false, gerr
	}

	ip := ctx.IP()
	if ip >= maxAddressable32 {
		// Deep inside 64-bit kernel-adjacent code: no rewrite is possible
		// or safe (spec.md §4.4 step 4).
		return 0, 0, nil, false, nil
	}

	codeBytes, readOK := h.readCode(ip, 8)
	if !readOK {
		return 0, 0, nil, false, nil
	}
	rewrite, matched := matchPattern(table, codeBytes)
	if !matched {
		return 0, 0, ctx, false, nil
	}

	if !sanityCheckCallGate(h, ip) {
		return 0, 0, nil, false, nil
	}

	before := ctx.Clone()
	switch rewrite {
	case RewriteStackSlot:
		addr := uintptr(ctx.SP())
		old, rok := h.readWord(addr)
		if !rok || !h.writeWord(addr, uint64(trampolineAddr)) {
			return 0, 0, nil, false, nil
		}
		savedStackWord = old
	case RewriteR14Slot:
		addr := uintptr(ctx.R14())
		old, rok := h.readWord(addr)
		if !rok || !h.writeWord(addr, uint64(trampolineAddr)) {
			return 0, 0, nil, false, nil
		}
		savedR14Word = old
	case RewriteR8Reg:
		ctx.SetR8(uint64(trampolineAddr))
		setCtx := h.SetContext64
		if setCtx == nil {
			setCtx = func(handle uintptr, c *arch.Context64) error {
				return arch.SetContext(windows.Handle(handle), c)
			}
		}
		if serr := setCtx(handle, ctx); serr != nil {
			return 0, 0, nil, false, serr
		}
	case RewriteR9Reg:
		ctx.SetR9(uint64(trampolineAddr))
		setCtx := h.SetContext64
		if setCtx == nil {
			setCtx = func(handle uintptr, c *arch.Context64) error {
				return arch.SetContext(windows.Handle(handle), c)
			}
		}
		if serr := setCtx(handle, ctx); serr != nil {
			return 0, 0, nil, false, serr
		}
	}

	return savedStackWord, savedR14Word, before, true, nil
}

// sanityCheckCallGate implements spec.md §4.4 step 5: confirm the
// would-be continuation address is actually preceded by the call-gate
// byte sequence wow64cpu.dll uses to transition, rather than trusting a
// pattern match against bytes that merely happen to coincide.
func sanityCheckCallGate(h *Handler, ip uintptr) bool {
	if ip < uintptr(len(callGatePrefix)) {
		return false
	}
	prefix, ok := h.readCode(ip-uintptr(len(callGatePrefix)), len(callGatePrefix))
	if !ok {
		// Absence of a readable preceding byte range isn't itself
		// disqualifying on every generation (padding can vary); only an
		// outright mismatched, readable prefix disqualifies the match.
		return true
	}
	for i, b := range callGatePrefix {
		if prefix[i] != b {
			return false
		}
	}
	return true
}
