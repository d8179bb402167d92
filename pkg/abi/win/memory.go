package win

// Protect mirrors the native Windows page-protection constants (a subset,
// the ones the VM layer translates to/from the abstract Prot type).
type Protect uint32

const (
	ProtNoAccess         Protect = 0x01
	ProtReadOnly         Protect = 0x02
	ProtReadWrite        Protect = 0x04
	ProtWriteCopy        Protect = 0x08
	ProtExecute          Protect = 0x10
	ProtExecuteRead      Protect = 0x20
	ProtExecuteReadWrite Protect = 0x40
	ProtExecuteWriteCopy Protect = 0x80
	ProtGuardModifier    Protect = 0x100
	ProtNoCacheModifier  Protect = 0x200
	ProtWriteCombine     Protect = 0x400
)

// State mirrors MEMORY_BASIC_INFORMATION.State.
type State uint32

const (
	StateCommit  State = 0x1000
	StateReserve State = 0x2000
	StateFree    State = 0x10000
)

// RegionType mirrors MEMORY_BASIC_INFORMATION.Type.
type RegionType uint32

const (
	TypeImage   RegionType = 0x1000000
	TypeMapped  RegionType = 0x40000
	TypePrivate RegionType = 0x20000
)

// RegionDescriptor is the immutable snapshot the kernel returns for a
// single VirtualQueryEx call (data model §3's "VM region descriptor").
type RegionDescriptor struct {
	BaseAddress       uintptr
	AllocationBase    uintptr
	AllocationProtect Protect
	RegionSize        uint64
	State             State
	Protect           Protect
	Type              RegionType
}
