package core

// MemoryUsage is a snapshot of the engine's allocator counters. The first
// five fields are reported by every backend; the rest are QuickJS-specific
// and stay zero on V8.
type MemoryUsage struct {
	MallocLimit     int64
	MallocSize      int64
	MallocCount     int64
	MemoryUsedSize  int64
	MemoryUsedCount int64

	AtomCount          int64
	AtomSize           int64
	StrCount           int64
	StrSize            int64
	ObjCount           int64
	ObjSize            int64
	PropCount          int64
	PropSize           int64
	ShapeCount         int64
	ShapeSize          int64
	JSFuncCount        int64
	JSFuncSize         int64
	JSFuncCodeSize     int64
	JSFuncPc2lineCount int64
	JSFuncPc2lineSize  int64
	CFuncCount         int64
	ArrayCount         int64
	FastArrayCount     int64
	FastArrayElements  int64
	BinaryObjectCount  int64
	BinaryObjectSize   int64
}
