package vm

import "sync"

// ObjectKind is the small enumeration the object manager returns for any
// pointer-shaped value it recognizes.
type ObjectKind int

const (
	ObjectUnknown ObjectKind = iota
	ObjectInt
	ObjectDecimal
	ObjectString
	ObjectBoolean
	ObjectFunctionRef
	ObjectTypeObject
)

// FunctionRef is the heap object MOV_FNC allocates: a closure binding a
// captured lexical parent to an absolute instruction index.
type FunctionRef struct {
	ParentActivation *Activation
	InstructionIndex uint64
}

// objectManager is the registry mapping opaque pointer handles to the kind
// of object they reference, letting guessType recover a primitive-vs-pointer
// distinction for any Value. Heap objects (strings, FunctionRef closures)
// are ordinary Go values reached through these maps, not an arena: a handle
// is just a lookup key, and FunctionRef itself holds a direct *Activation
// pointer rather than an index into anything. It is owned by the VM rather
// than a package global, since every example in the pack that keeps
// "process-wide" state (the teacher's device registry, vm_shared.cpp's
// global stack/native table) still scopes it to one running VM instance
// rather than a true package-level global.
type objectManager struct {
	mu      sync.Mutex
	kinds   map[uint64]ObjectKind
	strings map[uint64]string
	fnRefs  map[uint64]*FunctionRef
	nextID  uint64
}

func newObjectManager() *objectManager {
	return &objectManager{
		kinds:   make(map[uint64]ObjectKind),
		strings: make(map[uint64]string),
		fnRefs:  make(map[uint64]*FunctionRef),
	}
}

// allocHandle reserves the next 8-byte-aligned pointer handle. Every handle
// is a multiple of 8 so Value's low-three-bits tag test can distinguish it
// from a boxed primitive.
func (m *objectManager) allocHandle() uint64 {
	m.nextID += 8
	return m.nextID
}

// registerString interns s under a fresh handle and returns the pointer
// Value referencing it, mirroring object_manager_register_string.
func (m *objectManager) registerString(s string) Value {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle := m.allocHandle()
	m.strings[handle] = s
	m.kinds[handle] = ObjectString
	return pvalue(handle)
}

func (m *objectManager) lookupString(v Value) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strings[v.asPointer()]
	return s, ok
}

// createFunctionRef allocates a closure object and returns the pointer
// Value referencing it, mirroring object_manager_create_fn_ref.
func (m *objectManager) createFunctionRef(parent *Activation, instructionIndex uint64) Value {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle := m.allocHandle()
	m.fnRefs[handle] = &FunctionRef{ParentActivation: parent, InstructionIndex: instructionIndex}
	m.kinds[handle] = ObjectFunctionRef
	return pvalue(handle)
}

func (m *objectManager) lookupFunctionRef(v Value) (*FunctionRef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.fnRefs[v.asPointer()]
	return ref, ok
}

// guessType inspects the low three bits of v the way object_manager_guess_type
// does: non-zero means a boxed primitive whose kind lives in the low 32 bits,
// zero means a registered pointer whose kind is looked up in the registry (or
// ObjectUnknown if v was never allocated by this manager).
func (m *objectManager) guessType(v Value) ObjectKind {
	if v.isPrimitive() {
		switch v.primitiveKind() {
		case primitiveInt:
			return ObjectInt
		case primitiveDecimal:
			return ObjectDecimal
		case primitiveBoolean:
			return ObjectBoolean
		default:
			return ObjectUnknown
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kind, ok := m.kinds[v.asPointer()]
	if !ok {
		return ObjectUnknown
	}
	return kind
}
