package vm

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// stackMax is the fixed capacity of the auxiliary value stack, matching the
// reference source's STACK_MAX (100000 slots).
const stackMax = 100000

// nativeFunc is the signature of a built-in function reachable through
// CALL_NATIVE. It is handed the VM so it can pop its own arguments off the
// aux stack (print's contract: pop exactly one value) and, where relevant,
// talk to the device bus.
type nativeFunc func(vm *VM) (Value, error)

// callFrame is the Go-side call bookkeeping record pushed by CALL and popped
// by RET. It replaces the reference source's practice of interleaving argc/
// caller-context/ret-idx/parent-pointer words into the same flat value stack
// that holds arguments; see DESIGN.md's ARG_READ decision for why this is an
// observably faithful narrowing rather than a semantic change.
type callFrame struct {
	callerActivation *Activation
	retIdx           uint64
	argc             uint64
	argsBase         int
	retPC            int
}

// VM is the execution engine shared by the threaded interpreter (C6) and the
// baseline JIT (C7): the aux value stack, the current activation, the call
// stack, the object manager, the native function table, and the device bus.
type VM struct {
	program []*Instruction
	pc      int

	auxStack [stackMax]Value
	sp       int

	current *Activation
	frames  []callFrame

	// pendingParent carries the captured lexical parent from CALL through to
	// the callee's FN_ENTER_* instruction, which consumes it into the new
	// activation's Parent field.
	pendingParent *Activation

	callDepth int
	halted    bool
	errcode   error

	objects *objectManager
	natives []nativeFunc
	devices *deviceBus

	stdout *bufio.Writer
	stdin  *bufio.Reader
}

// NewVM constructs a VM ready to execute program, with stdout/stdin wired to
// the process's standard streams. Use NewVMWithIO for tests that need to
// capture output or script input.
func NewVM(program *Program) *VM {
	return NewVMWithIO(program, os.Stdout, os.Stdin)
}

// NewVMWithIO constructs a VM with an explicit output sink and input source,
// used by tests to assert on captured stdout instead of the live terminal.
func NewVMWithIO(program *Program, stdout io.Writer, stdin io.Reader) *VM {
	vm := &VM{
		program: program.ResolvedInstructions(),
		objects: newObjectManager(),
		stdout:  bufio.NewWriter(stdout),
		stdin:   bufio.NewReader(stdin),
	}
	vm.devices = newDeviceBus(vm)
	vm.natives = []nativeFunc{
		nativePrint,
		nativeClockRead,
		nativeShutdown,
		nativeConsoleRead,
	}
	vm.setInitialState()
	return vm
}

// setInitialState (re)initializes the VM's run state. There is no activation
// yet: the program's very first instruction is always FN_ENTER_HEAP/STACK,
// which seeds the activation it creates with the native function indices
// (see seedNatives) exactly because pendingParent is nil here, mirroring
// init_call_context's "parent_context == nullptr" case rather than
// pre-building a throwaway root activation that the first FN_ENTER would
// immediately discard in favor of its own. Also used by the power
// controller's restart command to reset VM state in place.
func (vm *VM) setInitialState() {
	vm.current = nil
	vm.frames = nil
	vm.pendingParent = nil
	vm.sp = 0
	vm.pc = 0
	vm.callDepth = 0
	vm.halted = false
	vm.errcode = nil
}

// seedNatives installs the native function indices into act's slots 1..N,
// the GET_IN_PARENT depth,1+i lookup front-end-generated code uses to reach
// them. They are ordinary boxed ints, the same representation MOV_INT
// produces, so CALL_NATIVE's operand slot decodes one way regardless of
// whether it got there via GET_IN_PARENT or a literal MOV_INT. Bounded by
// act's own slot count rather than trusting the requested frame size, since
// act is sized by whatever FN_ENTER_* instruction the program supplied.
func (vm *VM) seedNatives(act *Activation) {
	for i := range vm.natives {
		if 1+i >= len(act.Slots) {
			break
		}
		act.Slots[1+i] = ivalue(int32(i))
	}
}

func (vm *VM) push(v Value) {
	if vm.sp >= len(vm.auxStack) {
		vm.errcode = fatalf(errStackOverflow, "aux stack overflow at pc=%d", vm.pc)
		vm.halted = true
		return
	}
	vm.auxStack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() Value {
	if vm.sp <= 0 {
		vm.errcode = fatalf(errStackUnderflow, "aux stack underflow at pc=%d", vm.pc)
		vm.halted = true
		return 0
	}
	vm.sp--
	return vm.auxStack[vm.sp]
}

// newStackActivation carves n slots directly out of the aux stack starting
// at the current stack pointer and advances sp past them. Because the slots
// are a slice into the pre-allocated auxStack array rather than a `make`,
// leaf functions (which always take this path; see FN_ENTER_STACK) never
// allocate slot storage on the heap per call; only the small Activation
// header itself is allocated.
func (vm *VM) newStackActivation(n uint64) *Activation {
	start := vm.sp
	end := start + int(n)
	if end > len(vm.auxStack) {
		vm.errcode = fatalf(errStackOverflow, "aux stack overflow allocating %d-slot activation", n)
		vm.halted = true
		return &Activation{Slots: make([]Value, n)}
	}
	vm.sp = end
	return &Activation{Slots: vm.auxStack[start:end:end]}
}

func (vm *VM) newHeapActivation(n uint64) *Activation {
	return &Activation{Slots: make([]Value, n)}
}

// nativePrint is native index 0: pop one value, use the object manager to
// discover its kind, write its text form plus a newline through the console
// device, and return the int zero the reference implementation returns.
func nativePrint(vm *VM) (Value, error) {
	v := vm.pop()
	if vm.errcode != nil {
		return 0, vm.errcode
	}
	text := vm.formatValue(v)
	vm.devices.console.writeString(text + "\n")
	return ivalue(0), nil
}

func (vm *VM) formatValue(v Value) string {
	switch vm.objects.guessType(v) {
	case ObjectInt:
		return fmt.Sprintf("%d", v.asInt())
	case ObjectDecimal:
		return fmt.Sprintf("%v", v.asDecimal())
	case ObjectBoolean:
		return fmt.Sprintf("%v", v.asBool())
	case ObjectString:
		s, _ := vm.objects.lookupString(v)
		return s
	case ObjectFunctionRef:
		return "<function>"
	default:
		return fmt.Sprintf("<object %d>", v.asPointer())
	}
}

// nativeClockRead is native index 1: ask the system timer device for the
// current tick count.
func nativeClockRead(vm *VM) (Value, error) {
	tick := vm.devices.timer.readTick()
	return ivalue(int32(tick)), nil
}

// nativeShutdown is native index 2: request a controlled VM halt through the
// power controller, distinguishing "the program asked to stop" from "ran off
// the end of the instruction stream" (errProgramFinished).
func nativeShutdown(vm *VM) (Value, error) {
	vm.devices.power.shutdown()
	vm.errcode = errSystemShutdown
	vm.halted = true
	return ivalue(0), nil
}

// nativeConsoleRead is native index 3: read one character from console
// input through the console device, the only routine in the process
// permitted to touch stdin directly.
func nativeConsoleRead(vm *VM) (Value, error) {
	r, err := vm.devices.console.readRune()
	if err != nil {
		return 0, fatalf(errIO, "console read: %v", err)
	}
	return ivalue(int32(r)), nil
}
