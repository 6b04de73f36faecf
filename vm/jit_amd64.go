//go:build amd64

package vm

import (
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
	"golang.org/x/sys/unix"
)

// jitcall enters compiled code at codeSegment, with engine available through
// the dedicated engine register initialized by the trampoline. It is
// implemented in jit_trampoline_amd64.s as a JMP, not a CALL, into
// codeSegment: compiled code's own RET therefore returns directly to
// whichever Go frame called jitcall, exactly as if jitcall's call to it were
// a tail call. This is what lets compiled code "return to Go" with a plain
// RET instead of needing a matched CALL/RET pair that a hand-assembled
// function has no safe way to set up against Go's ABI. See DESIGN.md's "JIT
// call-into-Go strategy" entry.
func jitcall(codeSegment, engine uintptr)

// jitEngine is the fixed-layout block of state compiled code reads and
// writes directly, playing the role the reference source's raw function
// pointers and r12-pinned activation pointer play in baseline_jitter.cpp.
// Its field offsets are baked into the generated machine code at compile
// time via unsafe.Offsetof, so field order must not change without
// recompiling (mentally) every emitted MOV.
type jitEngine struct {
	// activationBase is &vm.current.Slots[0], refreshed by Run before every
	// jitcall since FN_ENTER_*/RET (dispatched back to Go) can swap
	// vm.current out from under compiled code.
	activationBase uintptr
	// status is set by compiled code immediately before a RET that hands
	// control back to the trampoline loop in Run.
	status uint64
	// resumeIndex is the bytecode instruction index of the non-inlined
	// opcode compiled code wants the Go-side handler table to execute next
	// (see jitStatusDispatchPending).
	resumeIndex uint64
}

// jitStatusDispatchPending is the only status compiled code ever writes:
// compiled code hit an opcode it does not inline, so Run must execute
// handlerTable[program[resumeIndex].Opcode] itself (the exact opcode the
// threaded interpreter would have run), then resume compiled code at
// vm.pc - which covers FN_ENTER_*/CALL/RET ending the program too, since
// those handlers set vm.halted themselves and Run's loop condition catches it.
const jitStatusDispatchPending uint64 = 1

var (
	offActivationBase = unsafe.Offsetof(jitEngine{}.activationBase)
	offStatus         = unsafe.Offsetof(jitEngine{}.status)
	offResumeIndex    = unsafe.Offsetof(jitEngine{}.resumeIndex)
)

// Reserved host registers, pinned for the lifetime of one jitcall the way
// the reference source pins r12 to the current activation base and the way
// the wazero reference pins r12/r14 to its engine/stack-base pointers.
const (
	engineReg         = x86.REG_R13
	activationBaseReg = x86.REG_R12
)

// BaselineJIT is a compiled form of a resolved Program: one mmap'd
// executable page per compiled program, entered and re-entered through
// jitcall. It implements the same instruction semantics as the threaded
// interpreter (C6), diverging only in dispatch strategy, and is only ever
// constructed when runtime.GOARCH is amd64 (NewBaselineJIT on any other
// architecture lives in jit_other.go and always errors).
type BaselineJIT struct {
	code         []byte
	instrEntries []uintptr // host address of each bytecode instruction's compiled entry point
}

// NewBaselineJIT compiles every instruction in instrs (already label-
// resolved; see Program.ResolvedInstructions) ahead of time. Compilation
// follows the six-step strategy worked out for this instruction set: bind
// one host entry point per bytecode instruction, inline the opcodes in
// simpleJITOpcodes directly against the activation-base register, fuse a
// CMP immediately followed by JMP_TRUE/JMP_FALSE into a single compare-and-
// branch, and for everything else hand control back to Go via
// jitStatusDispatchPending.
func NewBaselineJIT(instrs []*Instruction) (*BaselineJIT, error) {
	b, err := asm.NewBuilder("amd64", len(instrs)*48+64)
	if err != nil {
		return nil, errors.Wrap(err, "create assembler")
	}

	c := &jitCompiler{builder: b, instrs: instrs}
	c.anchors = make([]*obj.Prog, len(instrs))
	for i := range instrs {
		c.anchors[i] = b.NewProg()
		c.anchors[i].As = obj.ANOP
	}

	for i := 0; i < len(instrs); {
		consumed := c.compileAt(i)
		i += consumed
	}

	raw := b.Assemble()
	code, err := mmapExecutable(raw)
	if err != nil {
		return nil, err
	}

	entries := make([]uintptr, len(instrs))
	base := uintptr(unsafe.Pointer(&code[0]))
	for i, anchor := range c.anchors {
		entries[i] = base + uintptr(anchor.Pc)
	}

	return &BaselineJIT{code: code, instrEntries: entries}, nil
}

// Run drives compiled code to completion, alternating between jitcall (pure
// machine code, for the inlined fast-path opcodes) and ordinary Go handler
// dispatch (for everything compiled code declined to inline), exactly
// mirroring the handler table the threaded interpreter uses for those same
// opcodes. See DESIGN.md's "JIT call-into-Go strategy" entry for why control
// returns to Go instead of compiled code calling the handler directly.
func (j *BaselineJIT) Run(vm *VM) (err error) {
	defer func() {
		if err == nil && vm.errcode != nil && vm.errcode != errProgramFinished && vm.errcode != errSystemShutdown {
			err = vm.errcode
		}
	}()
	defer vm.recoverSegfault()
	eng := &jitEngine{}

	for !vm.halted {
		if vm.pc < 0 || vm.pc >= len(j.instrEntries) {
			vm.errcode = errProgramFinished
			vm.halted = true
			break
		}
		eng.activationBase = uintptr(unsafe.Pointer(&vm.current.Slots[0]))
		eng.resumeIndex = uint64(vm.pc)
		eng.status = 0

		jitcall(j.instrEntries[vm.pc], uintptr(unsafe.Pointer(eng)))

		switch eng.status {
		case jitStatusDispatchPending:
			instr := vm.program[eng.resumeIndex]
			h := handlerTable[instr.Opcode]
			if h == nil {
				vm.errcode = fatalf(errUnknownInstruction, "opcode %s at pc=%d", instr.Opcode, eng.resumeIndex)
				vm.halted = true
				break
			}
			_ = h(vm, instr)
		default:
			vm.errcode = fatalf(errSegmentationFault, "jit returned unknown status %d", eng.status)
			vm.halted = true
		}
	}

	if vm.errcode == errProgramFinished || vm.errcode == errSystemShutdown {
		return nil
	}
	return vm.errcode
}

// jitCompiler holds the mutable state threaded through compilation of one
// program: the assembler builder and the anchor (a bare ANOP) bound to each
// bytecode instruction index so jumps - forward or backward - can always
// resolve their target immediately, the way the text assembler's label
// table resolves ImmAddress operands up front.
type jitCompiler struct {
	builder *asm.Builder
	instrs  []*Instruction
	anchors []*obj.Prog
}

func (c *jitCompiler) prog() *obj.Prog {
	return c.builder.NewProg()
}

func (c *jitCompiler) emit(p *obj.Prog) {
	c.builder.AddInstruction(p)
}

// compileAt emits the anchor and body for instrs[i], returning how many
// source instructions it consumed (2 when the CMP+JMP_TRUE/JMP_FALSE
// peephole fires, 1 otherwise).
func (c *jitCompiler) compileAt(i int) int {
	c.emit(c.anchors[i])
	// Reload activationBaseReg from the engine struct at every instruction
	// entry point: jitcall only establishes engineReg (see
	// jit_trampoline_amd64.s), and any anchor can be jumped to directly
	// without having fallen through from the instruction before it.
	p := c.prog()
	p.As = x86.AMOVQ
	p.From = obj.Addr{Type: obj.TYPE_MEM, Reg: engineReg, Offset: int64(offActivationBase)}
	p.To = regAddr(activationBaseReg)
	c.emit(p)

	instr := c.instrs[i]

	// Fusing skips emitting an anchor for the JMP_TRUE/JMP_FALSE instruction
	// itself, so nothing else in the program may target it as a jump
	// destination - true of every JMP_TRUE/JMP_FALSE the bytecode generator
	// (C3) emits, since each guards exactly one comparison it immediately
	// follows and is never a label target on its own.
	if simpleJITOpcodes[instr.Opcode] && isComparisonOpcode(instr.Opcode) && i+1 < len(c.instrs) {
		next := c.instrs[i+1]
		if next.Opcode == JmpTrue || next.Opcode == JmpFalse {
			c.compileFusedCompareBranch(instr, next)
			return 2
		}
	}

	if simpleJITOpcodes[instr.Opcode] {
		c.compileSimple(instr)
		return 1
	}

	c.compileDispatch(uint64(i))
	return 1
}

func isComparisonOpcode(op Opcode) bool {
	d, ok := op.descriptor()
	return ok && d.Category == CategoryComparison
}

// slotAddr builds an operand addressing slot idx of the current activation:
// [activationBaseReg + idx*8], mirroring the reference JIT's
// x86::dword_ptr(x86::r12, offset) against a word-sized (here, 8-byte) slot.
func slotAddr(idx uint64) obj.Addr {
	return obj.Addr{Type: obj.TYPE_MEM, Reg: activationBaseReg, Offset: int64(idx * 8)}
}

func regAddr(reg int16) obj.Addr {
	return obj.Addr{Type: obj.TYPE_REG, Reg: reg}
}

func constAddr(v int64) obj.Addr {
	return obj.Addr{Type: obj.TYPE_CONST, Offset: v}
}

func (c *jitCompiler) movQ(from, to obj.Addr) {
	p := c.prog()
	p.As = x86.AMOVQ
	p.From = from
	p.To = to
	c.emit(p)
}

// compileSimple inlines one of the nine opcodes simpleJITOpcodes names,
// operating directly on activation slots through activationBaseReg per the
// codegen strategy's inlining rule.
func (c *jitCompiler) compileSimple(instr *Instruction) {
	switch instr.Opcode {
	case Mov:
		c.movQ(slotAddr(instr.Op1), regAddr(x86.REG_AX))
		c.movQ(regAddr(x86.REG_AX), slotAddr(instr.Dest))
	case MovInt:
		c.movQ(constAddr(int64(uint64(ivalue(int32(instr.Op1))))), slotAddr(instr.Dest))
	case MovDecimal:
		c.movQ(constAddr(int64(uint64(dvalue(float32(instr.Op1Decimal))))), slotAddr(instr.Dest))
	case AddInt:
		c.compileIntBinary(instr, x86.AADDL)
	case ModInt:
		c.compileIntMod(instr)
	case CmpLtInt:
		c.compileIntCompare(instr, x86.ASETLT)
	case CmpLteInt:
		c.compileIntCompare(instr, x86.ASETLE)
	case CmpEq:
		c.compileWordCompare(instr, x86.ASETEQ)
	case Jmp:
		p := c.prog()
		p.As = obj.AJMP
		p.To = obj.Addr{Type: obj.TYPE_BRANCH}
		p.To.SetTarget(c.anchors[instr.Dest])
		c.emit(p)
	default:
		panic(fmt.Sprintf("jit: %s declared simple but has no inliner", instr.Opcode))
	}
}

// compileIntBinary loads two boxed-int slots' 32-bit payloads (the high 32
// bits of the tagged word; see value.go), combines them with a 32-bit ALU
// op, and re-boxes the result with the int tag - the payload/tag split makes
// re-boxing a shift-and-OR instead of a full constructor call.
func (c *jitCompiler) compileIntBinary(instr *Instruction, op obj.As) {
	c.movQ(slotAddr(instr.Op1), regAddr(x86.REG_AX))
	p := c.prog()
	p.As = x86.ASARQ
	p.From = constAddr(32)
	p.To = regAddr(x86.REG_AX)
	c.emit(p)

	c.movQ(slotAddr(instr.Op2), regAddr(x86.REG_CX))
	p = c.prog()
	p.As = x86.ASARQ
	p.From = constAddr(32)
	p.To = regAddr(x86.REG_CX)
	c.emit(p)

	p = c.prog()
	p.As = op
	p.From = regAddr(x86.REG_CX)
	p.To = regAddr(x86.REG_AX)
	c.emit(p)

	c.reboxInt(x86.REG_AX)
	c.movQ(regAddr(x86.REG_AX), slotAddr(instr.Dest))
}

func (c *jitCompiler) compileIntMod(instr *Instruction) {
	c.movQ(slotAddr(instr.Op1), regAddr(x86.REG_AX))
	p := c.prog()
	p.As = x86.ASARQ
	p.From = constAddr(32)
	p.To = regAddr(x86.REG_AX)
	c.emit(p)

	c.movQ(slotAddr(instr.Op2), regAddr(x86.REG_CX))
	p = c.prog()
	p.As = x86.ASARQ
	p.From = constAddr(32)
	p.To = regAddr(x86.REG_CX)
	c.emit(p)

	p = c.prog()
	p.As = x86.ACDQ
	c.emit(p)

	p = c.prog()
	p.As = x86.AIDIVL
	p.From = regAddr(x86.REG_CX)
	c.emit(p)

	// remainder lands in DX; move it into AX before reboxing.
	c.movQ(regAddr(x86.REG_DX), regAddr(x86.REG_AX))
	c.reboxInt(x86.REG_AX)
	c.movQ(regAddr(x86.REG_AX), slotAddr(instr.Dest))
}

// reboxInt turns a plain 32-bit (sign-extended into reg's low 32 bits)
// result into a tagged int Value: shift the payload into the high 32 bits
// and OR in the primitiveInt tag.
func (c *jitCompiler) reboxInt(reg int16) {
	p := c.prog()
	p.As = x86.ASHLQ
	p.From = constAddr(32)
	p.To = regAddr(reg)
	c.emit(p)

	p = c.prog()
	p.As = x86.AORQ
	p.From = constAddr(int64(primitiveInt))
	p.To = regAddr(reg)
	c.emit(p)
}

// compileIntCompare and compileWordCompare write a boxed boolean (tag
// primitiveBoolean, payload 0/1) to dest, leaving AX holding that boxed
// value. The fused compare-and-branch path (compileFusedCompareBranch)
// branches on the host flags instead and does not go through them.
func (c *jitCompiler) compileIntCompare(instr *Instruction, setcc obj.As) {
	c.movQ(slotAddr(instr.Op1), regAddr(x86.REG_AX))
	p := c.prog()
	p.As = x86.ASARQ
	p.From = constAddr(32)
	p.To = regAddr(x86.REG_AX)
	c.emit(p)

	c.movQ(slotAddr(instr.Op2), regAddr(x86.REG_CX))
	p = c.prog()
	p.As = x86.ASARQ
	p.From = constAddr(32)
	p.To = regAddr(x86.REG_CX)
	c.emit(p)

	p = c.prog()
	p.As = x86.ACMPL
	p.From = regAddr(x86.REG_AX)
	p.To = regAddr(x86.REG_CX)
	c.emit(p)

	c.setAndBoxBool(setcc)
	c.movQ(regAddr(x86.REG_AX), slotAddr(instr.Dest))
}

func (c *jitCompiler) compileWordCompare(instr *Instruction, setcc obj.As) {
	c.movQ(slotAddr(instr.Op1), regAddr(x86.REG_AX))
	c.movQ(slotAddr(instr.Op2), regAddr(x86.REG_CX))
	p := c.prog()
	p.As = x86.ACMPQ
	p.From = regAddr(x86.REG_AX)
	p.To = regAddr(x86.REG_CX)
	c.emit(p)

	c.setAndBoxBool(setcc)
	c.movQ(regAddr(x86.REG_AX), slotAddr(instr.Dest))
}

// setAndBoxBool leaves a zero-extended 0/1 in AX, then boxes it into AX as a
// primitiveBoolean Value.
func (c *jitCompiler) setAndBoxBool(setcc obj.As) {
	p := c.prog()
	p.As = setcc
	p.To = regAddr(x86.REG_AX)
	c.emit(p)

	p = c.prog()
	p.As = x86.AMOVBLZX
	p.From = regAddr(x86.REG_AX)
	p.To = regAddr(x86.REG_AX)
	c.emit(p)

	c.reboxBool(x86.REG_AX)
}

func (c *jitCompiler) reboxBool(reg int16) {
	p := c.prog()
	p.As = x86.ASHLQ
	p.From = constAddr(32)
	p.To = regAddr(reg)
	c.emit(p)

	p = c.prog()
	p.As = x86.AORQ
	p.From = constAddr(int64(primitiveBoolean))
	p.To = regAddr(reg)
	c.emit(p)
}

// compileFusedCompareBranch implements the spec's peephole: a CMP opcode
// immediately followed by JMP_TRUE or JMP_FALSE skips re-testing the
// comparison's boxed result and branches directly off the host flags the
// CMP instruction already set.
func (c *jitCompiler) compileFusedCompareBranch(cmp, jump *Instruction) {
	switch cmp.Opcode {
	case CmpLtInt, CmpLteInt:
		c.movQ(slotAddr(cmp.Op1), regAddr(x86.REG_AX))
		p := c.prog()
		p.As = x86.ASARQ
		p.From = constAddr(32)
		p.To = regAddr(x86.REG_AX)
		c.emit(p)

		c.movQ(slotAddr(cmp.Op2), regAddr(x86.REG_CX))
		p = c.prog()
		p.As = x86.ASARQ
		p.From = constAddr(32)
		p.To = regAddr(x86.REG_CX)
		c.emit(p)

		p = c.prog()
		p.As = x86.ACMPL
		p.From = regAddr(x86.REG_AX)
		p.To = regAddr(x86.REG_CX)
		c.emit(p)
	case CmpEq:
		c.movQ(slotAddr(cmp.Op1), regAddr(x86.REG_AX))
		c.movQ(slotAddr(cmp.Op2), regAddr(x86.REG_CX))
		p := c.prog()
		p.As = x86.ACMPQ
		p.From = regAddr(x86.REG_AX)
		p.To = regAddr(x86.REG_CX)
		c.emit(p)
	default:
		panic(fmt.Sprintf("jit: %s is not a fusable comparison", cmp.Opcode))
	}

	var branchIfTrue obj.As
	switch cmp.Opcode {
	case CmpLtInt:
		branchIfTrue = x86.AJLT
	case CmpLteInt:
		branchIfTrue = x86.AJLE
	case CmpEq:
		branchIfTrue = x86.AJEQ
	}

	taken := branchIfTrue
	if jump.Opcode == JmpFalse {
		taken = invertJump(branchIfTrue)
	}

	p := c.prog()
	p.As = taken
	p.To = obj.Addr{Type: obj.TYPE_BRANCH}
	p.To.SetTarget(c.anchors[jump.Dest])
	c.emit(p)
}

func invertJump(as obj.As) obj.As {
	switch as {
	case x86.AJLT:
		return x86.AJGE
	case x86.AJLE:
		return x86.AJGT
	case x86.AJEQ:
		return x86.AJNE
	default:
		panic("jit: no inverse registered for jump condition")
	}
}

// compileDispatch is the fallback path used for every opcode the codegen
// strategy does not inline (FN_ENTER_*, CALL, RET, every non-inlined
// arithmetic/comparison opcode, and JMP_TRUE/JMP_FALSE when not fused into
// the peephole above): write which instruction Go should run, signal
// jitStatusDispatchPending, and return to the trampoline.
func (c *jitCompiler) compileDispatch(index uint64) {
	p := c.prog()
	p.As = x86.AMOVQ
	p.From = constAddr(int64(index))
	p.To = obj.Addr{Type: obj.TYPE_MEM, Reg: engineReg, Offset: int64(offResumeIndex)}
	c.emit(p)

	p = c.prog()
	p.As = x86.AMOVQ
	p.From = constAddr(int64(jitStatusDispatchPending))
	p.To = obj.Addr{Type: obj.TYPE_MEM, Reg: engineReg, Offset: int64(offStatus)}
	c.emit(p)

	p = c.prog()
	p.As = obj.ARET
	c.emit(p)
}

// mmapExecutable copies code into a freshly mapped RWX page. Production
// hardening would map RW, write, then mprotect to RX, but this program never
// patches code after Assemble returns it, so a single MAP_PRIVATE|MAP_ANON
// mapping created PROT_EXEC from the start (as the codegen spec allows) is
// enough.
func mmapExecutable(code []byte) ([]byte, error) {
	if len(code) == 0 {
		return nil, errors.New("jit: empty code buffer")
	}
	mem, err := unix.Mmap(-1, 0, len(code), unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(err, "mmap executable page")
	}
	copy(mem, code)
	return mem, nil
}
