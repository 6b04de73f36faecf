package vm

// Opcode enumerates every instruction the bytecode generator (C3) can emit
// and the handler table (C8) can execute. Ordering matches the original
// reference instruction set exactly; nothing here is free to renumber since
// MOV_FNC/JMP* operands serialize as raw instruction indices that must agree
// with whatever table produced them.
type Opcode uint16

const (
	NoOpcode Opcode = iota
	Label
	FnEnterHeap
	FnEnterStack
	Jmp
	JmpTrue
	JmpFalse
	Mov
	MovFnc
	MovInt
	MovNull
	MovBoolean
	MovDecimal
	MovString
	Call
	CallNative
	AddInt
	AddString
	AddDecimal
	SubInt
	SubDecimal
	DivInt
	DivDecimal
	MulInt
	MulDecimal
	ModInt
	ModDecimal
	CmpEq
	CmpNeq
	CmpGtInt
	CmpGtDecimal
	CmpLtInt
	CmpLtDecimal
	CmpGteInt
	CmpGteDecimal
	CmpLteInt
	CmpLteDecimal
	CastDecimal
	NegInt
	NegDecimal
	Push
	Pop
	ArgRead
	GetInParent
	GetInObject
	SetInParent
	SetInObject
	Ret
)

// OperandKind is the semantic type of one operand slot of an instruction, as
// driven by the instruction descriptor table. It is the single source of
// truth consulted by the bytecode generator (what it's allowed to emit), the
// serializer (how to resolve it to a final word), and the JIT (how to bind it
// to a host register or immediate).
type OperandKind int

const (
	ImmInt OperandKind = iota
	ImmDecimal
	ImmString
	ImmAddress
	Index
	Unused
)

// OpcodeCategory groups opcodes that need special handling by the
// interpreter preparation pass and the JIT, beyond plain per-opcode dispatch.
type OpcodeCategory int

const (
	CategoryOther OpcodeCategory = iota
	CategoryFunctionEnter
	CategoryJump
	CategoryComparison
)

// InstructionDescriptor is one row of the instruction descriptor table.
type InstructionDescriptor struct {
	Category OpcodeCategory
	Op1Type  OperandKind
	Op2Type  OperandKind
	DestType OperandKind
}

// descriptorTable is the authoritative per-opcode descriptor table. Every
// opcode the generator can emit must have an entry here; Label and NoOpcode
// are pseudo-entries that never reach the serializer as real instructions.
var descriptorTable = map[Opcode]InstructionDescriptor{
	Ret:          {CategoryOther, Unused, Unused, ImmInt},
	SetInObject:  {CategoryOther, ImmInt, ImmInt, Index},
	SetInParent:  {CategoryOther, ImmInt, Index, Index},
	GetInObject:  {CategoryOther, Index, Index, Index},
	GetInParent:  {CategoryOther, ImmInt, ImmInt, Index},
	ArgRead:      {CategoryOther, ImmInt, Unused, Index},
	Push:         {CategoryOther, Index, Unused, Unused},
	Pop:          {CategoryOther, Index, Unused, Unused},
	NegDecimal:   {CategoryOther, Index, Unused, Index},
	NegInt:       {CategoryOther, Index, Unused, Index},
	CmpEq:        {CategoryComparison, Index, Index, Index},
	CmpNeq:       {CategoryComparison, Index, Index, Index},
	CmpGtInt:     {CategoryComparison, Index, Index, Index},
	CmpGtDecimal: {CategoryComparison, Index, Index, Index},
	CmpLtInt:     {CategoryComparison, Index, Index, Index},
	CmpLtDecimal: {CategoryComparison, Index, Index, Index},
	CmpGteInt:    {CategoryComparison, Index, Index, Index},
	CmpGteDecimal: {CategoryComparison, Index, Index, Index},
	CmpLteInt:    {CategoryComparison, Index, Index, Index},
	CmpLteDecimal: {CategoryComparison, Index, Index, Index},
	CastDecimal:  {CategoryOther, Index, Unused, Index},
	ModDecimal:   {CategoryOther, Index, Index, Index},
	ModInt:       {CategoryOther, Index, Index, Index},
	MulDecimal:   {CategoryOther, Index, Index, Index},
	MulInt:       {CategoryOther, Index, Index, Index},
	DivDecimal:   {CategoryOther, Index, Index, Index},
	DivInt:       {CategoryOther, Index, Index, Index},
	SubDecimal:   {CategoryOther, Index, Index, Index},
	SubInt:       {CategoryOther, Index, Index, Index},
	AddDecimal:   {CategoryOther, Index, Index, Index},
	AddString:    {CategoryOther, Index, Index, Index},
	AddInt:       {CategoryOther, Index, Index, Index},
	CallNative:   {CategoryOther, Index, Index, Index},
	Call:         {CategoryOther, ImmInt, ImmInt, ImmInt},
	Mov:          {CategoryOther, Index, Unused, Index},
	MovFnc:       {CategoryOther, ImmAddress, Unused, Index},
	MovNull:      {CategoryOther, Unused, Unused, Index},
	MovInt:       {CategoryOther, ImmInt, Unused, Index},
	MovBoolean:   {CategoryOther, ImmInt, Unused, Index},
	MovDecimal:   {CategoryOther, ImmDecimal, Unused, Index},
	MovString:    {CategoryOther, ImmString, Unused, Index},
	JmpTrue:      {CategoryJump, Index, Unused, ImmAddress},
	JmpFalse:     {CategoryJump, Index, Unused, ImmAddress},
	Jmp:          {CategoryJump, Unused, Unused, ImmAddress},
	FnEnterStack: {CategoryFunctionEnter, ImmInt, Unused, Unused},
	FnEnterHeap:  {CategoryFunctionEnter, ImmInt, Unused, Unused},
}

// simpleJITOpcodes is the set of opcodes the baseline JIT (C7) inlines
// directly instead of calling into the shared handler table.
var simpleJITOpcodes = map[Opcode]bool{
	AddInt:      true,
	ModInt:      true,
	CmpLtInt:    true,
	CmpLteInt:   true,
	CmpEq:       true,
	Mov:         true,
	MovInt:      true,
	MovDecimal:  true,
	Jmp:         true,
}

var opcodeNames = map[Opcode]string{
	NoOpcode:      "nop",
	Label:         "label",
	FnEnterHeap:   "fn_enter_heap",
	FnEnterStack:  "fn_enter_stack",
	Jmp:           "jmp",
	JmpTrue:       "jmp_true",
	JmpFalse:      "jmp_false",
	Mov:           "mov",
	MovFnc:        "mov_fnc",
	MovInt:        "mov_int",
	MovNull:       "mov_null",
	MovBoolean:    "mov_boolean",
	MovDecimal:    "mov_decimal",
	MovString:     "mov_string",
	Call:          "call",
	CallNative:    "call_native",
	AddInt:        "add_int",
	AddString:     "add_string",
	AddDecimal:    "add_decimal",
	SubInt:        "sub_int",
	SubDecimal:    "sub_decimal",
	DivInt:        "div_int",
	DivDecimal:    "div_decimal",
	MulInt:        "mul_int",
	MulDecimal:    "mul_decimal",
	ModInt:        "mod_int",
	ModDecimal:    "mod_decimal",
	CmpEq:         "cmp_eq",
	CmpNeq:        "cmp_neq",
	CmpGtInt:      "cmp_gt_int",
	CmpGtDecimal:  "cmp_gt_decimal",
	CmpLtInt:      "cmp_lt_int",
	CmpLtDecimal:  "cmp_lt_decimal",
	CmpGteInt:     "cmp_gte_int",
	CmpGteDecimal: "cmp_gte_decimal",
	CmpLteInt:     "cmp_lte_int",
	CmpLteDecimal: "cmp_lte_decimal",
	CastDecimal:   "cast_decimal",
	NegInt:        "neg_int",
	NegDecimal:    "neg_decimal",
	Push:          "push",
	Pop:           "pop",
	ArgRead:       "arg_read",
	GetInParent:   "get_in_parent",
	GetInObject:   "get_in_object",
	SetInParent:   "set_in_parent",
	SetInObject:   "set_in_object",
	Ret:           "ret",
}

var namesToOpcode = map[string]Opcode{}

func init() {
	for op, name := range opcodeNames {
		namesToOpcode[name] = op
	}
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "unknown"
}

// descriptor looks up an opcode's descriptor, returning ok=false for Label,
// NoOpcode, or anything else absent from the table.
func (op Opcode) descriptor() (InstructionDescriptor, bool) {
	d, ok := descriptorTable[op]
	return d, ok
}

// numOperands reports how many of op1/op2/dest are meaningful. The text
// assembler (C9) reads exactly this many tokens, in op1/op2/dest order
// skipping Unused slots, the same way the teacher's NumRequiredOpArgs/
// NumOptionalOpArgs validated its own instruction set's operand counts.
func (op Opcode) numOperands() int {
	d, ok := op.descriptor()
	if !ok {
		return 0
	}
	n := 0
	if d.Op1Type != Unused {
		n++
	}
	if d.Op2Type != Unused {
		n++
	}
	if d.DestType != Unused {
		n++
	}
	return n
}
