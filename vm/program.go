package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Instruction is the 4-tuple (opcode, op1, op2, destination) described by the
// data model, generalized with separate label/decimal/string carrier fields
// standing in for the reference source's operand unions (Go has no unions;
// at most one of these is meaningful per instruction, driven by the opcode's
// descriptor row).
type Instruction struct {
	Opcode Opcode

	Op1        uint64
	Op1Label   string  // MOV_FNC: subprogram entry label
	Op1Decimal float64 // MOV_DECIMAL: source bit pattern, interpreted as a double
	Op1String  string  // MOV_STRING: literal text to register at runtime

	Op2 uint64

	Dest      uint64
	DestLabel string // JMP/JMP_TRUE/JMP_FALSE: branch target label

	// LabelName is set only on pseudo-instructions with Opcode == Label; it
	// names the anchor that addInstructionAt/label resolution matches against.
	LabelName string

	Comment string
}

func newInstruction(op Opcode) *Instruction {
	return &Instruction{Opcode: op}
}

func (i *Instruction) withOp1(v uint64) *Instruction {
	i.Op1 = v
	return i
}

func (i *Instruction) withOp1Label(label string) *Instruction {
	i.Op1Label = label
	return i
}

func (i *Instruction) withOp1Decimal(v float64) *Instruction {
	i.Op1Decimal = v
	return i
}

func (i *Instruction) withOp1String(s string) *Instruction {
	i.Op1String = s
	return i
}

func (i *Instruction) withOp2(v uint64) *Instruction {
	i.Op2 = v
	return i
}

func (i *Instruction) withDest(v uint64) *Instruction {
	i.Dest = v
	return i
}

func (i *Instruction) withDestLabel(label string) *Instruction {
	i.DestLabel = label
	return i
}

func (i *Instruction) withComment(c string) *Instruction {
	i.Comment = c
	return i
}

func (i *Instruction) String() string {
	var b strings.Builder
	b.WriteString(i.Opcode.String())

	d, _ := i.Opcode.descriptor()
	if d.Op1Type != Unused {
		switch {
		case i.Op1Label != "":
			fmt.Fprintf(&b, " %s", i.Op1Label)
		case d.Op1Type == ImmDecimal:
			fmt.Fprintf(&b, " %v", i.Op1Decimal)
		case d.Op1Type == ImmString:
			fmt.Fprintf(&b, " %q", i.Op1String)
		default:
			fmt.Fprintf(&b, " %d", i.Op1)
		}
	}
	if d.Op2Type != Unused {
		fmt.Fprintf(&b, " %d", i.Op2)
	}
	if d.DestType != Unused {
		if i.DestLabel != "" {
			fmt.Fprintf(&b, " %s", i.DestLabel)
		} else {
			fmt.Fprintf(&b, " %d", i.Dest)
		}
	}
	if i.Comment != "" {
		fmt.Fprintf(&b, " # %s", i.Comment)
	}
	return b.String()
}

// Program is an ordered sequence of instructions interleaved with symbolic
// labels. Labels are never executed; they resolve to the index of the
// instruction immediately following them.
type Program struct {
	instructions []*Instruction
}

// NewProgram returns an empty program.
func NewProgram() *Program {
	return &Program{}
}

// AddInstruction appends instr at the end of the program.
func (p *Program) AddInstruction(instr *Instruction) {
	p.instructions = append(p.instructions, instr)
}

// AddLabel appends a label anchor named name.
func (p *Program) AddLabel(name string) {
	p.instructions = append(p.instructions, &Instruction{Opcode: Label, LabelName: name})
}

// AddInstructionAt inserts instr immediately after the first instruction
// whose LabelName equals label. If no such label exists, this is a silent
// no-op, mirroring the reference implementation's addInstructionAt exactly
// (per §4.1, implementers must not "fix" this into an error).
func (p *Program) AddInstructionAt(instr *Instruction, label string) {
	for idx, existing := range p.instructions {
		if existing.Opcode == Label && existing.LabelName == label {
			at := idx + 1
			p.instructions = append(p.instructions[:at:at], append([]*Instruction{instr}, p.instructions[at:]...)...)
			return
		}
	}
}

// Merge appends another program's instructions after this program's, used to
// fold function-literal subprograms back into one emission stream (C3 rule 8).
func (p *Program) Merge(other *Program) {
	p.instructions = append(p.instructions, other.instructions...)
}

// labelPositions maps each label name to the index (within the non-label
// instruction stream) of the instruction that follows it.
func (p *Program) labelPositions() map[string]uint64 {
	positions := make(map[string]uint64)
	var i uint64
	for _, instr := range p.instructions {
		if instr.Opcode == Label {
			positions[instr.LabelName] = i
			continue
		}
		i++
	}
	return positions
}

// ResolvedInstructions returns the non-label instructions in order, with
// every IMM_ADDRESS operand (MOV_FNC's op1, jump destinations) resolved from
// its label name to an absolute instruction index. This is the form actually
// consumed by the interpreter and the JIT; unresolved label names are a
// warning-and-zero per §7, not a panic, matching the reference's silent
// behavior while still surfacing the condition through the logger.
func (p *Program) ResolvedInstructions() []*Instruction {
	positions := p.labelPositions()
	out := make([]*Instruction, 0, len(p.instructions))
	for _, instr := range p.instructions {
		if instr.Opcode == Label {
			continue
		}
		resolved := *instr
		d, _ := instr.Opcode.descriptor()
		if d.Op1Type == ImmAddress && instr.Op1Label != "" {
			resolved.Op1 = resolveLabel(positions, instr.Op1Label)
		}
		if d.DestType == ImmAddress && instr.DestLabel != "" {
			resolved.Dest = resolveLabel(positions, instr.DestLabel)
		}
		out = append(out, &resolved)
	}
	return out
}

func resolveLabel(positions map[string]uint64, label string) uint64 {
	idx, ok := positions[label]
	if !ok {
		Log.Warnf("unresolved label %q at serialization: emitting 0", label)
		return 0
	}
	return idx
}

// Serialize renders the resolved instruction stream as the little-endian
// 64-bit word format named in the external interfaces: one header word (the
// non-label instruction count) followed by that many 4-word records
// (opcode, op1, op2, destination). A MOV_DECIMAL op1 word is the float64
// bit pattern of its operand. A MOV_STRING literal is not carried in the
// word stream: its op1 word is the numeric Op1 field, which a string
// operand leaves at 0, and the text stays in Op1String.
func (p *Program) Serialize() []uint64 {
	resolved := p.ResolvedInstructions()
	words := make([]uint64, 0, 1+4*len(resolved))
	words = append(words, uint64(len(resolved)))
	for _, instr := range resolved {
		words = append(words, uint64(instr.Opcode))
		switch instr.Opcode {
		case MovDecimal:
			words = append(words, math.Float64bits(instr.Op1Decimal))
		default:
			words = append(words, instr.Op1)
		}
		words = append(words, instr.Op2)
		words = append(words, instr.Dest)
	}
	return words
}

// SerializeBytes renders Serialize's word stream as a little-endian byte
// slice, the form a bytecode file or network payload would actually carry.
func (p *Program) SerializeBytes() []byte {
	words := p.Serialize()
	out := make([]byte, 8*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint64(out[i*8:], w)
	}
	return out
}

func (p *Program) String() string {
	var b strings.Builder
	n := 0
	for _, instr := range p.instructions {
		if instr.Opcode == Label {
			fmt.Fprintf(&b, "%s:\n", instr.LabelName)
			continue
		}
		fmt.Fprintf(&b, "%4d: %s\n", n, instr.String())
		n++
	}
	return b.String()
}
