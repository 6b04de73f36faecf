package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgramLabelResolution(t *testing.T) {
	p := NewProgram()
	p.AddLabel("loop")
	p.AddInstruction(newInstruction(MovInt).withOp1(1).withDest(0))
	p.AddInstruction(newInstruction(Jmp).withDestLabel("loop"))

	resolved := p.ResolvedInstructions()
	require.Len(t, resolved, 2)
	assert.Equal(t, uint64(0), resolved[1].Dest)
}

func TestProgramUnresolvedLabelWarnsAndZeros(t *testing.T) {
	p := NewProgram()
	p.AddInstruction(newInstruction(Jmp).withDestLabel("nowhere"))
	resolved := p.ResolvedInstructions()
	require.Len(t, resolved, 1)
	assert.Equal(t, uint64(0), resolved[0].Dest)
}

func TestProgramAddInstructionAtMissingLabelIsNoop(t *testing.T) {
	p := NewProgram()
	p.AddInstruction(newInstruction(Ret).withDest(0))
	before := len(p.instructions)
	p.AddInstructionAt(newInstruction(Ret).withDest(0), "nosuchlabel")
	assert.Equal(t, before, len(p.instructions))
}

func TestProgramAddInstructionAtInsertsAfterLabel(t *testing.T) {
	p := NewProgram()
	p.AddLabel("entry")
	p.AddInstruction(newInstruction(Ret).withDest(0))
	p.AddInstructionAt(newInstruction(FnEnterStack).withOp1(3), "entry")

	resolved := p.ResolvedInstructions()
	require.Len(t, resolved, 2)
	assert.Equal(t, FnEnterStack, resolved[0].Opcode)
	assert.Equal(t, Ret, resolved[1].Opcode)
}

func TestProgramMerge(t *testing.T) {
	a := NewProgram()
	a.AddInstruction(newInstruction(MovInt).withOp1(1).withDest(0))
	b := NewProgram()
	b.AddInstruction(newInstruction(Ret).withDest(0))
	a.Merge(b)

	assert.Len(t, a.ResolvedInstructions(), 2)
}

func TestProgramSerializeRoundTripsWordCount(t *testing.T) {
	p := NewProgram()
	p.AddInstruction(newInstruction(MovInt).withOp1(7).withDest(0))
	p.AddInstruction(newInstruction(Ret).withDest(0))

	words := p.Serialize()
	assert.Equal(t, uint64(2), words[0])
	assert.Len(t, words, 1+4*2)
	assert.Len(t, p.SerializeBytes(), 8*len(words))
}
