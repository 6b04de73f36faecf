package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleBasicProgram(t *testing.T) {
	src := []string{
		"mov_int 5 0",
		"mov_int 7 1",
		"add_int 0 1 2",
		"ret 2",
	}
	p, err := Assemble(src)
	require.NoError(t, err)

	resolved := p.ResolvedInstructions()
	require.Len(t, resolved, 4)
	assert.Equal(t, MovInt, resolved[0].Opcode)
	assert.Equal(t, uint64(5), resolved[0].Op1)
	assert.Equal(t, uint64(0), resolved[0].Dest)
	assert.Equal(t, AddInt, resolved[2].Opcode)
}

func TestAssembleLabelsAndJumps(t *testing.T) {
	src := []string{
		"loop:",
		"mov_int 1 0",
		"jmp loop",
	}
	p, err := Assemble(src)
	require.NoError(t, err)

	resolved := p.ResolvedInstructions()
	require.Len(t, resolved, 2)
	assert.Equal(t, uint64(0), resolved[1].Dest)
}

func TestAssembleCommentsAndBlankLinesIgnored(t *testing.T) {
	src := []string{
		"// a comment",
		"",
		"   ",
		"ret 0 // trailing comment",
	}
	p, err := Assemble(src)
	require.NoError(t, err)
	assert.Len(t, p.ResolvedInstructions(), 1)
}

func TestAssembleQuotedStringOperand(t *testing.T) {
	src := []string{`mov_string "hello world" 0`}
	p, err := Assemble(src)
	require.NoError(t, err)
	resolved := p.ResolvedInstructions()
	require.Len(t, resolved, 1)
	assert.Equal(t, "hello world", resolved[0].Op1String)
}

func TestAssembleEscapeSequences(t *testing.T) {
	src := []string{`mov_string "line\n" 0`}
	p, err := Assemble(src)
	require.NoError(t, err)
	assert.Equal(t, "line\n", p.ResolvedInstructions()[0].Op1String)
}

func TestAssembleUnknownMnemonicErrors(t *testing.T) {
	_, err := Assemble([]string{"not_a_real_opcode 1 2 3"})
	assert.Error(t, err)
}

func TestAssembleInvalidLabelErrors(t *testing.T) {
	_, err := Assemble([]string{"has space:"})
	assert.Error(t, err)
}

func TestAssembleMissingOperandErrors(t *testing.T) {
	_, err := Assemble([]string{"add_int 1 2"})
	assert.Error(t, err)
}

func TestAssembleNegativeAndHexImmediates(t *testing.T) {
	src := []string{"mov_int -1 0", "mov_int 0xFF 1"}
	p, err := Assemble(src)
	require.NoError(t, err)
	resolved := p.ResolvedInstructions()
	assert.Equal(t, uint64(0xFFFFFFFFFFFFFFFF), resolved[0].Op1)
	assert.Equal(t, uint64(0xFF), resolved[1].Op1)
}

func TestDisassembleProducesOneLinePerInstruction(t *testing.T) {
	p, err := Assemble([]string{"mov_int 5 0", "ret 0"})
	require.NoError(t, err)
	out := Disassemble(p)
	assert.Contains(t, out, "mov_int")
	assert.Contains(t, out, "ret")
}
