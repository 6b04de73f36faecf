package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// findByOpcode returns the first instruction of the given opcode, used to
// check the shape of generated code without hard-coding exact slot numbers
// the allocator happens to have picked.
func findByOpcode(t *testing.T, instrs []*Instruction, op Opcode) *Instruction {
	t.Helper()
	for _, in := range instrs {
		if in.Opcode == op {
			return in
		}
	}
	t.Fatalf("no %s instruction found", op)
	return nil
}

func TestGeneratorLeafFunctionUsesStackFrame(t *testing.T) {
	fn := &FuncNode{
		Label: "main",
		Body: []Stmt{
			VarDeclStmt{Slot: 0, Type: TypeInt, Init: IntLiteral{Value: 1}},
			VarDeclStmt{Slot: 1, Type: TypeInt, Init: IntLiteral{Value: 2}},
			ReturnStmt{Expr: BinaryExpr{Op: "+", Left: Ident{Index: 0}, Right: Ident{Index: 1}, ResultType: TypeInt}},
		},
	}

	p := NewGenerator().Generate(fn)
	resolved := p.ResolvedInstructions()
	require.NotEmpty(t, resolved)

	enter := findByOpcode(t, resolved, FnEnterStack)
	assert.GreaterOrEqual(t, enter.Op1, uint64(2), "frame must hold at least the two declared slots")

	add := findByOpcode(t, resolved, AddInt)
	require.NotNil(t, add)

	ret := findByOpcode(t, resolved, Ret)
	assert.Equal(t, ret.Dest, add.Dest, "return should read the value the addition just wrote")
}

func TestGeneratorNestedFuncLiteralForcesHeapFrame(t *testing.T) {
	inner := &FuncNode{
		Label: "inner",
		Body:  []Stmt{ReturnStmt{Expr: IntLiteral{Value: 9}}},
	}
	outer := &FuncNode{
		Label: "outer",
		Body: []Stmt{
			VarDeclStmt{Slot: 0, Type: TypeFunction, Init: FuncLiteral{Func: inner}},
			ReturnStmt{Expr: nil},
		},
	}

	p := NewGenerator().Generate(outer)
	resolved := p.ResolvedInstructions()

	outerEnter := findByOpcode(t, resolved, FnEnterHeap)
	assert.NotNil(t, outerEnter, "a function whose body captures a nested literal can't live on the stack-carved activation")

	movFnc := findByOpcode(t, resolved, MovFnc)
	assert.Equal(t, uint64(0), movFnc.Dest)

	innerEnter := findByOpcode(t, resolved, FnEnterStack)
	assert.NotNil(t, innerEnter, "the leaf nested function still gets the cheaper stack frame")
}

func TestGeneratorIdentDepthZeroIsFree(t *testing.T) {
	g := NewGenerator()
	fn := &FuncNode{Label: "f"}
	g.fnStack = append(g.fnStack, fn)
	g.progStack = append(g.progStack, NewProgram())

	slot := g.visitExpression(Ident{Depth: 0, Index: 3}, 7)
	assert.Equal(t, uint64(3), slot, "a depth-0 identifier is already resident; it must not emit a GET_IN_PARENT or move")
	assert.Empty(t, g.currentProgram().instructions)
}

func TestGeneratorIdentNonZeroDepthEmitsGetInParent(t *testing.T) {
	g := NewGenerator()
	fn := &FuncNode{Label: "f"}
	g.fnStack = append(g.fnStack, fn)
	g.progStack = append(g.progStack, NewProgram())

	slot := g.visitExpression(Ident{Depth: 2, Index: 1}, 5)
	assert.Equal(t, uint64(5), slot)

	instrs := g.currentProgram().instructions
	require.Len(t, instrs, 1)
	assert.Equal(t, GetInParent, instrs[0].Opcode)
	assert.Equal(t, uint64(2), instrs[0].Op1)
	assert.Equal(t, uint64(1), instrs[0].Op2)
}

func TestGeneratorImplicitIntToDecimalCast(t *testing.T) {
	// the cast fires when the initializer's own result type disagrees with
	// the declared type; here the disagreement comes from a typed
	// sub-expression, an int-typed addition stored into a decimal slot.
	fn := &FuncNode{
		Label: "f",
		Body: []Stmt{
			VarDeclStmt{
				Slot: 0,
				Type: TypeDecimal,
				Init: BinaryExpr{Op: "+", Left: IntLiteral{Value: 1}, Right: IntLiteral{Value: 2}, ResultType: TypeInt},
			},
			ReturnStmt{Expr: nil},
		},
	}
	p := NewGenerator().Generate(fn)
	resolved := p.ResolvedInstructions()
	cast := findByOpcode(t, resolved, CastDecimal)
	assert.Equal(t, uint64(0), cast.Dest)
}

func TestTempAllocatorReusesReleasedSlots(t *testing.T) {
	fn := &FuncNode{Label: "f"}
	temps := newTempAllocator(fn)

	a := temps.alloc()
	b := temps.alloc()
	require.NotEqual(t, a, b)

	temps.release(a)
	c := temps.alloc()
	assert.Equal(t, a, c, "a released temp should be handed back out before growing the frame")
}
