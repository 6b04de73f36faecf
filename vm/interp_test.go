package vm

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// assert mirrors the reference test suite's minimal helper rather than
// pulling testify into end-to-end scenarios that read as short assembly
// programs - the low-level unit tests elsewhere in this package use
// testify directly, but these are closer in spirit to the hand-rolled
// checks a VM's own test suite writes against its instruction set.
func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

// compileAndRun assembles source, runs it against the threaded interpreter
// with stdout captured, and returns the VM (for inspecting errcode) plus
// whatever it printed.
func compileAndRun(t *testing.T, source ...string) (*VM, string) {
	t.Helper()
	program, err := Assemble(source)
	assert(t, err == nil, "assemble failed: %v", err)

	var out bytes.Buffer
	machine := NewVMWithIO(program, &out, strings.NewReader(""))
	runErr := machine.Run()
	assert(t, runErr == nil, "run failed: %v", runErr)
	return machine, out.String()
}

func runAndEnsureSpecificShutdown(t *testing.T, machine *VM, want error) {
	t.Helper()
	assert(t, errors.Is(machine.errcode, want), "expected errcode wrapping %v, got %v", want, machine.errcode)
}

var arithmeticAndPrintTest = []string{
	"fn_enter_stack 6",
	"mov_int 5 0",
	"mov_int 7 1",
	"add_int 0 1 2",
	"push 2",
	"mov_int 0 3", // native index 0 == print
	"call_native 3 0 4",
	"ret 4",
}

func TestInterpreterArithmeticAndPrint(t *testing.T) {
	_, out := compileAndRun(t, arithmeticAndPrintTest...)
	assert(t, out == "12\n", "expected printed output %q, got %q", "12\n", out)
}

var callAndArgReadTest = []string{
	"fn_enter_stack 6",
	"mov_fnc add_fn 0",
	"mov_int 3 1",
	"mov_int 4 2",
	"push 1",
	"push 2",
	"call 0 2 3",
	"push 3",
	"mov_int 0 4",
	"call_native 4 0 5",
	"ret 5",

	"add_fn:",
	"fn_enter_stack 3",
	"arg_read 0 0",
	"arg_read 1 1",
	"add_int 0 1 2",
	"ret 2",
}

func TestInterpreterCallAndArgRead(t *testing.T) {
	_, out := compileAndRun(t, callAndArgReadTest...)
	assert(t, out == "7\n", "expected printed output %q, got %q", "7\n", out)
}

var conditionalBranchTest = []string{
	"fn_enter_stack 6",
	"mov_int 1 0",
	"mov_int 2 1",
	"cmp_lt_int 0 1 2",
	"jmp_true 2 onTrue",
	"mov_int 0 3",
	"jmp after",
	"onTrue:",
	"mov_int 1 3",
	"after:",
	"push 3",
	"mov_int 0 4",
	"call_native 4 0 5",
	"ret 5",
}

func TestInterpreterConditionalBranch(t *testing.T) {
	_, out := compileAndRun(t, conditionalBranchTest...)
	assert(t, out == "1\n", "expected the lt branch to fire, got %q", out)
}

var divByZeroTest = []string{
	"fn_enter_stack 3",
	"mov_int 10 0",
	"mov_int 0 1",
	"div_int 0 1 2",
	"ret 2",
}

func TestInterpreterDivideByZero(t *testing.T) {
	program, err := Assemble(divByZeroTest)
	assert(t, err == nil, "assemble failed: %v", err)

	var out bytes.Buffer
	machine := NewVMWithIO(program, &out, strings.NewReader(""))
	runErr := machine.Run()
	assert(t, runErr != nil, "expected divide-by-zero to surface as a run error")
	runAndEnsureSpecificShutdown(t, machine, errDivideByZero)
}

var nativeShutdownTest = []string{
	"fn_enter_stack 2",
	"mov_int 0 0",
	"mov_int 2 1", // native index 2 == shutdown
	"call_native 1 0 0",
	"ret 0",
}

func TestInterpreterNativeShutdown(t *testing.T) {
	program, err := Assemble(nativeShutdownTest)
	assert(t, err == nil, "assemble failed: %v", err)

	var out bytes.Buffer
	machine := NewVMWithIO(program, &out, strings.NewReader(""))
	runErr := machine.Run()
	assert(t, runErr == nil, "shutdown should report a clean exit, got %v", runErr)
	runAndEnsureSpecificShutdown(t, machine, errSystemShutdown)
}

var stackOverflowTest = []string{
	"fn_enter_stack 1",
	"overflow:",
	"push 0",
	"jmp overflow",
}

func TestInterpreterAuxStackOverflow(t *testing.T) {
	program, err := Assemble(stackOverflowTest)
	assert(t, err == nil, "assemble failed: %v", err)

	var out bytes.Buffer
	machine := NewVMWithIO(program, &out, strings.NewReader(""))
	runErr := machine.Run()
	assert(t, runErr != nil, "expected an aux stack overflow")
	runAndEnsureSpecificShutdown(t, machine, errStackOverflow)
}
