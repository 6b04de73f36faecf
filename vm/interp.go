package vm

import (
	"bufio"
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// recoverSegfault converts an unrecovered Go panic (out-of-range slot index,
// nil activation ancestor walk past the root, and the like) into the same
// errSegmentationFault the reference source raises for its own invalid
// memory accesses, so a malformed program fails the same way regardless of
// which dispatch strategy ran it.
func (vm *VM) recoverSegfault() {
	if r := recover(); r != nil {
		if vm.errcode == nil {
			vm.errcode = fatalf(errSegmentationFault, "recovered panic at pc=%d: %v", vm.pc, r)
		}
		vm.halted = true
	}
}

// Run executes the resolved program to completion using the threaded
// interpreter (C6): a tight loop indexing into handlerTable, one Go function
// call per instruction, with the garbage collector disabled for the
// duration the way the teacher's RunProgram does. Heap activations, strings
// and function references are still allocated as the program runs. A
// recovered panic is returned as errSegmentationFault.
func (vm *VM) Run() (err error) {
	defer func() {
		if err == nil && vm.errcode != nil && vm.errcode != errProgramFinished && vm.errcode != errSystemShutdown {
			err = vm.errcode
		}
	}()
	defer vm.recoverSegfault()

	gcPercent := currentGCPercent()
	debug.SetGCPercent(-1)
	defer debug.SetGCPercent(gcPercent)

	for !vm.halted {
		vm.step()
	}

	if vm.errcode == errProgramFinished || vm.errcode == errSystemShutdown {
		return nil
	}
	return vm.errcode
}

// Step executes exactly one instruction, for the debug CLI's single-step
// command. It does not touch the GC percent, since debugging sessions are
// not performance sensitive.
func (vm *VM) Step() error {
	defer vm.recoverSegfault()
	if vm.halted {
		return vm.errcode
	}
	vm.step()
	if vm.errcode == errProgramFinished || vm.errcode == errSystemShutdown {
		return nil
	}
	return vm.errcode
}

func (vm *VM) step() {
	if vm.pc < 0 || vm.pc >= len(vm.program) {
		vm.errcode = errProgramFinished
		vm.halted = true
		return
	}
	instr := vm.program[vm.pc]
	if Log.IsLevelEnabled(logrus.TraceLevel) {
		Log.Tracef("pc=%d %s", vm.pc, instr.String())
	}
	h := handlerTable[instr.Opcode]
	if h == nil {
		vm.errcode = fatalf(errUnknownInstruction, "opcode %s at pc=%d", instr.Opcode, vm.pc)
		vm.halted = true
		return
	}
	// The jump-taken word handlers return exists for the JIT's
	// compare-then-branch peephole (C7); the threaded interpreter already
	// has vm.pc updated by the handler itself and has no use for it.
	_ = h(vm, instr)
}

func currentGCPercent() int {
	key, ok := os.LookupEnv("GOGC")
	if !ok {
		return 100
	}
	percent, err := strconv.Atoi(key)
	if err != nil {
		return 100
	}
	return percent
}

// RunDebug is an interactive stepper in the teacher's RunProgramDebugMode
// idiom: n/next to single step, r/run to free-run, b/break <pc> to toggle a
// breakpoint, program to dump the disassembly.
func (vm *VM) RunDebug(disasm string) {
	defer vm.recoverSegfault()

	fmt.Println("commands: n or next, r or run, b or break <pc>, program")
	vm.printState()

	reader := bufio.NewReader(os.Stdin)
	waitForInput := true
	breakpoints := make(map[int]struct{})
	lastBreak := -1

	for !vm.halted {
		line := ""
		if waitForInput {
			fmt.Print("\n-> ")
			line, _ = reader.ReadString('\n')
			line = strings.ToLower(strings.TrimSpace(line))
		} else if _, ok := breakpoints[vm.pc]; ok && lastBreak != vm.pc {
			fmt.Println("breakpoint")
			vm.printState()
			waitForInput = true
			lastBreak = vm.pc
			continue
		}

		switch {
		case !waitForInput || line == "n" || line == "next":
			lastBreak = -1
			if err := vm.Step(); err != nil {
				fmt.Println(err)
				return
			}
			if waitForInput {
				vm.printState()
			}
			if vm.halted {
				return
			}
		case line == "program":
			fmt.Print(disasm)
		case line == "r" || line == "run":
			waitForInput = false
		case strings.HasPrefix(line, "b"):
			fields := strings.Fields(line)
			if len(fields) < 2 {
				fmt.Println("usage: break <pc>")
				continue
			}
			at, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("unknown pc:", err)
				continue
			}
			if _, ok := breakpoints[at]; ok {
				delete(breakpoints, at)
			} else {
				breakpoints[at] = struct{}{}
			}
		}
	}
}

func (vm *VM) printState() {
	fmt.Printf("pc=%d sp=%d callDepth=%d\n", vm.pc, vm.sp, vm.callDepth)
	if vm.pc >= 0 && vm.pc < len(vm.program) {
		fmt.Printf("next: %s\n", vm.program[vm.pc].String())
	}
}
