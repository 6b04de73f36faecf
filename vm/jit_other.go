//go:build !amd64

package vm

import "github.com/pkg/errors"

// BaselineJIT is the non-amd64 stand-in: NewBaselineJIT always fails here,
// so callers (cmd/zvm's --engine flag) fall back to the threaded interpreter
// (C6) on any architecture the hand-written x86-64 codegen in jit_amd64.go
// doesn't target.
type BaselineJIT struct{}

func NewBaselineJIT(instrs []*Instruction) (*BaselineJIT, error) {
	return nil, errors.New("baseline JIT is only available on amd64")
}

func (j *BaselineJIT) Run(vm *VM) error {
	return errors.New("baseline JIT is only available on amd64")
}
