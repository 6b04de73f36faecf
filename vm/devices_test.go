package vm

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonBlockingChanCapacity(t *testing.T) {
	nc := newNonBlockingChan[int](2)
	require.True(t, nc.send(1))
	require.True(t, nc.send(2))
	assert.False(t, nc.send(3), "a third send should fail fast instead of blocking")

	v, ok := nc.receive()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.True(t, nc.send(3), "draining one slot should free capacity for another send")
}

func TestSystemTimerDeviceTicks(t *testing.T) {
	d := newSystemTimerDevice()
	defer d.close()

	time.Sleep(20 * time.Millisecond)
	assert.Greater(t, d.readTick(), int64(0))
}

func TestSystemTimerDeviceCloseIsIdempotent(t *testing.T) {
	d := newSystemTimerDevice()
	d.close()
	assert.NotPanics(t, func() { d.close() })
}

func TestConsoleIODeviceWriteString(t *testing.T) {
	var out bytes.Buffer
	machine := NewVMWithIO(NewProgram(), &out, strings.NewReader(""))
	defer machine.devices.close()

	machine.devices.console.writeString("hello\n")
	assert.Equal(t, "hello\n", out.String())
}

func TestConsoleIODeviceReadRune(t *testing.T) {
	var out bytes.Buffer
	machine := NewVMWithIO(NewProgram(), &out, strings.NewReader("ab"))
	defer machine.devices.close()

	r, err := machine.devices.console.readRune()
	require.NoError(t, err)
	assert.Equal(t, 'a', r)

	r, err = machine.devices.console.readRune()
	require.NoError(t, err)
	assert.Equal(t, 'b', r)
}

func TestPowerControllerShutdownClosesDevices(t *testing.T) {
	var out bytes.Buffer
	machine := NewVMWithIO(NewProgram(), &out, strings.NewReader(""))

	machine.devices.power.shutdown()
	assert.True(t, machine.devices.console.closed)
	assert.True(t, machine.devices.timer.closed.Load())

	assert.NotPanics(t, func() { machine.devices.close() }, "shutdown's close must be safe to call again from a caller that doesn't know it already ran")
}

// TestPowerControllerRestartReinstallsNatives runs an actual instruction
// sequence after restart rather than inspecting the freshly-reset VM's
// fields directly: the native table is only ever reachable through whatever
// activation FN_ENTER_* builds (see seedNatives), so a test that doesn't run
// at least that far can't catch a seeding regression.
func TestPowerControllerRestartReinstallsNatives(t *testing.T) {
	program, err := Assemble([]string{
		"fn_enter_stack 3",
		"get_in_parent 0 1 0", // depth 0 (self), index 1 (native 0 == print)
		"mov_int 7 1",
		"push 1",
		"call_native 0 0 2",
		"ret 2",
	})
	require.NoError(t, err)

	var out bytes.Buffer
	machine := NewVMWithIO(program, &out, strings.NewReader(""))
	machine.pc = 5
	machine.halted = true
	machine.errcode = errDivideByZero

	machine.devices.power.restart()
	assert.Equal(t, 0, machine.pc)
	assert.False(t, machine.halted)
	assert.NoError(t, machine.errcode)

	runErr := machine.Run()
	require.NoError(t, runErr)
	assert.Equal(t, "7\n", out.String(), "native 0 (print) must still be reachable after restart re-seeds the top-level activation")
}
