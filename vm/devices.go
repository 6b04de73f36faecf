package vm

import (
	"sync"
	"sync/atomic"
	"time"
)

// nonBlockingChan is a bounded channel with an explicit in-flight counter so
// a single producer can fail fast instead of blocking the VM's one execution
// thread. Adapted from the teacher's device model; safe with one sender and
// one receiver goroutine, which is all any device here needs.
type nonBlockingChan[T any] struct {
	channel  chan T
	count    atomic.Int32
	capacity int32
}

func newNonBlockingChan[T any](capacity int32) *nonBlockingChan[T] {
	return &nonBlockingChan[T]{channel: make(chan T, capacity), capacity: capacity}
}

func (nc *nonBlockingChan[T]) send(v T) bool {
	if nc.count.Add(1) > nc.capacity {
		nc.count.Add(-1)
		return false
	}
	nc.channel <- v
	return true
}

func (nc *nonBlockingChan[T]) receive() (T, bool) {
	v, ok := <-nc.channel
	if ok {
		nc.count.Add(-1)
	}
	return v, ok
}

func (nc *nonBlockingChan[T]) close() {
	close(nc.channel)
}

// deviceBus groups the hardware-backed natives reachable through
// CALL_NATIVE. It is deliberately quarantined from the VM's single-threaded
// execution discipline: device goroutines only ever talk back through
// bounded channels, and every reply is drained synchronously inside the
// native handler that asked for it, so program order stays the only order
// the interpreter or JIT ever observes.
type deviceBus struct {
	timer   *systemTimerDevice
	power   *powerControllerDevice
	console *consoleIODevice
}

func newDeviceBus(vm *VM) *deviceBus {
	return &deviceBus{
		timer:   newSystemTimerDevice(),
		power:   newPowerControllerDevice(vm),
		console: newConsoleIODevice(vm),
	}
}

func (b *deviceBus) close() {
	b.timer.close()
	b.console.close()
}

// --- system timer ---------------------------------------------------------

// systemTimerDevice runs a background ticker and exposes the accumulated
// tick count to CALL_NATIVE 1, replacing the reference's interrupt-driven
// one-shot timer with a free-running counter since this VM has no interrupt
// table for a handler address to live in.
type systemTimerDevice struct {
	tick   atomic.Int64
	done   chan struct{}
	closed atomic.Bool
}

func newSystemTimerDevice() *systemTimerDevice {
	d := &systemTimerDevice{done: make(chan struct{})}
	go func() {
		t := time.NewTicker(time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				d.tick.Add(1)
			case <-d.done:
				return
			}
		}
	}()
	return d
}

func (d *systemTimerDevice) readTick() int64 {
	return d.tick.Load()
}

func (d *systemTimerDevice) close() {
	if d.closed.CompareAndSwap(false, true) {
		close(d.done)
	}
}

// --- power controller -------------------------------------------------------

// powerControllerDevice answers CALL_NATIVE 2, tearing down the other
// devices' background goroutines before the interpreter loop observes
// errSystemShutdown and halts.
type powerControllerDevice struct {
	vm *VM
}

func newPowerControllerDevice(vm *VM) *powerControllerDevice {
	return &powerControllerDevice{vm: vm}
}

func (d *powerControllerDevice) shutdown() {
	d.vm.devices.close()
}

// restart reinitializes the VM in place. No opcode and no CLI command
// reaches it; the device tests call it directly.
func (d *powerControllerDevice) restart() {
	d.vm.setInitialState()
}

// --- console I/O -------------------------------------------------------------

// consoleIODevice owns the VM's one bufio.Reader over stdin and one
// bufio.Writer over stdout, the single routine in the process allowed to
// touch either. print (native 0) writes through it directly since output
// never blocks; CALL_NATIVE 3 routes through a background goroutine so a
// blocked read doesn't require the VM itself to own blocking I/O state.
type consoleIODevice struct {
	sync.Mutex
	vm       *VM
	requests *nonBlockingChan[chan rune]
	closed   bool
}

func newConsoleIODevice(vm *VM) *consoleIODevice {
	c := &consoleIODevice{vm: vm, requests: newNonBlockingChan[chan rune](32)}
	go func() {
		for {
			reply, ok := c.requests.receive()
			if !ok {
				return
			}
			r, _, err := c.vm.stdin.ReadRune()
			if err != nil {
				close(reply)
				continue
			}
			reply <- r
		}
	}()
	return c
}

func (c *consoleIODevice) writeString(s string) {
	c.Lock()
	defer c.Unlock()
	c.vm.stdout.WriteString(s)
	c.vm.stdout.Flush()
}

func (c *consoleIODevice) readRune() (rune, error) {
	reply := make(chan rune)
	if ok := c.requests.send(reply); !ok {
		return 0, errIO
	}
	r, ok := <-reply
	if !ok {
		return 0, errIO
	}
	return r, nil
}

func (c *consoleIODevice) close() {
	c.Lock()
	defer c.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.requests.close()
}
