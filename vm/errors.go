package vm

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Sentinel error values for every fatal condition named by the runtime's error
// handling design. Callers compare against these with errors.Is (or the
// teacher's own errcode == sentinel idiom, still valid since errors.Wrap keeps
// the sentinel as the cause) rather than inspecting message text.
var (
	errProgramFinished     = errors.New("program finished")
	errSystemShutdown      = errors.New("system shutdown")
	errStackOverflow       = errors.New("stack overflow")
	errStackUnderflow      = errors.New("stack underflow")
	errSegmentationFault   = errors.New("segmentation fault")
	errIllegalInstruction  = errors.New("illegal instruction")
	errUnknownInstruction  = errors.New("unknown instruction")
	errUnknownNative       = errors.New("unknown native function index")
	errNullCallee          = errors.New("null pointer exception: call to unresolved function reference")
	errAllocationFailed    = errors.New("activation allocation failed")
	errJITEmissionFailed   = errors.New("jit emission failed")
	errJITUnsupportedArch  = errors.New("jit not supported on this architecture")
	errUnresolvedLabel     = errors.New("unresolved label")
	errIO                  = errors.New("i/o error")
	errDivideByZero        = errors.New("divide by zero")
)

// Log is the package-wide structured logger. Every component logs through it
// rather than fmt.Printf, so verbosity and output sink are controlled in one
// place by the CLI (C10).
var Log = logrus.New()

func init() {
	Log.SetLevel(logrus.WarnLevel)
}

// fatalf wraps a sentinel with call-site context and logs it at Error level.
// It returns the wrapped error so callers can store it as vm.errcode without
// losing the sentinel identity (errors.Is(err, sentinel) still succeeds).
func fatalf(sentinel error, format string, args ...interface{}) error {
	wrapped := errors.Wrapf(sentinel, format, args...)
	Log.Error(wrapped)
	return wrapped
}
