package wire

import "fmt"

// Firmware result codes. Zero means accepted; negative values are
// module-specific failures.
const (
	CodeOK                 int32 = 0
	CodeAstroFunctionBusy  int32 = -11501
	CodeAstroNeedGoto      int32 = -11504
	CodeAstroDarksRequired int32 = -11507
	CodeCameraBusy         int32 = -10502
	CodeMasterLockDenied   int32 = -13500
)

// CommandError reports a non-zero firmware result code. The firmware
// rejected a well-formed request; whether the code is retryable is the
// caller's decision.
type CommandError struct {
	Module ModuleID
	Cmd    CommandID
	Code   int32
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return fmt.Sprintf("command %d:%d failed with code %d", e.Module, e.Cmd, e.Code)
}

// IsBusy reports whether the firmware rejected the command because a
// conflicting operation is in flight.
func (e *CommandError) IsBusy() bool {
	return e.Code == CodeAstroFunctionBusy || e.Code == CodeCameraBusy
}
