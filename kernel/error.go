package kernel

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure. This requirement stems
// from the fact that the Go allocator is not available to us so we cannot use
// errors.New.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string

	// Code is the negative value handed back to user code when this error
	// terminates a system call.
	Code int
}

// Error implements the error interface.
func (err *Error) Error() string {
	return "[" + err.Module + "] " + err.Message
}

// CodeOf returns the system call return value for err: 0 for nil errors and
// -1 for errors that do not carry a specific code.
func CodeOf(err *Error) int {
	switch {
	case err == nil:
		return 0
	case err.Code == 0:
		return -1
	default:
		return err.Code
	}
}
