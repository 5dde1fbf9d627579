package kfmt

import (
	"runtime"

	"github.com/zjuxlh1993/15410-1/kernel"
)

var (
	// haltFn is invoked by Panic once the panic banner has been printed.
	// The boot code replaces it with a function that powers off the
	// machine; tests replace it to observe the call.
	haltFn = runtime.Goexit

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// SetHaltFn registers the function that Panic calls to stop the system. The
// function should not return.
func SetHaltFn(fn func()) {
	if fn == nil {
		fn = runtime.Goexit
	}
	haltFn = fn
}

// Panic outputs the supplied error (if not nil) to the console and halts the
// system. Calls to Panic never return unless the registered halt function
// returns.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t.Error()}
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
		Logger("kfmt").Error().Str("err_module", err.Module).Msg(err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	haltFn()
}
