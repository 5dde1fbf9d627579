// Package device defines the interfaces shared by the machine's device
// drivers and the registry the HAL probes them from.
package device

import (
	"io"
	"sort"

	"github.com/zjuxlh1993/15410-1/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprintf.
	DriverInit(io.Writer) *kernel.Error
}

// Stopper is implemented by drivers that run background work which must be
// stopped when the machine shuts down.
type Stopper interface {
	DriverStop()
}

// ProbeFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it.
type ProbeFn func() Driver

// DetectOrder specifies when each driver's probe function will be invoked
// by the hal package.
type DetectOrder int8

const (
	// DetectOrderEarly specifies that the driver's probe function should
	// be executed at the beginning of the HW detection phase.
	DetectOrderEarly DetectOrder = -128

	// DetectOrderConsole specifies the probe order of terminal drivers.
	// Drivers probed later can log through the console.
	DetectOrderConsole = -64

	// DetectOrderTimer specifies the probe order of timer drivers.
	DetectOrderTimer = 0

	// DetectOrderLast specifies that the driver's probe function should
	// be executed at the end of the HW detection phase.
	DetectOrderLast = 127
)

// DriverInfo is a driver-defined struct that is passed to Registry.Register.
type DriverInfo struct {
	// Order specifies at which stage of the HW detection phase should
	// this driver's probe function be invoked.
	Order DetectOrder

	// Probe is a function that checks for the presence of a particular
	// piece of hardware and returns back a driver for it.
	Probe ProbeFn
}

// DriverInfoList is a list of registered drivers that implements
// sort.Interface.
type DriverInfoList []*DriverInfo

// Len returns the length of the driver info list.
func (l DriverInfoList) Len() int { return len(l) }

// Swap exchanges 2 elements in the driver info list.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// Less compares 2 elements of the driver info list.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

// Registry collects the drivers available to a machine.
type Registry struct {
	drivers DriverInfoList
}

// Register adds info to the set of drivers probed by the HAL.
func (r *Registry) Register(info *DriverInfo) {
	r.drivers = append(r.drivers, info)
}

// List returns the registered drivers sorted by detect order. Drivers with
// the same order keep their registration order.
func (r *Registry) List() DriverInfoList {
	list := make(DriverInfoList, len(r.drivers))
	copy(list, r.drivers)
	sort.Stable(list)
	return list
}
