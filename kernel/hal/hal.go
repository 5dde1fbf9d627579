// Package hal probes the machine's device drivers and links the console to
// the kernel's output path.
package hal

import (
	"github.com/zjuxlh1993/15410-1/device"
	"github.com/zjuxlh1993/15410-1/device/tty"
	"github.com/zjuxlh1993/15410-1/kernel/kfmt"
)

// Devices contains the devices discovered by the HAL.
type Devices struct {
	activeTTY tty.Device

	// activeDrivers tracks all initialized device drivers.
	activeDrivers []device.Driver
}

// DetectHardware probes for hardware devices and initializes the appropriate
// drivers.
func DetectHardware(reg *device.Registry) *Devices {
	devices := &Devices{}
	devices.probe(reg.List())
	return devices
}

// ActiveTTY returns the currently active TTY.
func (d *Devices) ActiveTTY() tty.Device {
	return d.activeTTY
}

// Drivers returns the successfully initialized drivers in probe order.
func (d *Devices) Drivers() []device.Driver {
	return append([]device.Driver(nil), d.activeDrivers...)
}

// Shutdown stops the background work of the active drivers in reverse
// probe order and detaches the console from kfmt.
func (d *Devices) Shutdown() {
	for i := len(d.activeDrivers) - 1; i >= 0; i-- {
		if stopper, ok := d.activeDrivers[i].(device.Stopper); ok {
			stopper.DriverStop()
		}
	}

	if d.activeTTY != nil && kfmt.GetOutputSink() == d.activeTTY {
		kfmt.SetOutputSink(nil)
	}
}

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func (d *Devices) probe(driverInfoList device.DriverInfoList) {
	// a nil Sink sends probe output wherever kfmt.Printf writes, so lines
	// printed before a console exists land in the early boot log
	var w kfmt.PrefixWriter

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		major, minor, patch := drv.DriverVersion()
		w.SetPrefix("[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&w, "initialized\n")
		d.onDriverInit(drv)
		d.activeDrivers = append(d.activeDrivers, drv)
	}
}

// onDriverInit is invoked by probe() whenever a piece of hardware is detected
// and successfully initialized. The first terminal becomes the kfmt output
// sink; anything printed before it was found is replayed into it.
func (d *Devices) onDriverInit(drv device.Driver) {
	term, ok := drv.(tty.Device)
	if !ok || d.activeTTY != nil {
		return
	}

	d.activeTTY = term
	term.SetState(tty.StateActive)
	kfmt.SetOutputSink(term)
}
