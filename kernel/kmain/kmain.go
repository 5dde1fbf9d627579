// Package kmain assembles a machine from its configuration and runs the
// init program on it.
package kmain

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/phuslu/log"
	"github.com/zjuxlh1993/15410-1/device"
	"github.com/zjuxlh1993/15410-1/device/pit"
	"github.com/zjuxlh1993/15410-1/device/tty"
	"github.com/zjuxlh1993/15410-1/kernel"
	"github.com/zjuxlh1993/15410-1/kernel/config"
	"github.com/zjuxlh1993/15410-1/kernel/cpu"
	"github.com/zjuxlh1993/15410-1/kernel/gate"
	"github.com/zjuxlh1993/15410-1/kernel/hal"
	"github.com/zjuxlh1993/15410-1/kernel/irq"
	"github.com/zjuxlh1993/15410-1/kernel/kfmt"
	"github.com/zjuxlh1993/15410-1/kernel/loader"
	"github.com/zjuxlh1993/15410-1/kernel/metrics"
	"github.com/zjuxlh1993/15410-1/kernel/mm"
	"github.com/zjuxlh1993/15410-1/kernel/mm/pmm"
	"github.com/zjuxlh1993/15410-1/kernel/proc"
	"github.com/zjuxlh1993/15410-1/kernel/sched"
	"github.com/zjuxlh1993/15410-1/kernel/syscall"
	"github.com/zjuxlh1993/15410-1/kernel/task"
	"github.com/zjuxlh1993/15410-1/progs"
)

// Machine is a booted kernel waiting to run its init program.
type Machine struct {
	cfg *config.Config
	log *log.Logger

	cpu     *cpu.CPU
	table   gate.Table
	pic     *irq.PIC
	alloc   *pmm.BitmapAllocator
	store   *proc.Store
	sched   *sched.Scheduler
	tasks   *task.Manager
	images  *loader.ImageStore
	kernel  *syscall.Kernel
	devices *hal.Devices
}

// Boot brings up physical memory, the CPU and interrupt controller, the
// control block store, the scheduler, the program loader and the devices.
// Console output is written to console. The calling goroutine becomes the
// root thread; Run may be called from any goroutine afterwards.
func Boot(cfg *config.Config, console io.Writer) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	frames, err := cfg.Machine.ResolveFrames()
	if err != nil {
		return nil, err
	}

	m := &Machine{
		cfg:    cfg,
		log:    kfmt.Logger("kmain"),
		cpu:    cpu.New(),
		images: loader.NewImageStore(),
	}

	kfmt.SetHaltFn(func() {
		m.cpu.Shutdown()
		runtime.Goexit()
	})

	m.alloc = pmm.Init(frames)
	m.pic = irq.NewPIC(m.cpu, &m.table)

	// one extra stack for the idle thread
	pool, kerr := proc.NewStackPool(cfg.Machine.MaxThreads+1, cfg.Machine.KernelStackPages)
	if kerr != nil {
		return nil, kerr
	}

	m.store = proc.NewStore(cfg.Machine.MapImpl, pool, cfg.Machine.MaxThreads, cfg.Machine.MaxProcesses)
	m.sched = sched.New(m.cpu, m.store, cfg.Machine.QuantumTicks)
	m.tasks = task.New(m.cpu, m.sched, m.store)

	name, _, err := cfg.Boot.InitCommand()
	if err != nil {
		return nil, err
	}
	if _, kerr = m.tasks.Bootstrap(name); kerr != nil {
		return nil, kerr
	}

	m.kernel = syscall.New(syscall.Config{
		CPU:            m.cpu,
		Table:          &m.table,
		PIC:            m.pic,
		Sched:          m.sched,
		Tasks:          m.tasks,
		Images:         m.images,
		UserStackPages: cfg.Machine.UserStackPages,
		MapImpl:        cfg.Machine.MapImpl,
	})
	progs.Install(m.kernel, m.images)

	if cfg.Boot.ImageDir != "" {
		count, err := m.images.LoadDir(cfg.Boot.ImageDir)
		if err != nil {
			return nil, err
		}
		m.log.Info().Str("dir", cfg.Boot.ImageDir).Int("images", count).Msg("loaded program images")
	}

	var reg device.Registry
	reg.Register(&device.DriverInfo{Order: device.DetectOrderConsole, Probe: tty.Probe(console)})
	reg.Register(&device.DriverInfo{Order: device.DetectOrderTimer, Probe: pit.Probe(m.cpu, cfg.Machine.TimerHz)})
	m.devices = hal.DetectHardware(&reg)

	m.log.Info().
		Uint32("frames", frames).
		Uint32("free_frames", m.alloc.FreeFrames()).
		Int("max_threads", cfg.Machine.MaxThreads).
		Int("max_processes", cfg.Machine.MaxProcesses).
		Str("map_impl", cfg.Machine.MapImpl).
		Strs("programs", m.kernel.Programs()).
		Msg("machine booted")

	return m, nil
}

// Run execs the configured init command line on the root thread and blocks
// until the machine shuts down or ctx is cancelled.
func (m *Machine) Run(ctx context.Context) error {
	name, argv, err := m.cfg.Boot.InitCommand()
	if err != nil {
		return err
	}

	execErr := make(chan *kernel.Error, 1)
	go func() {
		// Run only returns if init could not be loaded.
		execErr <- m.kernel.Run(name, argv)
		m.cpu.Shutdown()
	}()

	select {
	case <-m.cpu.Done():
	case <-ctx.Done():
		m.log.Info().Msg("shutting down")
		m.cpu.Shutdown()
	}

	m.devices.Shutdown()
	kfmt.SetHaltFn(nil)

	select {
	case err := <-execErr:
		return fmt.Errorf("exec %s: %w", name, err)
	default:
	}

	m.log.Info().Uint64("context_switches", m.sched.Stats().ContextSwitches).Msg("machine halted")
	return nil
}

// Shutdown powers off the machine. It is safe to call from any goroutine.
func (m *Machine) Shutdown() {
	m.cpu.Shutdown()
}

// Done is closed once the machine has powered off.
func (m *Machine) Done() <-chan struct{} {
	return m.cpu.Done()
}

// Programs returns the names of the registered programs.
func (m *Machine) Programs() []string {
	return m.kernel.Programs()
}

// Images returns the image store backing the loader.
func (m *Machine) Images() *loader.ImageStore {
	return m.images
}

// Devices returns the drivers found by the HAL.
func (m *Machine) Devices() *hal.Devices {
	return m.devices
}

// MetricsSources returns the counters exported by the metrics collector.
func (m *Machine) MetricsSources() metrics.Sources {
	return metrics.Sources{
		Sched:      m.sched.Stats,
		Tasks:      m.tasks.Stats,
		Syscalls:   m.kernel.Stats,
		Counts:     m.store,
		Memory:     m.alloc,
		Interrupts: m.pic,
	}
}

// Release hands the machine's physical memory back to the host. The
// machine must be shut down.
func (m *Machine) Release() {
	mm.SetPhysicalMemory(nil)
}
