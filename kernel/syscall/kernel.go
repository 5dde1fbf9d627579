// Package syscall connects user programs to the kernel. It installs the
// system call and timer handlers into the interrupt descriptor table and
// hands every running program a Thread through which it traps into the
// kernel.
package syscall

import (
	"sort"
	"sync/atomic"

	"github.com/phuslu/log"
	"github.com/zjuxlh1993/15410-1/kernel"
	"github.com/zjuxlh1993/15410-1/kernel/cpu"
	"github.com/zjuxlh1993/15410-1/kernel/gate"
	"github.com/zjuxlh1993/15410-1/kernel/irq"
	"github.com/zjuxlh1993/15410-1/kernel/kfmt"
	"github.com/zjuxlh1993/15410-1/kernel/loader"
	"github.com/zjuxlh1993/15410-1/kernel/maps"
	"github.com/zjuxlh1993/15410-1/kernel/proc"
	"github.com/zjuxlh1993/15410-1/kernel/sched"
	ksync "github.com/zjuxlh1993/15410-1/kernel/sync"
	"github.com/zjuxlh1993/15410-1/kernel/task"
)

var (
	errNoHandle = &kernel.Error{Module: "syscall", Message: "system call from a thread without a user context"}
)

// Program is the entry point of a user program. The value it returns is the
// exit status of the process.
type Program func(th *Thread) int

// Config collects the kernel components the system call layer drives.
type Config struct {
	CPU    *cpu.CPU
	Table  *gate.Table
	PIC    *irq.PIC
	Sched  *sched.Scheduler
	Tasks  *task.Manager
	Images loader.Images

	// UserStackPages is the size of the user stack of loaded programs.
	UserStackPages uint32

	// MapImpl selects the concurrent map backing the thread handle table.
	MapImpl string
}

// Kernel dispatches system calls made by user programs.
type Kernel struct {
	cpu    *cpu.CPU
	table  *gate.Table
	pic    *irq.PIC
	sched  *sched.Scheduler
	tasks  *task.Manager
	loader *loader.Loader
	log    *log.Logger

	programs map[string]Program
	threads  maps.ConcurrentMap[proc.TID, *Thread]

	calls  [256]atomic.Uint64
	faults atomic.Uint64
}

// New builds the system call layer, creates the program loader and installs
// the handlers into cfg.Table.
func New(cfg Config) *Kernel {
	k := &Kernel{
		cpu:      cfg.CPU,
		table:    cfg.Table,
		pic:      cfg.PIC,
		sched:    cfg.Sched,
		tasks:    cfg.Tasks,
		log:      kfmt.Logger("syscall"),
		programs: make(map[string]Program),
		threads:  maps.NewConcurrentMap[proc.TID, *Thread](cfg.MapImpl),
	}

	k.loader = loader.New(cfg.CPU, programImages{cfg.Images, k.programs}, ksync.NewMutex(cfg.Sched, cfg.CPU), cfg.UserStackPages)
	k.loader.SetEnter(k.enter)

	k.table.HandleInterrupt(gate.TimerInt, k.timer)
	for vec, h := range map[gate.InterruptNumber]gate.Handler{
		gate.ForkInt:         k.fork,
		gate.ThreadForkInt:   k.threadFork,
		gate.ExecInt:         k.exec,
		gate.WaitInt:         k.wait,
		gate.YieldInt:        k.yield,
		gate.DescheduleInt:   k.deschedule,
		gate.MakeRunnableInt: k.makeRunnable,
		gate.GetTIDInt:       k.getTID,
		gate.NewPagesInt:     k.newPages,
		gate.RemovePagesInt:  k.removePages,
		gate.PrintInt:        k.print,
		gate.GetTicksInt:     k.getTicks,
		gate.HaltInt:         k.halt,
		gate.SetStatusInt:    k.setStatus,
		gate.VanishInt:       k.vanish,
	} {
		k.table.HandleInterrupt(vec, k.counted(vec, h))
	}

	return k
}

// RegisterProgram binds prog to the image called name. It must be called
// before the image is first executed.
func (k *Kernel) RegisterProgram(name string, prog Program) {
	k.programs[name] = prog
}

// Programs returns the names of the registered programs in sorted order.
func (k *Kernel) Programs() []string {
	names := make([]string, 0, len(k.programs))
	for name := range k.programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Loader returns the program loader.
func (k *Kernel) Loader() *loader.Loader {
	return k.loader
}

// Run loads the program called name into the process of the calling
// thread. It only returns if the program could not be loaded.
func (k *Kernel) Run(name string, argv []string) *kernel.Error {
	tcb, pcb := k.tasks.Current()
	return k.loader.Load(pcb, tcb, name, argv)
}

// Stats is a snapshot of the system call counters.
type Stats struct {
	// Calls maps system call names to the number of times they were made.
	Calls map[string]uint64

	// Faults is the number of threads killed by invalid memory accesses.
	Faults uint64

	// Execs is the number of programs loaded.
	Execs uint64
}

// Stats returns a snapshot of the system call counters.
func (k *Kernel) Stats() Stats {
	st := Stats{
		Calls:  make(map[string]uint64, len(callNames)),
		Faults: k.faults.Load(),
		Execs:  k.loader.Loads(),
	}
	for vec, name := range callNames {
		st.Calls[name] = k.calls[vec].Load()
	}
	return st
}

var callNames = map[gate.InterruptNumber]string{
	gate.ForkInt:         "fork",
	gate.ThreadForkInt:   "thread_fork",
	gate.ExecInt:         "exec",
	gate.WaitInt:         "wait",
	gate.YieldInt:        "yield",
	gate.DescheduleInt:   "deschedule",
	gate.MakeRunnableInt: "make_runnable",
	gate.GetTIDInt:       "gettid",
	gate.NewPagesInt:     "new_pages",
	gate.RemovePagesInt:  "remove_pages",
	gate.PrintInt:        "print",
	gate.GetTicksInt:     "get_ticks",
	gate.HaltInt:         "halt",
	gate.SetStatusInt:    "set_status",
	gate.VanishInt:       "vanish",
}

func (k *Kernel) counted(vec gate.InterruptNumber, h gate.Handler) gate.Handler {
	return func(regs *gate.Registers) {
		k.calls[vec].Add(1)
		h(regs)
	}
}

// programImages hides the images that have no program bound to them from
// the loader.
type programImages struct {
	images   loader.Images
	programs map[string]Program
}

func (p programImages) Has(name string) bool {
	_, ok := p.programs[name]
	return ok && p.images.Has(name)
}

func (p programImages) ReadBytes(name string, offset, length int, buf []byte) int {
	if _, ok := p.programs[name]; !ok {
		return -1
	}
	return p.images.ReadBytes(name, offset, length, buf)
}

// timer services the programmable interval timer.
func (k *Kernel) timer(_ *gate.Registers) {
	k.pic.Acknowledge(irq.TimerLine)
	k.sched.Tick(1)
}

// enter runs the program just loaded by thread. The kernel stack of the
// thread is empty while it runs in user mode.
func (k *Kernel) enter(tcb *proc.TCB, pcb *proc.PCB) {
	tcb.ESP = tcb.Stack.Top()

	th := k.attach(tcb, pcb, nil)
	th.args = th.readArgs()

	k.cpu.EnableInterrupts()
	th.Exit(k.programs[pcb.Image](th))
}

// attach creates the user handle of tcb.
func (k *Kernel) attach(tcb *proc.TCB, pcb *proc.PCB, args []string) *Thread {
	th := &Thread{k: k, tcb: tcb, pcb: pcb, args: args}
	k.threads.Store(tcb.TID, th)
	return th
}

// caller returns the handle of the thread making the current system call.
func (k *Kernel) caller() *Thread {
	th, ok := k.threads.Load(k.sched.Current().TID)
	if !ok {
		kfmt.Panic(errNoHandle)
	}
	return th
}

// startChild returns the code run by a thread created by fork or
// thread_fork. It returns from the copied trap frame with EAX cleared and
// runs body. A non-zero stack replaces the user stack pointer.
func (k *Kernel) startChild(args []string, stack uint32, body func(th *Thread)) func() {
	return func() {
		tcb, pcb := k.tasks.Current()
		regs, esp, err := tcb.Stack.PopFrame(tcb.ESP)
		if err != nil {
			kfmt.Panic(err)
			return
		}

		regs.EAX = 0
		if stack != 0 {
			regs.UserESP = stack
		}
		tcb.Regs, tcb.ESP = regs, esp

		body(k.attach(tcb, pcb, args))
	}
}
