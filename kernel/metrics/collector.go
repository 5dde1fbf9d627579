// Package metrics exports kernel counters to prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zjuxlh1993/15410-1/kernel/sched"
	"github.com/zjuxlh1993/15410-1/kernel/syscall"
	"github.com/zjuxlh1993/15410-1/kernel/task"
)

const namespace = "gopherkern"

// Memory reports physical memory usage.
type Memory interface {
	FreeFrames() uint32
	TotalFrames() uint32
}

// Counts reports the number of live control blocks.
type Counts interface {
	ThreadCount() int
	ProcessCount() int
}

// Interrupts reports hardware interrupt delivery.
type Interrupts interface {
	Delivered() uint64
}

// Sources are the kernel components scraped by the collector. Every source
// must be safe to read from a goroutine that does not own the CPU.
type Sources struct {
	Sched      func() sched.Stats
	Tasks      func() task.Stats
	Syscalls   func() syscall.Stats
	Counts     Counts
	Memory     Memory
	Interrupts Interrupts
}

// KernelCollector implements prometheus.Collector for the kernel counters.
type KernelCollector struct {
	src Sources

	contextSwitchesDesc *prometheus.Desc
	preemptionsDesc     *prometheus.Desc
	ticksDesc           *prometheus.Desc
	yieldsDesc          *prometheus.Desc
	blocksDesc          *prometheus.Desc
	wakeupsDesc         *prometheus.Desc
	runQueueDesc        *prometheus.Desc

	forksDesc       *prometheus.Desc
	threadForksDesc *prometheus.Desc
	exitsDesc       *prometheus.Desc

	syscallsDesc *prometheus.Desc
	faultsDesc   *prometheus.Desc
	execsDesc    *prometheus.Desc

	threadsDesc    *prometheus.Desc
	processesDesc  *prometheus.Desc
	freeFramesDesc *prometheus.Desc
	framesDesc     *prometheus.Desc
	interruptsDesc *prometheus.Desc
}

// NewKernelCollector creates a collector reading from src.
func NewKernelCollector(src Sources) *KernelCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}

	return &KernelCollector{
		src: src,

		contextSwitchesDesc: desc("context_switches_total", "Number of context switches."),
		preemptionsDesc:     desc("preemptions_total", "Number of threads preempted by the timer."),
		ticksDesc:           desc("timer_ticks_total", "Number of timer interrupts serviced by the scheduler."),
		yieldsDesc:          desc("yields_total", "Number of voluntary yields that switched threads."),
		blocksDesc:          desc("deschedules_total", "Number of threads that blocked in deschedule."),
		wakeupsDesc:         desc("wakeups_total", "Number of blocked threads made runnable."),
		runQueueDesc:        desc("run_queue_length", "Number of runnable threads waiting for the CPU."),

		forksDesc:       desc("forks_total", "Number of processes created by fork."),
		threadForksDesc: desc("thread_forks_total", "Number of threads created by thread_fork."),
		exitsDesc:       desc("thread_exits_total", "Number of threads that vanished."),

		syscallsDesc: desc("syscalls_total", "Number of system calls by name.", "call"),
		faultsDesc:   desc("user_faults_total", "Number of threads killed by invalid memory accesses."),
		execsDesc:    desc("program_loads_total", "Number of programs loaded."),

		threadsDesc:    desc("threads", "Number of live threads."),
		processesDesc:  desc("processes", "Number of live processes."),
		freeFramesDesc: desc("free_frames", "Number of free physical frames."),
		framesDesc:     desc("frames", "Number of physical frames."),
		interruptsDesc: desc("interrupts_delivered_total", "Number of hardware interrupts dispatched to a handler."),
	}
}

// Describe implements prometheus.Collector.
func (c *KernelCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.contextSwitchesDesc
	ch <- c.preemptionsDesc
	ch <- c.ticksDesc
	ch <- c.yieldsDesc
	ch <- c.blocksDesc
	ch <- c.wakeupsDesc
	ch <- c.runQueueDesc
	ch <- c.forksDesc
	ch <- c.threadForksDesc
	ch <- c.exitsDesc
	ch <- c.syscallsDesc
	ch <- c.faultsDesc
	ch <- c.execsDesc
	ch <- c.threadsDesc
	ch <- c.processesDesc
	ch <- c.freeFramesDesc
	ch <- c.framesDesc
	ch <- c.interruptsDesc
}

// Collect implements prometheus.Collector.
func (c *KernelCollector) Collect(ch chan<- prometheus.Metric) {
	counter := func(desc *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(desc *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v)
	}

	if c.src.Sched != nil {
		st := c.src.Sched()
		counter(c.contextSwitchesDesc, st.ContextSwitches)
		counter(c.preemptionsDesc, st.Preemptions)
		counter(c.ticksDesc, st.Ticks)
		counter(c.yieldsDesc, st.Yields)
		counter(c.blocksDesc, st.Blocks)
		counter(c.wakeupsDesc, st.Wakeups)
		gauge(c.runQueueDesc, float64(st.RunQueueLen))
	}

	if c.src.Tasks != nil {
		st := c.src.Tasks()
		counter(c.forksDesc, st.Forks)
		counter(c.threadForksDesc, st.ThreadForks)
		counter(c.exitsDesc, st.Exits)
	}

	if c.src.Syscalls != nil {
		st := c.src.Syscalls()
		for call, n := range st.Calls {
			counter(c.syscallsDesc, n, call)
		}
		counter(c.faultsDesc, st.Faults)
		counter(c.execsDesc, st.Execs)
	}

	if c.src.Counts != nil {
		gauge(c.threadsDesc, float64(c.src.Counts.ThreadCount()))
		gauge(c.processesDesc, float64(c.src.Counts.ProcessCount()))
	}

	if c.src.Memory != nil {
		gauge(c.freeFramesDesc, float64(c.src.Memory.FreeFrames()))
		gauge(c.framesDesc, float64(c.src.Memory.TotalFrames()))
	}

	if c.src.Interrupts != nil {
		counter(c.interruptsDesc, c.src.Interrupts.Delivered())
	}
}
