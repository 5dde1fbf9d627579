package syscall

import (
	"runtime"

	"github.com/zjuxlh1993/15410-1/kernel"
	"github.com/zjuxlh1993/15410-1/kernel/gate"
	"github.com/zjuxlh1993/15410-1/kernel/kfmt"
	"github.com/zjuxlh1993/15410-1/kernel/mm"
	"github.com/zjuxlh1993/15410-1/kernel/mm/vmm"
	"github.com/zjuxlh1993/15410-1/kernel/proc"
)

// MaxPrintLen bounds the number of bytes a single print call may write.
const MaxPrintLen = 4096

var (
	errBadRegion  = &kernel.Error{Module: "syscall", Message: "region is not page aligned", Code: -1}
	errRegionUsed = &kernel.Error{Module: "syscall", Message: "region overlaps mapped memory", Code: -2}
	errNoRegion   = &kernel.Error{Module: "syscall", Message: "no region allocated at address", Code: -1}
	errPrintLen   = &kernel.Error{Module: "syscall", Message: "print buffer too long", Code: -1}
)

// ret stores the return value of a system call in EAX.
func ret(regs *gate.Registers, value int32, err *kernel.Error) {
	if err != nil {
		value = int32(kernel.CodeOf(err))
	}
	regs.EAX = uint32(value)
}

// packet reads the words of a system call argument packet.
func packet(as *vmm.AddressSpace, addr uint32, words int) ([]uint32, *kernel.Error) {
	if err := as.CheckUser(addr, uint32(words)*4, false); err != nil {
		return nil, err
	}

	out := make([]uint32, words)
	for i := range out {
		out[i], _ = as.ReadUint32(addr + uint32(i)*4)
	}
	return out, nil
}

func (k *Kernel) fork(regs *gate.Registers) {
	th := k.caller()
	body := th.takeChild()

	tid, err := k.tasks.Fork(*regs, k.startChild(th.args, 0, body))
	ret(regs, int32(tid), err)
}

func (k *Kernel) threadFork(regs *gate.Registers) {
	th := k.caller()
	body := th.takeChild()

	tid, err := k.tasks.ThreadFork(*regs, k.startChild(th.args, regs.ESI, body))
	ret(regs, int32(tid), err)
}

// exec only returns if the new program could not be loaded.
func (k *Kernel) exec(regs *gate.Registers) {
	tcb, pcb := k.tasks.Current()

	args, err := packet(pcb.AddressSpace, regs.ESI, 2)
	if err != nil {
		ret(regs, 0, err)
		return
	}

	err = k.loader.Exec(pcb, tcb, args[0], args[1])
	k.log.Debug().Int32("pid", int32(pcb.PID)).Int("code", kernel.CodeOf(err)).Msg("exec failed")
	ret(regs, 0, err)
}

func (k *Kernel) wait(regs *gate.Registers) {
	_, pcb := k.tasks.Current()

	statusAddr := regs.ESI
	if statusAddr != 0 {
		if err := pcb.AddressSpace.CheckUser(statusAddr, 4, true); err != nil {
			ret(regs, 0, err)
			return
		}
	}

	pid, status, err := k.tasks.Wait()
	if err == nil && statusAddr != 0 {
		err = pcb.AddressSpace.WriteUint32(statusAddr, uint32(int32(status)))
	}
	ret(regs, int32(pid), err)
}

func (k *Kernel) yield(regs *gate.Registers) {
	ret(regs, 0, k.sched.Yield(proc.TID(int32(regs.ESI))))
}

// userFlag is a deschedule flag that lives in user memory.
type userFlag struct {
	as   *vmm.AddressSpace
	addr uint32
}

// Reject implements sched.Flag.
func (f userFlag) Reject() (bool, *kernel.Error) {
	if err := f.as.CheckUser(f.addr, 4, false); err != nil {
		return false, err
	}

	v, err := f.as.ReadUint32(f.addr)
	return v != 0, err
}

func (k *Kernel) deschedule(regs *gate.Registers) {
	_, pcb := k.tasks.Current()
	ret(regs, 0, k.sched.Deschedule(userFlag{as: pcb.AddressSpace, addr: regs.ESI}))
}

func (k *Kernel) makeRunnable(regs *gate.Registers) {
	ret(regs, 0, k.sched.MakeRunnable(proc.TID(int32(regs.ESI))))
}

func (k *Kernel) getTID(regs *gate.Registers) {
	ret(regs, int32(k.tasks.GetTID()), nil)
}

func (k *Kernel) newPages(regs *gate.Registers) {
	enabled := k.cpu.SaveAndDisable()
	defer k.cpu.Restore(enabled)

	_, pcb := k.tasks.Current()
	as := pcb.AddressSpace

	args, err := packet(as, regs.ESI, 2)
	if err != nil {
		ret(regs, 0, err)
		return
	}

	base, length := args[0], args[1]
	if base%mm.PageSize != 0 || length == 0 || length%mm.PageSize != 0 ||
		base < vmm.UserMemStart || uint64(base)+uint64(length) > 1<<32 {
		ret(regs, 0, errBadRegion)
		return
	}

	for addr := uint64(base); addr < uint64(base)+uint64(length); addr += uint64(mm.PageSize) {
		if _, err := as.Translate(uint32(addr)); err == nil {
			ret(regs, 0, errRegionUsed)
			return
		}
	}

	if err = as.AllocatePages(base, length, vmm.FlagRW|vmm.FlagUserAccessible); err != nil {
		ret(regs, 0, err)
		return
	}

	pcb.Regions[base] = length
	ret(regs, 0, nil)
}

func (k *Kernel) removePages(regs *gate.Registers) {
	enabled := k.cpu.SaveAndDisable()
	defer k.cpu.Restore(enabled)

	_, pcb := k.tasks.Current()

	length, ok := pcb.Regions[regs.ESI]
	if !ok {
		ret(regs, 0, errNoRegion)
		return
	}

	delete(pcb.Regions, regs.ESI)
	ret(regs, 0, pcb.AddressSpace.RemovePages(regs.ESI, length))
}

func (k *Kernel) print(regs *gate.Registers) {
	_, pcb := k.tasks.Current()
	as := pcb.AddressSpace

	args, err := packet(as, regs.ESI, 2)
	if err != nil {
		ret(regs, 0, err)
		return
	}

	length, addr := args[0], args[1]
	if length > MaxPrintLen {
		ret(regs, 0, errPrintLen)
		return
	}
	if err = as.CheckUser(addr, length, false); err != nil {
		ret(regs, 0, err)
		return
	}

	buf := make([]byte, length)
	as.Read(addr, buf)
	kfmt.Printf("%s", buf)
	ret(regs, 0, nil)
}

func (k *Kernel) getTicks(regs *gate.Registers) {
	ret(regs, int32(k.sched.Stats().Ticks), nil)
}

// halt powers the machine off.
func (k *Kernel) halt(_ *gate.Registers) {
	k.log.Info().Int32("tid", int32(k.tasks.GetTID())).Msg("halt requested")
	k.cpu.Shutdown()
	runtime.Goexit()
}

func (k *Kernel) setStatus(regs *gate.Registers) {
	k.tasks.SetStatus(int(int32(regs.ESI)))
	ret(regs, 0, nil)
}

func (k *Kernel) vanish(_ *gate.Registers) {
	k.threads.Delete(k.tasks.GetTID())
	k.tasks.Vanish()
}
