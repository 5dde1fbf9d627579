package proc

import (
	"testing"

	"github.com/zjuxlh1993/15410-1/kernel/maps"
)

func TestStore(t *testing.T) {
	for _, impl := range []string{maps.ImplXSync, maps.ImplCornelk} {
		t.Run(impl, func(t *testing.T) {
			pool, _ := NewStackPool(4, 1)
			store := NewStore(impl, pool, 2, 2)

			tid, err := store.NextTID()
			if err != nil {
				t.Fatal(err)
			}
			if tid != 1 {
				t.Fatalf("expected first tid to be 1; got %d", tid)
			}

			stack, _ := store.Stacks.Acquire()
			store.InsertThread(NewTCB(tid, 1, stack))

			tcb, ok := store.Thread(tid)
			if !ok || tcb.TID != tid || tcb.ESP != stack.Top() || tcb.State != Runnable {
				t.Fatalf("unexpected thread lookup result: %+v, %t", tcb, ok)
			}

			second, _ := store.NextTID()
			if second != 2 {
				t.Fatalf("expected tid 2; got %d", second)
			}
			store.InsertThread(NewTCB(second, 1, stack))

			if _, err = store.NextTID(); err != errTooManyThreads {
				t.Fatalf("expected errTooManyThreads; got %v", err)
			}

			store.RemoveThread(tid)
			if _, ok = store.Thread(tid); ok {
				t.Fatal("expected removed thread to be gone")
			}
			if exp, got := 1, store.ThreadCount(); got != exp {
				t.Fatalf("expected %d threads; got %d", exp, got)
			}

			pid, err := store.NextPID()
			if err != nil {
				t.Fatal(err)
			}
			pcb := NewPCB(pid, NoPID, nil)
			pcb.AddThread(second)
			store.InsertProcess(pcb)

			other, _ := store.NextPID()
			store.InsertProcess(NewPCB(other, pid, nil))
			if _, err = store.NextPID(); err != errTooManyProcesses {
				t.Fatalf("expected errTooManyProcesses; got %v", err)
			}

			var children int
			store.RangeProcesses(func(p *PCB) bool {
				if p.ParentPID == pid {
					children++
				}
				return true
			})
			if children != 1 {
				t.Fatalf("expected 1 child of pid %d; got %d", pid, children)
			}

			store.RemoveProcess(other)
			if exp, got := 1, store.ProcessCount(); got != exp {
				t.Fatalf("expected %d processes; got %d", exp, got)
			}

			var states []RunState
			store.RangeThreads(func(t *TCB) bool {
				states = append(states, t.State)
				return true
			})
			if len(states) != 1 || states[0] != Runnable {
				t.Fatalf("expected a single runnable thread; got %v", states)
			}
		})
	}
}

func TestNextTIDSkipsLiveIDs(t *testing.T) {
	pool, _ := NewStackPool(1, 1)
	store := NewStore(maps.ImplXSync, pool, 8, 8)
	stack, _ := pool.Acquire()

	store.InsertThread(NewTCB(2, 1, stack))
	store.lastTID = 1
	if tid, _ := store.NextTID(); tid != 3 {
		t.Fatalf("expected live tid 2 to be skipped; got %d", tid)
	}

	store.lastTID = 1<<31 - 1
	if tid, _ := store.NextTID(); tid != 1 {
		t.Fatalf("expected tid allocation to wrap to 1; got %d", tid)
	}
}

func TestInsertKernel(t *testing.T) {
	pool, _ := NewStackPool(3, 1)
	store := NewStore(maps.ImplXSync, pool, 1, 1)
	idleStack, _ := pool.Acquire()

	idle := store.InsertKernel(idleStack)
	if idle.TID != IdleTID || idle.PID != KernelPID || idle.State != Blocked {
		t.Fatalf("expected a blocked idle thread owned by the kernel process; got %+v", idle)
	}
	if again := store.InsertKernel(idleStack); again != idle {
		t.Fatal("expected a second InsertKernel call to return the existing idle thread")
	}

	if got, ok := store.Thread(IdleTID); !ok || got != idle {
		t.Fatal("expected the idle thread to be in the store")
	}
	kernelPCB, ok := store.Process(KernelPID)
	if !ok || kernelPCB.AddressSpace != nil || kernelPCB.ParentPID != NoPID || !kernelPCB.HasThread(IdleTID) {
		t.Fatalf("unexpected kernel process: %+v, %t", kernelPCB, ok)
	}

	if exp, got := 0, store.ThreadCount(); got != exp {
		t.Fatalf("expected %d threads; got %d", exp, got)
	}
	if exp, got := 0, store.ProcessCount(); got != exp {
		t.Fatalf("expected %d processes; got %d", exp, got)
	}

	// a limit of one still leaves room for one user thread and process
	tid, err := store.NextTID()
	if err != nil || tid == IdleTID {
		t.Fatalf("expected a non-reserved tid; got %d, %v", tid, err)
	}
	stack, _ := pool.Acquire()
	store.InsertThread(NewTCB(tid, 1, stack))
	if _, err = store.NextTID(); err != errTooManyThreads {
		t.Fatalf("expected errTooManyThreads; got %v", err)
	}

	pid, err := store.NextPID()
	if err != nil || pid == KernelPID {
		t.Fatalf("expected a non-reserved pid; got %d, %v", pid, err)
	}
	store.InsertProcess(NewPCB(pid, NoPID, nil))
	if _, err = store.NextPID(); err != errTooManyProcesses {
		t.Fatalf("expected errTooManyProcesses; got %v", err)
	}

	store.lastTID = 1<<31 - 1
	store.RemoveThread(tid)
	if tid, _ = store.NextTID(); tid != 1 {
		t.Fatalf("expected tid allocation to wrap past the idle tid to 1; got %d", tid)
	}
}

func TestPCB(t *testing.T) {
	pcb := NewPCB(3, 1, nil)
	pcb.AddThread(5)
	pcb.AddThread(6)

	if !pcb.HasThread(5) || pcb.ThreadCount() != 2 {
		t.Fatal("expected two member threads")
	}
	if left := pcb.RemoveThread(5); left != 1 {
		t.Fatalf("expected 1 thread left; got %d", left)
	}

	if _, ok := pcb.PopZombie(); ok {
		t.Fatal("expected no zombies")
	}
	pcb.Zombies = append(pcb.Zombies, ExitRecord{PID: 7, Status: 1}, ExitRecord{PID: 8, Status: 2})
	if rec, _ := pcb.PopZombie(); rec.PID != 7 {
		t.Fatalf("expected the oldest zombie (pid 7); got %d", rec.PID)
	}

	var woken TID
	pcb.Waiters = append(pcb.Waiters, Waiter{TID: 6, Wake: func() { woken = 6 }})
	w, ok := pcb.PopWaiter()
	if !ok {
		t.Fatal("expected a waiter")
	}
	w.Wake()
	if woken != 6 {
		t.Fatalf("expected waiter 6 to be woken; got %d", woken)
	}
}

func TestRunStateString(t *testing.T) {
	specs := []struct {
		state RunState
		exp   string
	}{
		{Runnable, "runnable"},
		{Running, "running"},
		{Blocked, "blocked"},
		{Zombie, "zombie"},
		{RunState(42), "unknown"},
	}

	for _, spec := range specs {
		if got := spec.state.String(); got != spec.exp {
			t.Errorf("expected %q; got %q", spec.exp, got)
		}
	}
}
