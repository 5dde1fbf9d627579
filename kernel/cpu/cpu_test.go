package cpu

import (
	"testing"
	"time"
)

func TestInterruptDelivery(t *testing.T) {
	t.Run("masked until enabled", func(t *testing.T) {
		var (
			c         = New()
			delivered []uint8
		)
		c.SetInterruptHandler(func(line uint8) {
			if c.InterruptsEnabled() {
				t.Error("expected handler to run with interrupts disabled")
			}
			delivered = append(delivered, line)
		})

		c.Raise(3)
		c.Raise(0)
		c.Checkpoint()
		if len(delivered) != 0 {
			t.Fatalf("expected no interrupts to be delivered while masked; got %v", delivered)
		}

		c.EnableInterrupts()
		if exp, got := 2, len(delivered); got != exp {
			t.Fatalf("expected %d deliveries; got %d", exp, got)
		}
		if delivered[0] != 0 || delivered[1] != 3 {
			t.Fatalf("expected lines to be delivered lowest first; got %v", delivered)
		}
		if !c.InterruptsEnabled() {
			t.Fatal("expected interrupt flag to be restored after delivery")
		}
		if got := c.Pending(); got != 0 {
			t.Fatalf("expected no pending lines; got %b", got)
		}
	})

	t.Run("save and restore", func(t *testing.T) {
		c := New()
		c.EnableInterrupts()

		outer := c.SaveAndDisable()
		inner := c.SaveAndDisable()
		if !outer || inner {
			t.Fatalf("expected saved flags (true, false); got (%t, %t)", outer, inner)
		}

		c.Restore(inner)
		if c.InterruptsEnabled() {
			t.Fatal("expected interrupts to remain disabled after inner restore")
		}
		c.Restore(outer)
		if !c.InterruptsEnabled() {
			t.Fatal("expected interrupts to be enabled after outer restore")
		}
	})
}

func TestHalt(t *testing.T) {
	t.Run("wakes on raise", func(t *testing.T) {
		var (
			c      = New()
			gotIRQ = make(chan uint8, 1)
		)
		c.SetInterruptHandler(func(line uint8) { gotIRQ <- line })

		go func() {
			c.EnableInterrupts()
			c.Halt()
		}()

		<-time.After(10 * time.Millisecond)
		c.Raise(0)

		select {
		case line := <-gotIRQ:
			if line != 0 {
				t.Fatalf("expected line 0; got %d", line)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for halted CPU to service interrupt")
		}
	})

	t.Run("shutdown", func(t *testing.T) {
		var (
			c      = New()
			exited = make(chan struct{})
		)

		go func() {
			defer close(exited)
			c.EnableInterrupts()
			c.Halt()
			t.Error("expected Halt not to return after shutdown")
		}()

		c.Shutdown()
		c.Shutdown()

		select {
		case <-exited:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for halted goroutine to exit")
		}
	})
}

func TestRegisters(t *testing.T) {
	c := New()

	c.SetESP0(0xdeadbeef)
	if exp, got := uint32(0xdeadbeef), c.ESP0(); got != exp {
		t.Errorf("expected ESP0 to be %x; got %x", exp, got)
	}

	c.SwitchPDT(0x1000)
	if exp, got := uint32(0x1000), c.ActivePDT(); got != exp {
		t.Errorf("expected active PDT to be %x; got %x", exp, got)
	}
}
