package internal

import "testing"

func TestWakeUpCoalescesSignals(t *testing.T) {
	w := NewWakeUp()
	w.Signal()
	w.Signal()
	w.Signal()

	select {
	case <-w.C():
	default:
		t.Fatal("expected a pending wake-up")
	}

	select {
	case <-w.C():
		t.Fatal("expected coalesced signals to produce only one wake-up")
	default:
	}
}

func TestWakeUpSignalNeverBlocks(t *testing.T) {
	w := NewWakeUp()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			w.Signal()
		}
		close(done)
	}()
	<-done
}

func TestWakeUpSignalBeforeReceive(t *testing.T) {
	w := NewWakeUp()
	w.Signal()
	<-w.C()
}
