package ksync

import (
	"sync"
	"testing"

	"kernel/arch"
)

func TestSpinlockMutualExclusion(t *testing.T) {
	port := arch.NewRefPort()
	lock := NewSpinlock(port)

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock.Lock()
			counter++
			lock.Unlock()
		}()
	}
	wg.Wait()

	if counter != 64 {
		t.Fatalf("counter = %d, want 64", counter)
	}
}

func TestSpinlockRestoresPriorInterruptState(t *testing.T) {
	port := arch.NewRefPort()
	port.IntrDisable()

	lock := NewSpinlock(port)
	lock.Lock()
	lock.Unlock()

	if port.IntrDisable() {
		t.Fatal("interrupts should still be disabled after an Unlock that restores a disabled state")
	}
}
